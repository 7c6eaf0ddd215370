package loader

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/dslipak/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclens/doclens/internal/ragerr"
)

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("handbook.md"))
	assert.True(t, IsSupported("Report.PDF"))
	assert.True(t, IsSupported("notes.txt"))
	assert.True(t, IsSupported("contract.docx"))
	assert.False(t, IsSupported("image.png"))
	assert.False(t, IsSupported("archive"))
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := Load("slides.pptx", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, ragerr.KindValidation, ragerr.KindOf(err))
}

func TestLoadTextSinglePage(t *testing.T) {
	pages, err := Load("notes.txt", []byte("The backup window is 02:00-04:00 UTC.\r\n\r\nRPO is 15 minutes.\n"))
	require.NoError(t, err)
	require.Len(t, pages, 1)

	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[0].Text, "02:00-04:00")
	assert.NotContains(t, pages[0].Text, "\r", "line endings are normalized")
}

func TestLoadTextEmpty(t *testing.T) {
	_, err := Load("empty.txt", []byte("   \n\t\n"))
	require.Error(t, err)
	assert.Equal(t, ragerr.KindDocumentProcessing, ragerr.KindOf(err))
}

func TestLoadMarkdownHeadingBecomesSectionTitle(t *testing.T) {
	body := "# Disaster Recovery\n\nThe backup window is 02:00-04:00 UTC.\n"
	pages, err := Load("handbook.md", []byte(body))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Disaster Recovery", pages[0].SectionTitle)
}

func TestLoadMarkdownPipeTable(t *testing.T) {
	body := strings.Join([]string{
		"# Limits",
		"",
		"| Tier | Quota |",
		"|------|-------|",
		"| Free | 100   |",
		"| Pro  | 5000  |",
		"",
		"Quotas reset monthly.",
	}, "\n")

	pages, err := Load("limits.md", []byte(body))
	require.NoError(t, err)
	text := pages[0].Text

	assert.Contains(t, text, TableOpen)
	assert.Contains(t, text, TableClose)
	assert.Contains(t, text, "Tier | Quota")
	assert.Contains(t, text, "Pro | 5000")
	assert.NotContains(t, text, "|---", "separator rows are dropped")
	assert.Contains(t, text, "Quotas reset monthly.")
}

func TestDetectSectionTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"all caps", "EXECUTIVE SUMMARY\nRevenue grew by a lot this year.", "EXECUTIVE SUMMARY"},
		{"colon suffix", "overview:\nthis document covers backups.", "overview"},
		{"title case", "Backup And Recovery Procedures\nrun the nightly job.", "Backup And Recovery Procedures"},
		{"enumeration rejected", "1. first item\n2. second item\nplain prose follows here", ""},
		{"bullet rejected", "- item one\n- item two\nnothing heading-like at all", ""},
		{"long line rejected", strings.Repeat("Word ", 30) + "\nbody", ""},
		{"prose only", "this is an ordinary lowercase sentence about nothing in particular.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectSectionTitle(tt.text))
		})
	}
}

// buildDOCX assembles a minimal OOXML archive around the given body XML.
func buildDOCX(t *testing.T, bodyXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + bodyXML + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestLoadDOCXParagraphsAndTable(t *testing.T) {
	body := `<w:p><w:r><w:t>Quarterly results follow.</w:t></w:r></w:p>` +
		`<w:tbl>` +
		`<w:tr><w:tc><w:p><w:r><w:t>Region</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Revenue</w:t></w:r></w:p></w:tc></w:tr>` +
		`<w:tr><w:tc><w:p><w:r><w:t>EMEA</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>1.2M</w:t></w:r></w:p></w:tc></w:tr>` +
		`</w:tbl>` +
		`<w:p><w:r><w:t>Figures are unaudited.</w:t></w:r></w:p>`

	pages, err := Load("report.docx", buildDOCX(t, body))
	require.NoError(t, err)
	require.Len(t, pages, 1)

	text := pages[0].Text
	assert.Contains(t, text, "Quarterly results follow.")
	assert.Contains(t, text, TableOpen)
	assert.Contains(t, text, "Region | Revenue")
	assert.Contains(t, text, "EMEA | 1.2M")
	assert.Contains(t, text, "Figures are unaudited.")

	// Document order: prose, table, prose.
	require.Less(t, strings.Index(text, "Quarterly"), strings.Index(text, TableOpen))
	require.Less(t, strings.Index(text, TableClose), strings.Index(text, "unaudited"))
}

func TestLoadDOCXEmptyBody(t *testing.T) {
	_, err := Load("blank.docx", buildDOCX(t, `<w:p></w:p>`))
	require.Error(t, err)
	assert.Equal(t, ragerr.KindDocumentProcessing, ragerr.KindOf(err))
}

func TestLoadDOCXNotAnArchive(t *testing.T) {
	_, err := Load("broken.docx", []byte("this is not a zip"))
	require.Error(t, err)
	var re *ragerr.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ragerr.KindDocumentProcessing, re.Kind)
}

func frag(x, y, w float64, s string) pdf.Text {
	return pdf.Text{X: x, Y: y, W: w, FontSize: 10, S: s}
}

func TestBuildRowsGroupsByBaseline(t *testing.T) {
	texts := []pdf.Text{
		frag(72, 700, 40, "Hello"),
		frag(115, 700.5, 40, "world"),
		frag(72, 680, 60, "Second line"),
	}

	rows := buildRows(texts)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Hello world"}, rows[0].cells)
	assert.Equal(t, []string{"Second line"}, rows[1].cells)
}

func TestBuildRowsSplitsColumns(t *testing.T) {
	// Gap between x=112 and x=200 is far beyond the 1.5em threshold.
	texts := []pdf.Text{
		frag(72, 700, 40, "Region"),
		frag(200, 700, 50, "Revenue"),
		frag(72, 685, 40, "EMEA"),
		frag(200, 685, 30, "1.2M"),
	}

	rows := buildRows(texts)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Region", "Revenue"}, rows[0].cells)
	assert.Equal(t, []string{"EMEA", "1.2M"}, rows[1].cells)
}

func TestRenderRowsEmitsTableBlock(t *testing.T) {
	rows := []textRow{
		{y: 700, fontSize: 10, cells: []string{"Intro line"}},
		{y: 685, fontSize: 10, cells: []string{"Name", "Role", "Team"}},
		{y: 670, fontSize: 10, cells: []string{"Ada", "Engineer", "Core"}},
		{y: 655, fontSize: 10, cells: []string{"Grace", "Admiral", "Navy"}},
		{y: 620, fontSize: 10, cells: []string{"Closing prose."}},
	}

	text := renderRows(rows)
	assert.Contains(t, text, "Intro line")
	assert.Contains(t, text, TableOpen)
	assert.Contains(t, text, "Name | Role | Team")
	assert.Contains(t, text, "Grace | Admiral | Navy")
	assert.Contains(t, text, "Closing prose.")
}

func TestRenderRowsParagraphBreakOnLargeGap(t *testing.T) {
	rows := []textRow{
		{y: 700, fontSize: 10, cells: []string{"First paragraph."}},
		{y: 640, fontSize: 10, cells: []string{"Second paragraph."}},
	}
	text := renderRows(rows)
	assert.Contains(t, text, "First paragraph.\n\nSecond paragraph.")
}

func TestTableRunLength(t *testing.T) {
	rows := []textRow{
		{cells: []string{"a", "b"}},
		{cells: []string{"c", "d", "e"}},
		{cells: []string{"f", "g", "h"}},
		{cells: []string{"prose"}},
	}
	assert.Equal(t, 3, tableRunLength(rows))
	assert.Equal(t, 0, tableRunLength(rows[3:]))
}
