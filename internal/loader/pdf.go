package loader

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/dslipak/pdf"

	"github.com/doclens/doclens/internal/ragerr"
)

// loadPDF extracts a PDF page by page. Rows are rebuilt from positioned
// text fragments; runs of rows with matching column splits are treated as
// tables and rendered as [Table] blocks.
func loadPDF(filename string, data []byte) ([]Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ragerr.DocumentProcessing(filename, fmt.Sprintf("cannot read PDF: %v", err))
	}

	var pages []Page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}

		content := p.Content()
		rows := buildRows(content.Text)
		text := renderRows(rows)
		if strings.TrimSpace(text) == "" {
			continue
		}

		pages = append(pages, Page{
			Number:       i,
			Text:         text,
			SectionTitle: detectSectionTitle(text),
		})
	}

	if len(pages) == 0 {
		return nil, ragerr.DocumentProcessing(filename,
			"no extractable text; the PDF may contain only scanned images (OCR is required for those)")
	}
	return pages, nil
}

// textRow is one visual line of the page, split into cells at column gaps.
type textRow struct {
	y        float64
	fontSize float64
	cells    []string
}

// rowYTolerance groups fragments whose baselines differ by less than this
// many points onto one row.
const rowYTolerance = 2.0

// buildRows groups positioned fragments into rows top-to-bottom and splits
// each row into cells wherever a horizontal gap wider than roughly one
// character-and-a-half appears. Single-cell rows are ordinary prose lines.
func buildRows(texts []pdf.Text) []textRow {
	if len(texts) == 0 {
		return nil
	}

	sorted := append([]pdf.Text(nil), texts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y // PDF origin is bottom-left
		}
		return sorted[i].X < sorted[j].X
	})

	var rows []textRow
	var line []pdf.Text
	flush := func() {
		if len(line) > 0 {
			rows = append(rows, splitRowCells(line))
			line = nil
		}
	}

	for _, t := range sorted {
		if len(line) > 0 && line[0].Y-t.Y > rowYTolerance {
			flush()
		}
		line = append(line, t)
	}
	flush()

	return rows
}

// splitRowCells merges a row's fragments left to right, opening a new cell
// when the gap to the previous fragment exceeds the column threshold.
func splitRowCells(line []pdf.Text) textRow {
	sort.Slice(line, func(i, j int) bool { return line[i].X < line[j].X })

	fontSize := line[0].FontSize
	if fontSize <= 0 {
		fontSize = 10
	}
	colGap := fontSize * 1.5

	var cells []string
	var cur strings.Builder
	prevEnd := line[0].X

	for i, t := range line {
		gap := t.X - prevEnd
		switch {
		case i == 0:
		case gap > colGap:
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		case gap > fontSize*0.2:
			cur.WriteByte(' ')
		}
		cur.WriteString(t.S)
		end := t.X + t.W
		if end > prevEnd {
			prevEnd = end
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		cells = append(cells, s)
	}

	return textRow{y: line[0].Y, fontSize: fontSize, cells: cells}
}

// minTableRows is the shortest run of multi-cell rows treated as a table.
const minTableRows = 2

// renderRows concatenates rows into page text. Runs of at least two
// consecutive rows that split into two or more cells each become a [Table]
// block; everything else is prose with paragraph breaks restored from
// vertical spacing.
func renderRows(rows []textRow) string {
	var b strings.Builder
	i := 0
	for i < len(rows) {
		if run := tableRunLength(rows[i:]); run >= minTableRows {
			table := make([][]string, run)
			for j := 0; j < run; j++ {
				table[j] = rows[i+j].cells
			}
			b.WriteString(renderTable(table))
			i += run
			continue
		}

		line := strings.Join(rows[i].cells, " ")
		b.WriteString(line)
		if i+1 < len(rows) && rows[i].y-rows[i+1].y > rows[i].fontSize*1.8 {
			b.WriteString("\n\n")
		} else {
			b.WriteByte('\n')
		}
		i++
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// tableRunLength counts leading rows that look tabular: two or more cells,
// with neighboring rows agreeing on the column count within one.
func tableRunLength(rows []textRow) int {
	n := 0
	for _, r := range rows {
		if len(r.cells) < 2 {
			break
		}
		if n > 0 {
			prev := len(rows[n-1].cells)
			if diff := len(r.cells) - prev; diff > 1 || diff < -1 {
				break
			}
		}
		n++
	}
	return n
}
