// Package loader extracts text from uploaded documents. Each format yields
// a sequence of pages carrying the page number (1-based), the extracted
// text with tables rendered as pipe-delimited [Table] blocks, and a
// best-effort section title.
package loader

import (
	"path/filepath"
	"strings"

	"github.com/doclens/doclens/internal/ragerr"
)

// Page is one unit of extracted document text.
type Page struct {
	// Number is 1-based. Formats without native pagination produce a
	// single page 1.
	Number int
	Text   string
	// SectionTitle is empty when no heading-like line was found.
	SectionTitle string
}

// Table block delimiters embedded in extracted text. The chunker keeps the
// delimited region intact within the table chunk budget.
const (
	TableOpen  = "[Table]"
	TableClose = "[/Table]"
)

var supported = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".docx": true,
	".md":   true,
}

// IsSupported reports whether the filename's extension can be loaded.
func IsSupported(filename string) bool {
	return supported[strings.ToLower(filepath.Ext(filename))]
}

// SupportedExtensions lists loadable extensions.
func SupportedExtensions() []string {
	return []string{".pdf", ".txt", ".docx", ".md"}
}

// Load extracts pages from document content, dispatching on the filename
// extension. Content that yields no text fails with a
// DocumentProcessingError and the document is not ingested.
func Load(filename string, data []byte) ([]Page, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return loadText(filename, data, false)
	case ".md":
		return loadText(filename, data, true)
	case ".docx":
		return loadDOCX(filename, data)
	case ".pdf":
		return loadPDF(filename, data)
	default:
		return nil, ragerr.Validationf("unsupported file type %q", filepath.Ext(filename))
	}
}

// renderTable renders rows as the pipe-delimited block the chunker and
// retriever understand. The first row is treated as the header.
func renderTable(rows [][]string) string {
	var b strings.Builder
	b.WriteString("\n" + TableOpen + "\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.TrimSpace(c)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}
	b.WriteString(TableClose + "\n")
	return b.String()
}

// normalizeNewlines converts CRLF and CR line endings to LF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
