package loader

import (
	"strings"
	"unicode/utf8"

	"github.com/doclens/doclens/internal/ragerr"
)

// loadText handles .txt and .md content. The whole body is a single page 1.
// For Markdown the first heading becomes the section title; plain text falls
// back to the heuristic.
func loadText(filename string, data []byte, markdown bool) ([]Page, error) {
	text := normalizeNewlines(string(data))
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	if strings.TrimSpace(text) == "" {
		return nil, ragerr.DocumentProcessing(filename, "no extractable text")
	}

	title := ""
	if markdown {
		title = markdownTitle(text)
		// Markdown pipe tables become delimited blocks so the chunker can
		// keep them intact.
		text = markMarkdownTables(text)
	}
	if title == "" {
		title = detectSectionTitle(text)
	}

	return []Page{{Number: 1, Text: text, SectionTitle: title}}, nil
}

// markdownTitle returns the text of the first ATX heading, if any.
func markdownTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}

// markMarkdownTables wraps GitHub-style pipe tables in [Table] delimiters.
// The separator row (|---|---|) is dropped; header and data rows keep their
// cell order.
func markMarkdownTables(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	var table [][]string

	flush := func() {
		if len(table) > 0 {
			out = append(out, strings.TrimSuffix(renderTable(table), "\n"))
			table = nil
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isPipeRow(trimmed) {
			if isSeparatorRow(trimmed) {
				continue
			}
			table = append(table, splitPipeRow(trimmed))
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()

	return strings.Join(out, "\n")
}

func isPipeRow(line string) bool {
	return strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") && strings.Count(line, "|") >= 2
}

// isSeparatorRow matches the |---|:---:| alignment row under a header.
func isSeparatorRow(line string) bool {
	body := strings.Trim(line, "|")
	for _, cell := range strings.Split(body, "|") {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			return false
		}
		for _, r := range cell {
			if r != '-' && r != ':' {
				return false
			}
		}
	}
	return true
}

func splitPipeRow(line string) []string {
	body := strings.Trim(line, "|")
	parts := strings.Split(body, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}
