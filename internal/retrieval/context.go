package retrieval

import (
	"fmt"
	"strings"
)

// Relevance tier thresholds on the fused similarity.
const (
	tierHigh = 0.80
	tierGood = 0.65
)

// FormatContext packs ranked results into one bounded string for the LLM
// prompt. Each result gets a source header with filename, chunk index,
// optional page and section, and the similarity as a percentage; table
// chunks are flagged so the model treats them as structured data. Blocks
// are separated by --- lines.
//
// Blocks accumulate until the next would push the total past maxChars.
// The first block is always included even when it alone exceeds the
// budget. A truncation note is appended when any block was dropped.
func FormatContext(results []Result, maxChars int) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	included := 0
	for i, r := range results {
		block := formatBlock(i+1, r)
		if included > 0 && b.Len()+len(block) > maxChars {
			break
		}
		b.WriteString(block)
		included++
	}

	if included < len(results) {
		b.WriteString(fmt.Sprintf("[Context truncated: %d of %d chunks included]\n", included, len(results)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatBlock(n int, r Result) string {
	var b strings.Builder

	b.WriteString(tierMarker(r.Similarity))
	b.WriteString(fmt.Sprintf("[Source %d] %s (chunk %d", n, r.Filename, r.ChunkIndex))
	if r.Metadata.PageNumber != nil {
		b.WriteString(fmt.Sprintf(", page %d", *r.Metadata.PageNumber))
	}
	if r.Metadata.SectionTitle != nil && *r.Metadata.SectionTitle != "" {
		b.WriteString(fmt.Sprintf(", section: %q", *r.Metadata.SectionTitle))
	}
	b.WriteString(fmt.Sprintf(", relevance: %.1f%%)\n", r.Similarity*100))

	if r.Metadata.HasTable {
		b.WriteString("[Contains structured data table]\n")
	}
	b.WriteString(normalizeWhitespace(r.ChunkText))
	b.WriteString("\n---\n")
	return b.String()
}

// tierMarker annotates high / good / medium relevance so the model can
// weight sources without parsing percentages.
func tierMarker(similarity float64) string {
	switch {
	case similarity >= tierHigh:
		return "*** "
	case similarity >= tierGood:
		return "[+] "
	default:
		return " - "
	}
}

// normalizeWhitespace collapses runs of blank-ish lines and trims each
// line, keeping single newlines so table rows stay on their own lines.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
