package retrieval

import (
	"regexp"
	"strings"
)

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// tokens splits text into lowercased alphanumeric terms.
func tokens(text string) []string {
	words := wordRegex.FindAllString(text, -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, strings.ToLower(w))
	}
	return out
}

// tokenSet returns the distinct lowercased terms of text.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokens(text) {
		set[t] = struct{}{}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b| over two token sets. Two empty sets
// are identical (1.0).
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
