package retrieval

import (
	"strings"
	"unicode"
)

// contractions expanded during query normalization. Lowercase keys; the
// normalizer lowercases before lookup but preserves the original casing of
// non-contraction words.
var contractions = map[string]string{
	"what's":    "what is",
	"where's":   "where is",
	"who's":     "who is",
	"when's":    "when is",
	"how's":     "how is",
	"it's":      "it is",
	"that's":    "that is",
	"there's":   "there is",
	"can't":     "cannot",
	"won't":     "will not",
	"don't":     "do not",
	"doesn't":   "does not",
	"didn't":    "did not",
	"isn't":     "is not",
	"aren't":    "are not",
	"wasn't":    "was not",
	"shouldn't": "should not",
	"couldn't":  "could not",
	"wouldn't":  "would not",
	"i'm":       "i am",
	"you're":    "you are",
	"they're":   "they are",
	"we're":     "we are",
	"i've":      "i have",
	"you've":    "you have",
	"we've":     "we have",
	"i'll":      "i will",
	"let's":     "let us",
}

// semanticPunct is punctuation preserved through normalization. Everything
// else non-alphanumeric collapses to a space.
func isSemanticPunct(r rune) bool {
	switch r {
	case '?', '.', '!', ',', '-':
		return true
	}
	return false
}

// Normalize prepares a raw query for embedding and lexical matching: trims
// and collapses whitespace, expands a fixed set of contractions, and strips
// punctuation that carries no retrieval signal. Returns "" for queries with
// no semantic content.
func Normalize(query string) string {
	fields := strings.Fields(query)

	var words []string
	for _, w := range fields {
		if repl, ok := contractions[strings.ToLower(w)]; ok {
			words = append(words, repl)
			continue
		}
		words = append(words, w)
	}

	var b strings.Builder
	for _, r := range strings.Join(words, " ") {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ':
			b.WriteRune(r)
		case isSemanticPunct(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	normalized := strings.Join(strings.Fields(b.String()), " ")

	// A query that is only punctuation normalizes to empty.
	if strings.TrimFunc(normalized, func(r rune) bool {
		return isSemanticPunct(r) || r == ' '
	}) == "" {
		return ""
	}
	return normalized
}
