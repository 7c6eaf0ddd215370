package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "vacation policy details", Normalize("  vacation   policy\tdetails  "))
}

func TestNormalizeExpandsContractions(t *testing.T) {
	assert.Equal(t, "what is the refund policy?", Normalize("what's the refund policy?"))
	assert.Equal(t, "you cannot delete it", Normalize("you can't delete it"))
}

func TestNormalizeKeepsSemanticPunctuation(t *testing.T) {
	assert.Equal(t, "is it due on 2024-06-01?", Normalize("is it due on 2024-06-01?"))
	assert.Equal(t, "costs, fees, and rates.", Normalize("costs, fees, and rates."))
}

func TestNormalizeStripsNoisePunctuation(t *testing.T) {
	assert.Equal(t, "budget Q3", Normalize("budget (Q3)"))
	assert.Equal(t, "who approved this", Normalize("who @approved# this"))
}

func TestNormalizeEmptyForPunctuationOnly(t *testing.T) {
	assert.Equal(t, "", Normalize("???"))
	assert.Equal(t, "", Normalize("  .,-!  "))
	assert.Equal(t, "", Normalize(""))
}

func TestExpandQueryOriginalFirst(t *testing.T) {
	variants := ExpandQuery("vacation policy")
	assert.Equal(t, "vacation policy", variants[0])
	assert.Contains(t, variants, "vacation procedure")
}

func TestExpandQueryNoKnownTerms(t *testing.T) {
	variants := ExpandQuery("quarterly flux capacitor")
	assert.Equal(t, []string{"quarterly flux capacitor"}, variants)
}

func TestExpandQueryBounded(t *testing.T) {
	variants := ExpandQuery("employee salary policy backup schedule")
	assert.LessOrEqual(t, len(variants), maxVariants+1)
	seen := map[string]struct{}{}
	for _, v := range variants {
		_, dup := seen[v]
		assert.False(t, dup, "duplicate variant %q", v)
		seen[v] = struct{}{}
	}
}

func TestTokensLowercased(t *testing.T) {
	assert.Equal(t, []string{"total", "cost", "1200", "usd"}, tokens("Total COST: $1200 USD"))
}

func TestJaccard(t *testing.T) {
	a := tokenSet("the quick brown fox")
	b := tokenSet("the quick red fox")
	assert.InDelta(t, 3.0/5.0, jaccard(a, b), 0.001)
	assert.Equal(t, 1.0, jaccard(a, a))
	assert.Equal(t, 1.0, jaccard(tokenSet(""), tokenSet("")))
	assert.Equal(t, 0.0, jaccard(a, tokenSet("")))
}
