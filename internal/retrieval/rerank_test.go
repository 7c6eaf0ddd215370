package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclens/doclens/internal/store"
)

var testWeights = rerankWeights{
	similarity: 0.45,
	keyword:    0.25,
	bm25:       0.20,
	position:   0.05,
	length:     0.05,
}

func cand(text string, index int, sim float64) candidate {
	return candidate{
		SearchResult: store.SearchResult{
			ChunkText:  text,
			Filename:   "doc.pdf",
			ChunkIndex: index,
		},
		fusedSim: sim,
	}
}

func TestRerankKeywordOverlapBeatsBareSimilarity(t *testing.T) {
	query := "vacation accrual rate"
	candidates := []candidate{
		cand("Unrelated text about office furniture and supplies.", 0, 0.62),
		cand("The vacation accrual rate is 1.5 days per month.", 5, 0.60),
	}

	ranked := rerank(query, candidates, testWeights)
	require.Len(t, ranked, 2)
	assert.Equal(t, 5, ranked[0].ChunkIndex)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRerankPreservesSimilarityField(t *testing.T) {
	ranked := rerank("query", []candidate{cand("some text", 0, 0.77)}, testWeights)
	require.Len(t, ranked, 1)
	assert.Equal(t, 0.77, ranked[0].Similarity)
	assert.NotEqual(t, ranked[0].Similarity, ranked[0].Score)
}

func TestRerankDeterministicTieBreak(t *testing.T) {
	// Identical text and similarity: order falls back to chunk index.
	candidates := []candidate{
		cand("identical", 7, 0.50),
		cand("identical", 2, 0.50),
	}
	ranked := rerank("nomatch", candidates, testWeights)
	assert.Equal(t, 2, ranked[0].ChunkIndex)
	assert.Equal(t, 7, ranked[1].ChunkIndex)
}

func TestKeywordCoverage(t *testing.T) {
	q := tokenSet("vacation accrual rate")
	assert.InDelta(t, 2.0/3.0, keywordCoverage(q, tokens("the accrual rate is fixed")), 0.001)
	assert.Zero(t, keywordCoverage(q, tokens("nothing relevant")))
	assert.Zero(t, keywordCoverage(map[string]struct{}{}, tokens("anything")))
}

func TestBM25ScoreSaturates(t *testing.T) {
	q := tokens("refund")
	once := bm25Score(q, tokens("refund "+strings.Repeat("filler ", 50)))
	many := bm25Score(q, tokens(strings.Repeat("refund ", 10)+strings.Repeat("filler ", 41)))

	assert.Greater(t, many, once)
	// Ten occurrences are nowhere near ten times the score of one.
	assert.Less(t, many, once*3)
	assert.LessOrEqual(t, many, 1.0)
}

func TestBM25ScoreEmptyInputs(t *testing.T) {
	assert.Zero(t, bm25Score(nil, tokens("text")))
	assert.Zero(t, bm25Score(tokens("query"), nil))
}

func TestPositionBiasDecays(t *testing.T) {
	assert.Equal(t, 1.0, positionBias(0))
	assert.Greater(t, positionBias(1), positionBias(10))
}

func TestLengthBiasCapped(t *testing.T) {
	assert.InDelta(t, 0.5, lengthBias(500), 0.001)
	assert.Equal(t, 1.0, lengthBias(5000))
}

func TestDiversityFilterDropsNearDuplicates(t *testing.T) {
	results := []Result{
		{ChunkText: "The backup window runs nightly from two to four am", Score: 0.9},
		{ChunkText: "The backup window runs nightly from two to four am.", Score: 0.8},
		{ChunkText: "Invoices are due within thirty days of receipt", Score: 0.7},
	}

	kept := diversityFilter(results)
	require.Len(t, kept, 2)
	assert.Equal(t, 0.9, kept[0].Score)
	assert.Equal(t, 0.7, kept[1].Score)
}

func TestDiversityFilterKeepsDistinctChunks(t *testing.T) {
	results := []Result{
		{ChunkText: "alpha beta gamma delta"},
		{ChunkText: "alpha beta epsilon zeta"},
	}
	assert.Len(t, diversityFilter(results), 2)
}
