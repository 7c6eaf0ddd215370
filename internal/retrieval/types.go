// Package retrieval turns user queries into ranked, diversity-filtered
// chunk lists. The pipeline: normalize, probe the cache, expand into
// variants, embed and vector-search each variant in parallel, fuse with
// reciprocal-rank fusion, threshold on similarity, re-rank on a weighted
// blend of vector, lexical, and positional signals, drop near-duplicates,
// and cache the survivors.
package retrieval

import (
	"context"
	"fmt"

	"github.com/doclens/doclens/internal/store"
)

// Result is one ranked retrieval hit.
type Result struct {
	ChunkText  string `json:"chunk_text"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	// Similarity is the cosine similarity (or fused similarity) in [0,1].
	Similarity float64 `json:"similarity"`
	// Score is the final multi-signal re-rank score results are ordered by.
	Score    float64             `json:"score"`
	Metadata store.ChunkMetadata `json:"metadata"`
}

// Options tunes a single retrieval call. Zero values fall back to the
// retriever's configuration.
type Options struct {
	TopK           int
	MinSimilarity  float64
	FileTypeFilter string
}

// cacheKey is the retrieval cache identity: every field that changes the
// result set participates.
func (o Options) cacheKey(normalizedQuery string) string {
	return fmt.Sprintf("%s|%d|%g|%s", normalizedQuery, o.TopK, o.MinSimilarity, o.FileTypeFilter)
}

// Searcher is the slice of the store the retriever needs.
type Searcher interface {
	SearchSimilarChunks(ctx context.Context, embedding []float32, topK int, fileTypeFilter string) ([]store.SearchResult, error)
}

// Embedder produces query embeddings.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}
