package retrieval

import (
	"math"
	"sort"

	"github.com/doclens/doclens/internal/config"
)

// BM25 parameters. The average document length is a fixed approximation:
// no corpus-wide statistics are maintained, which is acceptable because
// the lexical term carries only a 0.20 weight behind vector similarity.
const (
	bm25K1     = 1.5
	bm25B      = 0.75
	bm25AvgLen = 500.0
)

// rerankWeights is the blend of signals in the final score.
type rerankWeights struct {
	similarity float64
	keyword    float64
	bm25       float64
	position   float64
	length     float64
}

func weightsFromConfig(cfg config.RetrievalConfig) rerankWeights {
	return rerankWeights{
		similarity: cfg.SimilarityWeight,
		keyword:    cfg.KeywordWeight,
		bm25:       cfg.BM25Weight,
		position:   cfg.PositionWeight,
		length:     cfg.LengthWeight,
	}
}

// rerank scores each candidate on the weighted multi-signal blend and
// sorts descending. Ties break on similarity, then ascending chunk index,
// then filename.
func rerank(query string, candidates []candidate, w rerankWeights) []Result {
	queryTerms := tokens(query)
	querySet := tokenSet(query)

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		chunkTerms := tokens(c.ChunkText)

		score := w.similarity*c.fusedSim +
			w.keyword*keywordCoverage(querySet, chunkTerms) +
			w.bm25*bm25Score(queryTerms, chunkTerms) +
			w.position*positionBias(c.ChunkIndex) +
			w.length*lengthBias(len(c.ChunkText))

		out = append(out, Result{
			ChunkText:  c.ChunkText,
			Filename:   c.Filename,
			ChunkIndex: c.ChunkIndex,
			Similarity: c.fusedSim,
			Score:      score,
			Metadata:   c.Metadata,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].ChunkIndex != out[j].ChunkIndex {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		return out[i].Filename < out[j].Filename
	})
	return out
}

// keywordCoverage is the fraction of distinct query terms present in the
// chunk.
func keywordCoverage(querySet map[string]struct{}, chunkTerms []string) float64 {
	if len(querySet) == 0 {
		return 0
	}
	chunkSet := make(map[string]struct{}, len(chunkTerms))
	for _, t := range chunkTerms {
		chunkSet[t] = struct{}{}
	}
	hit := 0
	for t := range querySet {
		if _, ok := chunkSet[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(querySet))
}

// bm25Score is a per-chunk BM25 approximation: term-frequency saturation
// and length normalization without corpus IDF, normalized into [0,1] by
// the maximum achievable saturation (k1+1 per term).
func bm25Score(queryTerms, chunkTerms []string) float64 {
	if len(queryTerms) == 0 || len(chunkTerms) == 0 {
		return 0
	}

	tf := make(map[string]int, len(chunkTerms))
	for _, t := range chunkTerms {
		tf[t]++
	}
	lenNorm := bm25K1 * (1 - bm25B + bm25B*float64(len(chunkTerms))/bm25AvgLen)

	var score float64
	for _, q := range queryTerms {
		f := float64(tf[q])
		if f == 0 {
			continue
		}
		score += f * (bm25K1 + 1) / (f + lenNorm)
	}

	return math.Min(score/(float64(len(queryTerms))*(bm25K1+1)), 1.0)
}

// positionBias prefers chunks from earlier in a document, decaying slowly.
func positionBias(chunkIndex int) float64 {
	return 1.0 / (1.0 + 0.1*float64(chunkIndex))
}

// lengthBias prefers substantial chunks up to a kilobyte of text.
func lengthBias(chars int) float64 {
	return math.Min(float64(chars)/1000.0, 1.0)
}

// diversityThreshold is the Jaccard overlap above which a candidate is
// considered a near-duplicate of an already-kept result.
const diversityThreshold = 0.90

// diversityFilter keeps results in score order, dropping any whose token
// overlap with an already-kept result exceeds the threshold.
func diversityFilter(results []Result) []Result {
	kept := make([]Result, 0, len(results))
	keptSets := make([]map[string]struct{}, 0, len(results))

	for _, r := range results {
		set := tokenSet(r.ChunkText)
		dup := false
		for _, ks := range keptSets {
			if jaccard(set, ks) > diversityThreshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
			keptSets = append(keptSets, set)
		}
	}
	return kept
}
