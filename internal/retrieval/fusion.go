package retrieval

import (
	"sort"
	"strconv"

	"github.com/doclens/doclens/internal/store"
)

// rrfK is the reciprocal-rank fusion smoothing constant. k=60 is the
// standard value across IR systems.
const rrfK = 60

// Fusion weights: rank consensus dominates, raw similarity keeps strong
// single-list hits competitive.
const (
	rrfWeight     = 0.7
	bestSimWeight = 0.3
)

// candidate is a chunk on its way through fusion and re-ranking.
type candidate struct {
	store.SearchResult
	rrf float64
	// fusedSim is the similarity after fusion; for a single variant it is
	// the raw cosine similarity.
	fusedSim float64
}

// chunkIdentity keys a chunk across variant result lists.
func chunkIdentity(r store.SearchResult) string {
	return r.Filename + "\x00" + strconv.Itoa(r.ChunkIndex)
}

// fuseVariantResults merges per-variant ranked lists with reciprocal-rank
// fusion: rrf(chunk) = Σ 1/(60 + rank_i), rank 1-based per list. The
// pre-rerank similarity becomes 0.7·rrf_norm + 0.3·best_similarity. A
// single list passes through with its raw similarities.
func fuseVariantResults(lists [][]store.SearchResult) []candidate {
	if len(lists) == 0 {
		return nil
	}
	if len(lists) == 1 {
		out := make([]candidate, len(lists[0]))
		for i, r := range lists[0] {
			out[i] = candidate{SearchResult: r, fusedSim: r.Similarity}
		}
		return out
	}

	byID := make(map[string]*candidate)
	for _, list := range lists {
		for rank, r := range list {
			id := chunkIdentity(r)
			c, ok := byID[id]
			if !ok {
				c = &candidate{SearchResult: r}
				byID[id] = c
			}
			c.rrf += 1.0 / float64(rrfK+rank+1)
			if r.Similarity > c.fusedSim {
				c.fusedSim = r.Similarity
			}
		}
	}

	out := make([]candidate, 0, len(byID))
	maxRRF := 0.0
	for _, c := range byID {
		if c.rrf > maxRRF {
			maxRRF = c.rrf
		}
		out = append(out, *c)
	}
	if maxRRF > 0 {
		for i := range out {
			out[i].fusedSim = rrfWeight*(out[i].rrf/maxRRF) + bestSimWeight*out[i].fusedSim
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].fusedSim != out[j].fusedSim {
			return out[i].fusedSim > out[j].fusedSim
		}
		if out[i].ChunkIndex != out[j].ChunkIndex {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		return out[i].Filename < out[j].Filename
	})
	return out
}
