package retrieval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doclens/doclens/internal/cache"
	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/ragerr"
	"github.com/doclens/doclens/internal/store"
	"github.com/doclens/doclens/internal/telemetry"
)

// overfetchFactor widens the vector search so fusion, thresholding, and
// diversity filtering still leave enough candidates; capped at 100.
const (
	overfetchFactor = 4
	overfetchCap    = 100
)

// Retriever executes the hybrid retrieval pipeline. Safe for concurrent
// use; all state is read-only after construction except the shared cache.
type Retriever struct {
	searcher       Searcher
	embedder       Embedder
	queryCache     *cache.QueryCache
	metrics        *telemetry.Metrics
	cfg            config.RetrievalConfig
	embeddingModel string
	logger         *slog.Logger
}

// New builds a Retriever. The cache and metrics may be nil (both degrade
// to no-ops, which tests use).
func New(searcher Searcher, embedder Embedder, queryCache *cache.QueryCache, metrics *telemetry.Metrics, cfg config.RetrievalConfig, embeddingModel string, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		searcher:       searcher,
		embedder:       embedder,
		queryCache:     queryCache,
		metrics:        metrics,
		cfg:            cfg,
		embeddingModel: embeddingModel,
		logger:         logger,
	}
}

// Retrieve runs the full pipeline for one query. An empty store or a
// query nothing matches yields an empty slice, not an error; an empty
// normalized query is a validation error.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()

	normalized := Normalize(query)
	if normalized == "" {
		return nil, ragerr.Validation("query is empty after normalization")
	}

	if opts.TopK <= 0 {
		opts.TopK = r.cfg.TopK
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = r.cfg.MinSimilarity
	}

	key := opts.cacheKey(normalized)
	if r.queryCache != nil {
		var cached []Result
		if r.queryCache.GetResults(ctx, key, &cached) {
			r.record(start, true)
			return cached, nil
		}
	}

	variants := []string{normalized}
	if r.cfg.QueryExpansion {
		variants = ExpandQuery(normalized)
	}

	lists, err := r.searchVariants(ctx, variants, opts)
	if err != nil {
		return nil, err
	}

	candidates := fuseVariantResults(lists)
	candidates = r.filterByThreshold(normalized, candidates, opts.MinSimilarity)
	if len(candidates) == 0 {
		r.record(start, false)
		return []Result{}, nil
	}

	ranked := rerank(normalized, candidates, weightsFromConfig(r.cfg))
	ranked = diversityFilter(ranked)

	limit := r.cfg.RerankTopK
	if opts.TopK < limit {
		limit = opts.TopK
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	if r.queryCache != nil {
		r.queryCache.SetResults(ctx, key, ranked)
	}
	r.record(start, false)
	return ranked, nil
}

// searchVariants embeds and vector-searches every query variant in
// parallel, returning the per-variant ranked lists in variant order.
func (r *Retriever) searchVariants(ctx context.Context, variants []string, opts Options) ([][]store.SearchResult, error) {
	k := opts.TopK * overfetchFactor
	if k > overfetchCap {
		k = overfetchCap
	}

	lists := make([][]store.SearchResult, len(variants))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		g.Go(func() error {
			emb, err := r.embedQuery(gctx, variant)
			if err != nil {
				return err
			}
			results, err := r.searcher.SearchSimilarChunks(gctx, emb, k, opts.FileTypeFilter)
			if err != nil {
				return ragerr.Search(err, "vector search failed")
			}
			mu.Lock()
			lists[i] = results
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

// embedQuery returns the embedding for one variant, consulting the cache
// first.
func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.queryCache != nil {
		if vec, ok := r.queryCache.GetEmbedding(ctx, r.embeddingModel, text); ok {
			if r.metrics != nil {
				r.metrics.CacheHit()
			}
			return vec, nil
		}
		if r.metrics != nil {
			r.metrics.CacheMiss()
		}
	}

	vec, err := r.embedder.Embed(ctx, r.embeddingModel, text)
	if err != nil {
		return nil, err
	}
	if r.queryCache != nil {
		r.queryCache.SetEmbedding(ctx, r.embeddingModel, text, vec)
	}
	return vec, nil
}

// filterByThreshold drops candidates under the similarity floor, logging
// the best observed similarity when everything falls below it.
func (r *Retriever) filterByThreshold(query string, candidates []candidate, minSim float64) []candidate {
	kept := candidates[:0]
	maxSim := 0.0
	for _, c := range candidates {
		if c.fusedSim > maxSim {
			maxSim = c.fusedSim
		}
		if c.fusedSim >= minSim {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 && len(candidates) > 0 {
		r.logger.Info("all candidates below similarity threshold",
			slog.String("query", query),
			slog.Float64("max_similarity", maxSim),
			slog.Float64("threshold", minSim))
	}
	return kept
}

func (r *Retriever) record(start time.Time, cacheHit bool) {
	if r.metrics == nil {
		return
	}
	r.metrics.RetrievalServed(time.Since(start))
	if cacheHit {
		r.metrics.CacheHit()
	}
}
