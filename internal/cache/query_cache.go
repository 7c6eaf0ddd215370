package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// QueryCache is the typed layer the retriever uses: embeddings keyed by
// (model, text), arbitrary JSON records (ranked result lists) keyed by the
// caller. Marshalling failures degrade to misses like every other cache
// fault.
type QueryCache struct {
	backend      Backend
	embeddingTTL time.Duration
	resultTTL    time.Duration
}

// NewQueryCache wraps a backend with the configured TTLs.
func NewQueryCache(backend Backend, embeddingTTL, resultTTL time.Duration) *QueryCache {
	return &QueryCache{
		backend:      backend,
		embeddingTTL: embeddingTTL,
		resultTTL:    resultTTL,
	}
}

// embeddingKey hashes model and text into a fixed-length namespaced key.
func embeddingKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return NamespaceEmbedding + hex.EncodeToString(sum[:])
}

// GetEmbedding returns the cached embedding for text under model.
func (q *QueryCache) GetEmbedding(ctx context.Context, model, text string) ([]float32, bool) {
	data, ok := q.backend.Get(ctx, embeddingKey(model, text))
	if !ok {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

// SetEmbedding caches an embedding for text under model.
func (q *QueryCache) SetEmbedding(ctx context.Context, model, text string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	q.backend.Set(ctx, embeddingKey(model, text), data, q.embeddingTTL)
}

// resultKey hashes an opaque retrieval cache key into the result namespace.
func resultKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return NamespaceResult + hex.EncodeToString(sum[:])
}

// GetResults unmarshals a cached record into dest, reporting a miss on any
// decode failure.
func (q *QueryCache) GetResults(ctx context.Context, key string, dest any) bool {
	data, ok := q.backend.Get(ctx, resultKey(key))
	if !ok {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

// SetResults caches a JSON-serializable record under key.
func (q *QueryCache) SetResults(ctx context.Context, key string, val any) {
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	q.backend.Set(ctx, resultKey(key), data, q.resultTTL)
}

// Clear drops all cached entries.
func (q *QueryCache) Clear(ctx context.Context) {
	q.backend.Clear(ctx)
}

// Close releases the underlying backend.
func (q *QueryCache) Close() error {
	return q.backend.Close()
}
