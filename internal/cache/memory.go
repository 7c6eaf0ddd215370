package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/doclens/doclens/internal/config"
)

// Memory is the in-process backend: one expirable LRU per namespace, sized
// and TTL'd independently (embeddings are many, small, and long-lived;
// result lists are few and short-lived). Entries in either LRU expire on
// the cache-wide TTL; the per-call ttl argument is ignored here because
// hashicorp's expirable LRU fixes TTL at construction.
type Memory struct {
	embeddings *expirable.LRU[string, []byte]
	results    *expirable.LRU[string, []byte]
}

var _ Backend = (*Memory)(nil)

// NewMemory builds the in-process backend from the cache configuration.
func NewMemory(cfg config.CacheConfig) *Memory {
	return &Memory{
		embeddings: expirable.NewLRU[string, []byte](cfg.EmbeddingSize, nil, cfg.EmbeddingTTL),
		results:    expirable.NewLRU[string, []byte](cfg.ResultSize, nil, cfg.ResultTTL),
	}
}

// lruFor routes a key to its namespace LRU. Unknown prefixes share the
// result LRU; its short TTL is the safe default.
func (m *Memory) lruFor(key string) *expirable.LRU[string, []byte] {
	if strings.HasPrefix(key, NamespaceEmbedding) {
		return m.embeddings
	}
	return m.results
}

// Get returns the entry for key, or a miss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	return m.lruFor(key).Get(key)
}

// Set stores value under key. The ttl argument is ignored; see type docs.
func (m *Memory) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	m.lruFor(key).Add(key, value)
}

// Delete removes key if present.
func (m *Memory) Delete(_ context.Context, key string) {
	m.lruFor(key).Remove(key)
}

// Clear drops every entry in both namespaces.
func (m *Memory) Clear(_ context.Context) {
	m.embeddings.Purge()
	m.results.Purge()
}

// Close is a no-op for the in-process backend.
func (m *Memory) Close() error {
	return nil
}
