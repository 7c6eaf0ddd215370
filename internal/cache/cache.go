// Package cache is the embedding and retrieval-result cache tier. A Backend
// stores opaque bytes under string keys with per-entry TTLs; the in-process
// backend is two expirable LRUs (one per namespace), the optional remote
// backend is Redis. Cache failures are never surfaced to callers: a broken
// backend degrades to misses.
package cache

import (
	"context"
	"time"
)

// Key namespaces. The memory backend routes entries to the right LRU by
// prefix; the Redis backend uses them as plain key prefixes.
const (
	// NamespaceEmbedding prefixes query/chunk embedding entries.
	NamespaceEmbedding = "emb:"
	// NamespaceResult prefixes ranked retrieval result lists.
	NamespaceResult = "res:"
)

// Backend is the key-value contract. All implementations are safe for
// concurrent use. Get reports a miss for expired, evicted, absent, or
// unreadable entries; it never returns an error.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	Close() error
}
