// Package telemetry keeps in-process counters for the status endpoint.
// No external telemetry wiring: the numbers live and die with the process.
package telemetry

import (
	"sync"
	"time"
)

// Metrics aggregates retrieval, cache, and ingest counters. All methods
// are safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	retrievals       int64
	retrievalTotal   time.Duration
	cacheHits        int64
	cacheMisses      int64
	ingestsCompleted int64
	ingestsFailed    int64
}

// New returns zeroed metrics.
func New() *Metrics {
	return &Metrics{}
}

// RetrievalServed records one completed retrieval and its latency.
func (m *Metrics) RetrievalServed(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrievals++
	m.retrievalTotal += elapsed
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMisses++
}

// IngestCompleted records a successful document ingest.
func (m *Metrics) IngestCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingestsCompleted++
}

// IngestFailed records a failed document ingest.
func (m *Metrics) IngestFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingestsFailed++
}

// Snapshot is the JSON shape exposed on /api/status.
type Snapshot struct {
	Retrievals         int64   `json:"retrievals"`
	AvgRetrievalMillis float64 `json:"avg_retrieval_ms"`
	CacheHits          int64   `json:"cache_hits"`
	CacheMisses        int64   `json:"cache_misses"`
	CacheHitRate       float64 `json:"cache_hit_rate"`
	IngestsCompleted   int64   `json:"ingests_completed"`
	IngestsFailed      int64   `json:"ingests_failed"`
}

// Snapshot returns a consistent copy of the counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Retrievals:       m.retrievals,
		CacheHits:        m.cacheHits,
		CacheMisses:      m.cacheMisses,
		IngestsCompleted: m.ingestsCompleted,
		IngestsFailed:    m.ingestsFailed,
	}
	if m.retrievals > 0 {
		s.AvgRetrievalMillis = float64(m.retrievalTotal.Milliseconds()) / float64(m.retrievals)
	}
	if lookups := m.cacheHits + m.cacheMisses; lookups > 0 {
		s.CacheHitRate = float64(m.cacheHits) / float64(lookups)
	}
	return s
}
