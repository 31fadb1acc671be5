package query

import (
	"sync"
	"time"
)

const maxLatencySamples = 1000

// Metrics is the rolling counter/latency-sample window for the query
// pipeline: total, cache hit/miss counts, error count, and a bounded
// sample window for the mean latency.
type Metrics struct {
	mu         sync.Mutex
	total      int64
	cacheHits  int64
	cacheMiss  int64
	errors     int64
	samples    []time.Duration
	sampleHead int
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{samples: make([]time.Duration, 0, maxLatencySamples)}
}

// RecordCacheHit increments the cache hit counter (not total — total is
// incremented once per completed query by RecordLatency/RecordError).
func (m *Metrics) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

// RecordCacheMiss increments the cache miss counter (not total — total is
// incremented once per completed query by RecordLatency/RecordError).
func (m *Metrics) RecordCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMiss++
}

// RecordLatency records a successful query's latency and increments total.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.pushSample(d)
}

// RecordError increments the error and total counters.
func (m *Metrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.errors++
}

// pushSample maintains a bounded ring buffer of the most recent latencies.
func (m *Metrics) pushSample(d time.Duration) {
	if len(m.samples) < maxLatencySamples {
		m.samples = append(m.samples, d)
		return
	}
	m.samples[m.sampleHead] = d
	m.sampleHead = (m.sampleHead + 1) % maxLatencySamples
}

// Snapshot is a point-in-time read of Metrics.
type Snapshot struct {
	Total        int64   `json:"total"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	Errors       int64   `json:"errors"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	Samples      int     `json:"samples"`
}

// Snapshot returns the current counters and mean sampled latency.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum time.Duration
	for _, s := range m.samples {
		sum += s
	}
	avg := 0.0
	if len(m.samples) > 0 {
		avg = float64(sum.Milliseconds()) / float64(len(m.samples))
	}

	return Snapshot{
		Total:        m.total,
		CacheHits:    m.cacheHits,
		CacheMisses:  m.cacheMiss,
		Errors:       m.errors,
		AvgLatencyMs: avg,
		Samples:      len(m.samples),
	}
}
