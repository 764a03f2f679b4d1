package cache

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Metrics is the point-in-time view produced by Store.Metrics.
type Metrics struct {
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	HitRate         float64 `json:"hitRate"`
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
	P95LatencyMs    float64 `json:"p95LatencyMs"`
	Keys            int64   `json:"keys"`
	TotalOperations uint64  `json:"totalOperations"`
}

// stats accumulates hit/miss counters and a rolling latency window. A single
// mutex suffices here: every mutation is a short append or increment on the
// cache request path.
type stats struct {
	mu        sync.Mutex
	hits      uint64
	misses    uint64
	ops       uint64
	window    int
	latencies []float64
}

func newStats(window int) *stats {
	if window <= 0 {
		window = 1000
	}
	return &stats{window: window, latencies: make([]float64, 0, window)}
}

func (s *stats) recordHit(d time.Duration) {
	s.mu.Lock()
	s.hits++
	s.record(d)
	s.mu.Unlock()
}

func (s *stats) recordMiss(d time.Duration) {
	s.mu.Lock()
	s.misses++
	s.record(d)
	s.mu.Unlock()
}

func (s *stats) recordOp(d time.Duration) {
	s.mu.Lock()
	s.record(d)
	s.mu.Unlock()
}

// recordBatch counts one round trip with aggregate hit/miss results, used by
// batched reads.
func (s *stats) recordBatch(hits, misses uint64, d time.Duration) {
	s.mu.Lock()
	s.hits += hits
	s.misses += misses
	s.record(d)
	s.mu.Unlock()
}

// record must be called with the mutex held. The window drops its oldest
// sample beyond capacity.
func (s *stats) record(d time.Duration) {
	s.ops++
	s.latencies = append(s.latencies, float64(d)/float64(time.Millisecond))
	if len(s.latencies) > s.window {
		s.latencies = s.latencies[len(s.latencies)-s.window:]
	}
}

// hitRate returns hits/(hits+misses)*100 rounded to two decimals, or zero
// before any lookup happened.
func (s *stats) hitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hitRateLocked(s.hits, s.misses)
}

func hitRateLocked(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return math.Round(float64(hits)/float64(total)*100*100) / 100
}

// snapshot folds the counters and the latency window into Metrics. The key
// count is supplied by the caller since it requires a backend round trip.
func (s *stats) snapshot(keys int64) Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		Hits:            s.hits,
		Misses:          s.misses,
		HitRate:         hitRateLocked(s.hits, s.misses),
		Keys:            keys,
		TotalOperations: s.ops,
	}
	if len(s.latencies) == 0 {
		return m
	}
	sorted := make([]float64, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	m.AvgLatencyMs = math.Round(sum/float64(len(sorted))*100) / 100

	idx := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	m.P95LatencyMs = math.Round(sorted[idx]*100) / 100
	return m
}
