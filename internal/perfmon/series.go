package perfmon

import (
	"math"
	"sort"
	"sync"
)

// Series is a rolling latency sample window. Every series carries its own
// mutex so recordings from unrelated subsystems never serialize on a shared
// lock.
type Series struct {
	name   string
	window int

	mu       sync.Mutex
	samples  []float64
	interval int
}

// NewSeries builds a series keeping at most window samples.
func NewSeries(name string, window int) *Series {
	if window <= 0 {
		window = 500
	}
	return &Series{name: name, window: window, samples: make([]float64, 0, window)}
}

// Record appends one sample, evicting the oldest beyond the window.
func (s *Series) Record(value float64) {
	s.mu.Lock()
	s.samples = append(s.samples, value)
	if len(s.samples) > s.window {
		s.samples = s.samples[len(s.samples)-s.window:]
	}
	s.interval++
	s.mu.Unlock()
}

// Aggregate returns the window average, p95, window size, and the number of
// samples recorded since the previous call, resetting the interval counter.
// The collector calls this exactly once per cycle.
func (s *Series) Aggregate() SubsystemMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := SubsystemMetrics{
		WindowSamples:   len(s.samples),
		IntervalSamples: s.interval,
	}
	s.interval = 0
	if len(s.samples) == 0 {
		return out
	}

	sorted := make([]float64, len(s.samples))
	copy(sorted, s.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	out.AvgMs = math.Round(sum/float64(len(sorted))*100) / 100

	idx := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	out.P95Ms = math.Round(sorted[idx]*100) / 100
	return out
}
