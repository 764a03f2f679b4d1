package perfmon

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/crewlink/pulse/internal/events"
	"github.com/crewlink/pulse/internal/metrics"
)

// Health status buckets derived from the aggregate score.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthCritical  = "critical"
	HealthUnknown   = "unknown"
)

// Check names contributing to the aggregate score.
const (
	CheckCPU          = "cpu"
	CheckMemory       = "memory"
	CheckResponseTime = "response_time"
	CheckErrorRate    = "error_rate"
	CheckConnectivity = "connectivity"
)

// checkOrder fixes the report layout.
var checkOrder = []string{CheckCPU, CheckMemory, CheckResponseTime, CheckErrorRate, CheckConnectivity}

// CheckResult is one scored dimension of a health report.
type CheckResult struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Value float64 `json:"value"`
}

// HealthReport is the aggregate output of one scoring pass.
type HealthReport struct {
	Status    string        `json:"status"`
	Score     float64       `json:"score"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// ScorerOptions configures the health scorer. Thresholds are keyed by metric
// type; connectivity scores against the connection entry.
type ScorerOptions struct {
	Interval   time.Duration
	Thresholds map[string]Threshold
	Metrics    *metrics.Recorder
}

// Scorer periodically grades the newest snapshot across five dimensions and
// publishes a bucketed status. It runs on its own timer so health reporting
// keeps a steady cadence regardless of the collection interval.
type Scorer struct {
	logger     *slog.Logger
	emitter    *events.Emitter
	rec        *metrics.Recorder
	ring       *Ring
	interval   time.Duration
	thresholds map[string]Threshold

	mu   sync.RWMutex
	last HealthReport

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScorer constructs a scorer reading history from the collector's ring and
// emitting through the given emitter.
func NewScorer(logger *slog.Logger, emitter *events.Emitter, ring *Ring, opts ScorerOptions) *Scorer {
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scorer{
		logger:     logger.With(slog.String("component", "health")),
		emitter:    emitter,
		rec:        opts.Metrics,
		ring:       ring,
		interval:   interval,
		thresholds: opts.Thresholds,
		done:       make(chan struct{}),
		last:       HealthReport{Status: HealthUnknown},
	}
}

// Start launches the scoring timer.
func (s *Scorer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		go func() {
			defer close(s.done)
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					s.runOnce()
				}
			}
		}()
	})
}

// Stop halts the timer and waits for the loop to exit.
func (s *Scorer) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

// LastReport returns the most recent report. Before the first pass the status
// is unknown with a zero score.
func (s *Scorer) LastReport() HealthReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// runOnce scores the newest snapshot and publishes the report. A health_check
// event is emitted on every pass, including when no snapshot exists yet, so
// listeners always observe the cadence.
func (s *Scorer) runOnce() {
	report := s.Score(s.ring.Latest())
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	s.rec.SetHealthScore(report.Score)
	s.emitter.Emit(events.HealthCheck, report)
	if report.Status == HealthUnhealthy || report.Status == HealthCritical {
		s.logger.Warn("health degraded",
			slog.String("status", report.Status),
			slog.Float64("score", report.Score))
	}
}

// Score grades one snapshot. Each check yields 100 below warning, 70 between
// warning and critical, and 30 at or above critical; the aggregate is the
// plain average.
func (s *Scorer) Score(snap *Snapshot) HealthReport {
	now := time.Now().UTC()
	if snap == nil {
		return HealthReport{Status: HealthUnknown, Score: 0, Timestamp: now}
	}

	checks := make([]CheckResult, 0, len(checkOrder))
	var total float64
	for _, name := range checkOrder {
		metricName := name
		if name == CheckConnectivity {
			metricName = "connection"
		}
		value := snap.Metric(metricName)
		score := 100.0
		if th, ok := s.thresholds[metricName]; ok {
			switch {
			case value >= th.Critical:
				score = 30
			case value >= th.Warning:
				score = 70
			}
		}
		checks = append(checks, CheckResult{Name: name, Score: score, Value: value})
		total += score
	}

	score := math.Round(total/float64(len(checks))*100) / 100
	status := HealthCritical
	switch {
	case score >= 90:
		status = HealthHealthy
	case score >= 70:
		status = HealthDegraded
	case score >= 50:
		status = HealthUnhealthy
	}
	return HealthReport{Status: status, Score: score, Checks: checks, Timestamp: now}
}
