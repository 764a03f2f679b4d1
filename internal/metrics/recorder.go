// Package metrics publishes Prometheus series for cache and monitor activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache operation labels.
const (
	CacheOpGet        = "get"
	CacheOpSet        = "set"
	CacheOpDelete     = "delete"
	CacheOpMGet       = "mget"
	CacheOpMSet       = "mset"
	CacheOpInvalidate = "invalidate"
)

// Operation result labels.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultOK    = "ok"
	ResultError = "error"
)

// Recorder publishes Prometheus metrics. All methods tolerate a nil receiver
// so instrumentation stays optional for library consumers.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheOps     *prometheus.CounterVec
	cacheLatency *prometheus.HistogramVec
	hitRatio     prometheus.Gauge

	cycleDuration prometheus.Histogram
	healthScore   prometheus.Gauge
	activeAlerts  *prometheus.GaugeVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations executed against the backend.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pulse",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	hitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Subsystem: "cache",
		Name:      "hit_ratio",
		Help:      "Rolling cache hit rate in percent.",
	})

	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pulse",
		Subsystem: "monitor",
		Name:      "cycle_duration_seconds",
		Help:      "Latency distribution for metrics collection cycles.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	healthScore := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Subsystem: "monitor",
		Name:      "health_score",
		Help:      "Latest aggregate health score from 0 to 100.",
	})

	activeAlerts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pulse",
		Subsystem: "monitor",
		Name:      "active_alerts",
		Help:      "Unresolved alerts by metric type.",
	}, []string{"type"})

	reg.MustRegister(cacheOps, cacheLatency, hitRatio, cycleDuration, healthScore, activeAlerts)

	return &Recorder{
		gatherer:      reg,
		handler:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cacheOps:      cacheOps,
		cacheLatency:  cacheLatency,
		hitRatio:      hitRatio,
		cycleDuration: cycleDuration,
		healthScore:   healthScore,
		activeAlerts:  activeAlerts,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCacheOp records one cache operation with its outcome and latency.
func (r *Recorder) ObserveCacheOp(operation, result string, duration time.Duration) {
	if r == nil {
		return
	}
	r.cacheOps.WithLabelValues(operation, result).Inc()
	r.cacheLatency.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// SetCacheHitRatio publishes the rolling hit rate.
func (r *Recorder) SetCacheHitRatio(percent float64) {
	if r == nil {
		return
	}
	r.hitRatio.Set(percent)
}

// ObserveCycle records the duration of one metrics collection cycle.
func (r *Recorder) ObserveCycle(duration time.Duration) {
	if r == nil {
		return
	}
	r.cycleDuration.Observe(duration.Seconds())
}

// SetHealthScore publishes the latest aggregate health score.
func (r *Recorder) SetHealthScore(score float64) {
	if r == nil {
		return
	}
	r.healthScore.Set(score)
}

// SetActiveAlerts publishes the unresolved alert gauge for one metric type.
func (r *Recorder) SetActiveAlerts(metricType string, count int) {
	if r == nil {
		return
	}
	r.activeAlerts.WithLabelValues(metricType).Set(float64(count))
}
