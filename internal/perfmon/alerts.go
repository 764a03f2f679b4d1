package perfmon

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewlink/pulse/internal/events"
	"github.com/crewlink/pulse/internal/expr"
	"github.com/crewlink/pulse/internal/metrics"
	"github.com/crewlink/pulse/internal/templates"
)

// AlertType identifies one monitored condition.
type AlertType string

const (
	AlertCPU          AlertType = "cpu"
	AlertMemory       AlertType = "memory"
	AlertResponseTime AlertType = "response_time"
	AlertErrorRate    AlertType = "error_rate"
)

// alertTypes is the fixed evaluation order of the engine.
var alertTypes = []AlertType{AlertCPU, AlertMemory, AlertResponseTime, AlertErrorRate}

// Severity grades an active alert.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityCritical Severity = "critical"
)

// Threshold pairs the warning and critical bounds for one metric type. It is
// immutable for the engine's lifetime.
type Threshold struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// Alert is one breach record. At most one unresolved alert exists per type;
// resolved alerts are retained as history and a later breach opens a new
// record with a new id.
type Alert struct {
	ID         string     `json:"id"`
	Type       AlertType  `json:"type"`
	Severity   Severity   `json:"severity"`
	Threshold  float64    `json:"threshold"`
	Value      float64    `json:"value"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"createdAt"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// EngineOptions configures the alert engine.
type EngineOptions struct {
	Thresholds   map[AlertType]Threshold
	Mute         map[AlertType]expr.Program
	Messages     map[AlertType]*templates.Template
	HistoryLimit int
	Metrics      *metrics.Recorder
}

// Engine runs the per-type alert state machine over each snapshot. The four
// metric types are evaluated independently; there are no composite alerts.
type Engine struct {
	logger  *slog.Logger
	emitter *events.Emitter
	rec     *metrics.Recorder

	thresholds   map[AlertType]Threshold
	mute         map[AlertType]expr.Program
	messages     map[AlertType]*templates.Template
	historyLimit int

	mu      sync.Mutex
	active  map[AlertType]*Alert
	history []Alert
}

// NewEngine constructs an engine emitting through the provided emitter,
// normally the collector's.
func NewEngine(logger *slog.Logger, emitter *events.Emitter, opts EngineOptions) *Engine {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 200
	}
	return &Engine{
		logger:       logger.With(slog.String("component", "alerts")),
		emitter:      emitter,
		rec:          opts.Metrics,
		thresholds:   opts.Thresholds,
		mute:         opts.Mute,
		messages:     opts.Messages,
		historyLimit: limit,
	}
}

// Evaluate runs the state machine for every alert type against the snapshot.
func (e *Engine) Evaluate(snap *Snapshot) {
	if snap == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		e.active = make(map[AlertType]*Alert, len(alertTypes))
	}
	for _, t := range alertTypes {
		e.evaluateType(t, snap)
		count := 0
		if _, ok := e.active[t]; ok {
			count = 1
		}
		e.rec.SetActiveAlerts(string(t), count)
	}
}

// evaluateType advances one type's state machine. Must be called with the
// engine mutex held.
func (e *Engine) evaluateType(t AlertType, snap *Snapshot) {
	th, ok := e.thresholds[t]
	if !ok {
		return
	}
	value := snap.Metric(string(t))
	cur := e.active[t]
	now := time.Now().UTC()

	if value < th.Warning {
		if cur == nil {
			return
		}
		cur.Resolved = true
		cur.ResolvedAt = &now
		cur.Value = value
		e.appendHistory(*cur)
		delete(e.active, t)
		e.emitter.Emit(events.PerformanceResolved, *cur)
		e.logger.Info("alert resolved",
			slog.String("type", string(t)),
			slog.String("id", cur.ID),
			slog.Float64("value", value))
		return
	}

	severity := SeverityMedium
	threshold := th.Warning
	if value >= th.Critical {
		severity = SeverityCritical
		threshold = th.Critical
	}

	if cur == nil {
		if e.muted(t, snap) {
			e.logger.Debug("alert muted", slog.String("type", string(t)), slog.Float64("value", value))
			return
		}
		alert := &Alert{
			ID:        uuid.NewString(),
			Type:      t,
			Severity:  severity,
			Threshold: threshold,
			Value:     value,
			CreatedAt: now,
		}
		alert.Message = e.message(t, severity, value, threshold)
		e.active[t] = alert
		e.emitter.Emit(events.PerformanceAlert, *alert)
		e.logger.Warn("alert raised",
			slog.String("type", string(t)),
			slog.String("id", alert.ID),
			slog.String("severity", string(severity)),
			slog.Float64("value", value),
			slog.Float64("threshold", threshold))
		return
	}

	// Still breaching: refresh in place, never duplicate. Re-announce only
	// when the severity escalates to critical.
	escalated := severity == SeverityCritical && cur.Severity != SeverityCritical
	cur.Severity = severity
	cur.Threshold = threshold
	cur.Value = value
	cur.CreatedAt = now
	cur.Message = e.message(t, severity, value, threshold)
	if escalated {
		e.emitter.Emit(events.PerformanceAlert, *cur)
		e.logger.Warn("alert escalated",
			slog.String("type", string(t)),
			slog.String("id", cur.ID),
			slog.Float64("value", value))
	}
}

// muted evaluates the optional mute predicate for the type. Evaluation
// failures are logged and treated as not muted.
func (e *Engine) muted(t AlertType, snap *Snapshot) bool {
	prog, ok := e.mute[t]
	if !ok {
		return false
	}
	muted, err := prog.EvalBool(map[string]any{
		"cpu":           snap.CPU.UsagePercent,
		"memory":        snap.Memory.UsedPercent,
		"response_time": snap.Voice.AvgMs,
		"error_rate":    snap.Voice.ErrorRatePercent,
		"connections":   float64(snap.Network.ActiveConnections),
		"now":           snap.Timestamp,
	})
	if err != nil {
		e.logger.Warn("mute expression failed", slog.String("type", string(t)), slog.Any("error", err))
		return false
	}
	return muted
}

// message renders the configured template for the type, falling back to a
// plain description.
func (e *Engine) message(t AlertType, severity Severity, value, threshold float64) string {
	if tmpl, ok := e.messages[t]; ok && tmpl != nil {
		rendered, err := tmpl.Render(templates.AlertContext{
			Type:      string(t),
			Severity:  string(severity),
			Value:     value,
			Threshold: threshold,
		})
		if err == nil {
			return rendered
		}
		e.logger.Warn("alert message render failed", slog.String("type", string(t)), slog.Any("error", err))
	}
	return fmt.Sprintf("%s at %.2f breached the %s threshold %.2f", t, value, severity, threshold)
}

// appendHistory retains the resolved alert, trimming the oldest beyond the
// limit. Must be called with the engine mutex held.
func (e *Engine) appendHistory(alert Alert) {
	e.history = append(e.history, alert)
	if len(e.history) > e.historyLimit {
		e.history = e.history[len(e.history)-e.historyLimit:]
	}
}

// ActiveAlerts returns a copy of every unresolved alert.
func (e *Engine) ActiveAlerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, 0, len(e.active))
	for _, t := range alertTypes {
		if alert, ok := e.active[t]; ok {
			out = append(out, *alert)
		}
	}
	return out
}

// History returns up to limit resolved alerts, newest last.
func (e *Engine) History(limit int) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]Alert, limit)
	copy(out, e.history[len(e.history)-limit:])
	return out
}
