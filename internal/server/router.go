package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/crewlink/pulse/internal/cache"
	"github.com/crewlink/pulse/internal/perfmon"
)

// CacheDiagnostics is the read surface the router needs from the cache store.
type CacheDiagnostics interface {
	Metrics(ctx context.Context) cache.Metrics
	HealthStatus(ctx context.Context) cache.HealthStatus
}

// AlertDiagnostics is the read surface the router needs from the alert engine.
type AlertDiagnostics interface {
	ActiveAlerts() []perfmon.Alert
	History(limit int) []perfmon.Alert
}

// HealthDiagnostics is the read surface the router needs from the scorer.
type HealthDiagnostics interface {
	LastReport() perfmon.HealthReport
}

// SnapshotDiagnostics is the read surface the router needs from the history ring.
type SnapshotDiagnostics interface {
	Latest() *perfmon.Snapshot
	Last(n int) []*perfmon.Snapshot
}

// Diagnostics bundles the component surfaces behind the HTTP routes. Any nil
// field downgrades its route to 503 rather than failing construction, so the
// listener can come up before every component is wired.
type Diagnostics struct {
	Cache   CacheDiagnostics
	Alerts  AlertDiagnostics
	Health  HealthDiagnostics
	History SnapshotDiagnostics
	Metrics http.Handler
}

// NewDiagnosticsHandler routes the read-only diagnostics surface. All routes
// are GET only; the Prometheus handler enforces its own methods.
func NewDiagnosticsHandler(d Diagnostics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}
		if d.Health == nil {
			unavailable(w)
			return
		}
		report := d.Health.LastReport()
		status := http.StatusOK
		if report.Status == perfmon.HealthUnhealthy || report.Status == perfmon.HealthCritical {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})

	mux.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}
		if d.Alerts == nil {
			unavailable(w)
			return
		}
		historyLimit := queryInt(r, "history", 50)
		writeJSON(w, http.StatusOK, map[string]any{
			"active":  d.Alerts.ActiveAlerts(),
			"history": d.Alerts.History(historyLimit),
		})
	})

	mux.HandleFunc("/cache", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}
		if d.Cache == nil {
			unavailable(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"metrics": d.Cache.Metrics(r.Context()),
			"health":  d.Cache.HealthStatus(r.Context()),
		})
	})

	mux.HandleFunc("/snapshots", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}
		if d.History == nil {
			unavailable(w)
			return
		}
		if n := queryInt(r, "last", 0); n > 0 {
			writeJSON(w, http.StatusOK, d.History.Last(n))
			return
		}
		latest := d.History.Latest()
		if latest == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "no snapshots collected yet"})
			return
		}
		writeJSON(w, http.StatusOK, latest)
	})

	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}

	return mux
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func unavailable(w http.ResponseWriter) {
	http.Error(w, "component unavailable", http.StatusServiceUnavailable)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
