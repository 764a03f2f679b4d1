package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpexpect "github.com/gavv/httpexpect/v2"

	"github.com/crewlink/pulse/internal/cache"
	"github.com/crewlink/pulse/internal/perfmon"
)

type stubCache struct {
	metrics cache.Metrics
	health  cache.HealthStatus
}

func (s *stubCache) Metrics(context.Context) cache.Metrics           { return s.metrics }
func (s *stubCache) HealthStatus(context.Context) cache.HealthStatus { return s.health }

type stubAlerts struct {
	active  []perfmon.Alert
	history []perfmon.Alert
	limit   int
}

func (s *stubAlerts) ActiveAlerts() []perfmon.Alert { return s.active }
func (s *stubAlerts) History(limit int) []perfmon.Alert {
	s.limit = limit
	return s.history
}

type stubHealth struct {
	report perfmon.HealthReport
}

func (s *stubHealth) LastReport() perfmon.HealthReport { return s.report }

func newDiagExpect(t *testing.T, d Diagnostics) (*httpexpect.Expect, func()) {
	srv := httptest.NewServer(NewDiagnosticsHandler(d))
	return httpexpect.Default(t, srv.URL), srv.Close
}

func TestRouterHealthz(t *testing.T) {
	e, closeFn := newDiagExpect(t, Diagnostics{
		Health: &stubHealth{report: perfmon.HealthReport{
			Status:    perfmon.HealthHealthy,
			Score:     100,
			Timestamp: time.Now().UTC(),
		}},
	})
	defer closeFn()

	e.GET("/healthz").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("status", "healthy").
		HasValue("score", 100)
}

func TestRouterHealthzDegradedStatusCode(t *testing.T) {
	e, closeFn := newDiagExpect(t, Diagnostics{
		Health: &stubHealth{report: perfmon.HealthReport{Status: perfmon.HealthCritical, Score: 30}},
	})
	defer closeFn()

	e.GET("/healthz").
		Expect().
		Status(http.StatusServiceUnavailable).
		JSON().Object().
		HasValue("status", "critical")
}

func TestRouterAlerts(t *testing.T) {
	alerts := &stubAlerts{
		active: []perfmon.Alert{{
			ID:       "a-1",
			Type:     perfmon.AlertCPU,
			Severity: perfmon.SeverityMedium,
			Value:    80,
		}},
		history: []perfmon.Alert{{ID: "a-0", Resolved: true}},
	}
	e, closeFn := newDiagExpect(t, Diagnostics{Alerts: alerts})
	defer closeFn()

	obj := e.GET("/alerts").
		WithQuery("history", 5).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.Value("active").Array().Length().IsEqual(1)
	obj.Value("active").Array().Value(0).Object().HasValue("id", "a-1")
	obj.Value("history").Array().Length().IsEqual(1)

	if alerts.limit != 5 {
		t.Fatalf("expected history limit 5 forwarded, got %d", alerts.limit)
	}
}

func TestRouterCache(t *testing.T) {
	e, closeFn := newDiagExpect(t, Diagnostics{
		Cache: &stubCache{
			metrics: cache.Metrics{Hits: 10, Misses: 2, HitRate: 83.33},
			health:  cache.HealthStatus{Status: cache.StatusHealthy, Connected: true},
		},
	})
	defer closeFn()

	obj := e.GET("/cache").
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.Value("metrics").Object().HasValue("hitRate", 83.33)
	obj.Value("health").Object().HasValue("status", "healthy")
}

func TestRouterSnapshots(t *testing.T) {
	ring := perfmon.NewRing(4)
	e, closeFn := newDiagExpect(t, Diagnostics{History: ring})
	defer closeFn()

	e.GET("/snapshots").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		ContainsKey("status")

	ring.Append(&perfmon.Snapshot{Timestamp: time.Now().UTC(), CPU: perfmon.CPUMetrics{UsagePercent: 40}})
	ring.Append(&perfmon.Snapshot{Timestamp: time.Now().UTC(), CPU: perfmon.CPUMetrics{UsagePercent: 50}})

	e.GET("/snapshots").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("cpu").Object().HasValue("usagePercent", 50)

	e.GET("/snapshots").
		WithQuery("last", 2).
		Expect().
		Status(http.StatusOK).
		JSON().Array().Length().IsEqual(2)
}

func TestRouterMethodFiltering(t *testing.T) {
	e, closeFn := newDiagExpect(t, Diagnostics{Health: &stubHealth{}})
	defer closeFn()

	e.POST("/healthz").Expect().Status(http.StatusMethodNotAllowed)
	e.DELETE("/alerts").Expect().Status(http.StatusMethodNotAllowed)
}

func TestRouterUnwiredComponents(t *testing.T) {
	e, closeFn := newDiagExpect(t, Diagnostics{})
	defer closeFn()

	e.GET("/healthz").Expect().Status(http.StatusServiceUnavailable)
	e.GET("/alerts").Expect().Status(http.StatusServiceUnavailable)
	e.GET("/cache").Expect().Status(http.StatusServiceUnavailable)
	e.GET("/snapshots").Expect().Status(http.StatusServiceUnavailable)
	e.GET("/metrics").Expect().Status(http.StatusNotFound)
}
