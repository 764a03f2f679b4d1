package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crewlink/pulse/internal/cache"
	"github.com/crewlink/pulse/internal/config"
	"github.com/crewlink/pulse/internal/metrics"
	"github.com/crewlink/pulse/internal/perfmon"
	"github.com/crewlink/pulse/internal/server"
)

// Assembles the full core the way main does, against an in-process backend,
// and exercises the diagnostics surface end to end.
func TestCoreAssembly(t *testing.T) {
	backend, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer backend.Close()

	cfg := config.DefaultConfig()
	cfg.Server.Redis.Address = backend.Addr()

	logger := slog.New(slog.DiscardHandler)
	rec := metrics.NewRecorder(prometheus.NewRegistry())

	client, err := cache.NewClient(cache.BackendConfig{Address: cfg.Server.Redis.Address})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	store := cache.NewStore(client, logger, cache.StoreOptions{
		Namespace: cfg.Server.Redis.Namespace,
		Policy: cache.NewTTLPolicy(
			time.Duration(cfg.Server.Cache.DefaultTTLSeconds)*time.Second,
			cfg.Server.Cache.TTL,
		),
		LatencyWindow: cfg.Server.Cache.LatencyWindow,
		Metrics:       rec,
	})
	defer store.Close(context.Background())

	collector := perfmon.NewCollector(logger, perfmon.CollectorOptions{
		Interval:     10 * time.Millisecond,
		HistorySize:  cfg.Server.Monitor.HistorySize,
		SampleWindow: cfg.Server.Monitor.SampleWindow,
		Metrics:      rec,
	})
	engine := perfmon.NewEngine(logger, collector.Events(), perfmon.EngineOptions{
		Thresholds: alertThresholds(cfg.Server.Monitor.Thresholds),
		Metrics:    rec,
	})
	collector.AddEvaluator(engine)
	scorer := perfmon.NewScorer(logger, collector.Events(), collector.History(), perfmon.ScorerOptions{
		Interval:   10 * time.Millisecond,
		Thresholds: healthThresholds(cfg.Server.Monitor.Thresholds),
		Metrics:    rec,
	})

	collector.Start(t.Context())
	defer collector.Stop()
	scorer.Start(t.Context())
	defer scorer.Stop()

	// Cache traffic flows through the store.
	if ok := store.Set(context.Background(), "user:1", "alpha", time.Minute, []string{"user"}); !ok {
		t.Fatalf("expected set to succeed")
	}
	if _, ok := store.Get(context.Background(), "user:1"); !ok {
		t.Fatalf("expected hit")
	}
	collector.RecordCustomMetric(perfmon.MetricVoiceCommand, 42)

	deadline := time.Now().Add(2 * time.Second)
	for collector.History().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if collector.History().Len() == 0 {
		t.Fatalf("expected a collection cycle")
	}

	srv := httptest.NewServer(server.NewDiagnosticsHandler(server.Diagnostics{
		Cache:   store,
		Alerts:  engine,
		Health:  scorer,
		History: collector.History(),
		Metrics: rec.Handler(),
	}))
	defer srv.Close()

	var cachePayload struct {
		Metrics cache.Metrics      `json:"metrics"`
		Health  cache.HealthStatus `json:"health"`
	}
	getJSON(t, srv.URL+"/cache", &cachePayload)
	if cachePayload.Metrics.Hits != 1 {
		t.Fatalf("expected 1 hit over diagnostics, got %+v", cachePayload.Metrics)
	}
	if !cachePayload.Health.Connected {
		t.Fatalf("expected connected backend: %+v", cachePayload.Health)
	}

	var alertsPayload struct {
		Active  []perfmon.Alert `json:"active"`
		History []perfmon.Alert `json:"history"`
	}
	getJSON(t, srv.URL+"/alerts", &alertsPayload)
	if alertsPayload.Active == nil && alertsPayload.History == nil {
		// Both empty is fine on a healthy host; the route just has to answer.
		t.Log("no alerts on test host")
	}

	res, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", res.StatusCode)
	}
	if !strings.Contains(string(body), "pulse_cache_operations_total") {
		t.Fatalf("expected cache counters in exposition output")
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d", url, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
