package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crewlink/pulse/internal/cache"
	"github.com/crewlink/pulse/internal/config"
	"github.com/crewlink/pulse/internal/expr"
	"github.com/crewlink/pulse/internal/logging"
	"github.com/crewlink/pulse/internal/metrics"
	"github.com/crewlink/pulse/internal/perfmon"
	"github.com/crewlink/pulse/internal/server"
	"github.com/crewlink/pulse/internal/templates"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "PULSE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	client, err := cache.NewClient(cache.BackendConfig{
		Address:  cfg.Server.Redis.Address,
		Username: cfg.Server.Redis.Username,
		Password: cfg.Server.Redis.Password,
		DB:       cfg.Server.Redis.DB,
		TLS: cache.BackendTLSConfig{
			Enabled: cfg.Server.Redis.TLS.Enabled,
			CAFile:  cfg.Server.Redis.TLS.CAFile,
		},
	})
	if err != nil {
		logger.Error("cache backend connection failed", slog.Any("error", err))
		os.Exit(1)
	}

	policy := cache.NewTTLPolicy(
		time.Duration(cfg.Server.Cache.DefaultTTLSeconds)*time.Second,
		cfg.Server.Cache.TTL,
	)
	store := cache.NewStore(client, logger, cache.StoreOptions{
		Namespace:       cfg.Server.Redis.Namespace,
		Policy:          policy,
		LatencyWindow:   cfg.Server.Cache.LatencyWindow,
		MinHitRate:      cfg.Server.Cache.Health.MinHitRate,
		MaxAvgLatencyMs: cfg.Server.Cache.Health.MaxAvgLatencyMs,
		Metrics:         metricsRecorder,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	var policyWatcher *config.PolicyWatcher
	if strings.TrimSpace(cfg.Server.Cache.PolicyFile) != "" {
		watcher, err := loader.WatchTTLPolicy(ctx, cfg.Server.Cache.PolicyFile, func(table map[string]int) {
			store.Policy().ReplaceAll(table)
			logger.Info("ttl policy reloaded", slog.Int("entries", len(table)))
		}, func(err error) {
			if err != nil {
				logger.Error("ttl policy watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("ttl policy watcher setup failed", slog.Any("error", err))
		} else {
			policyWatcher = watcher
			defer policyWatcher.Stop()
		}
	}

	collector := perfmon.NewCollector(logger, perfmon.CollectorOptions{
		Interval:     time.Duration(cfg.Server.Monitor.CollectIntervalSeconds) * time.Second,
		HistorySize:  cfg.Server.Monitor.HistorySize,
		SampleWindow: cfg.Server.Monitor.SampleWindow,
		Metrics:      metricsRecorder,
	})

	engine := perfmon.NewEngine(logger, collector.Events(), perfmon.EngineOptions{
		Thresholds: alertThresholds(cfg.Server.Monitor.Thresholds),
		Mute:       compileMutes(logger, cfg.Server.Monitor.Mute),
		Messages:   compileMessages(logger, cfg.Server.Monitor.Messages),
		Metrics:    metricsRecorder,
	})
	collector.AddEvaluator(engine)

	scorer := perfmon.NewScorer(logger, collector.Events(), collector.History(), perfmon.ScorerOptions{
		Interval:   time.Duration(cfg.Server.Monitor.HealthIntervalSeconds) * time.Second,
		Thresholds: healthThresholds(cfg.Server.Monitor.Thresholds),
		Metrics:    metricsRecorder,
	})

	collector.Start(ctx)
	defer collector.Stop()
	scorer.Start(ctx)
	defer scorer.Stop()

	handler := server.NewDiagnosticsHandler(server.Diagnostics{
		Cache:   store,
		Alerts:  engine,
		Health:  scorer,
		History: collector.History(),
		Metrics: metricsRecorder.Handler(),
	})

	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// alertThresholds narrows the configured threshold table to the four alerting
// metric types. The connection pair only participates in health scoring.
func alertThresholds(table map[string]config.ThresholdConfig) map[perfmon.AlertType]perfmon.Threshold {
	out := make(map[perfmon.AlertType]perfmon.Threshold, 4)
	for _, t := range []perfmon.AlertType{perfmon.AlertCPU, perfmon.AlertMemory, perfmon.AlertResponseTime, perfmon.AlertErrorRate} {
		if pair, ok := table[string(t)]; ok {
			out[t] = perfmon.Threshold{Warning: pair.Warning, Critical: pair.Critical}
		}
	}
	return out
}

func healthThresholds(table map[string]config.ThresholdConfig) map[string]perfmon.Threshold {
	out := make(map[string]perfmon.Threshold, len(table))
	for name, pair := range table {
		out[name] = perfmon.Threshold{Warning: pair.Warning, Critical: pair.Critical}
	}
	return out
}

// compileMutes turns configured mute expressions into programs. A broken
// expression is logged and skipped so one bad predicate never blocks startup.
func compileMutes(logger *slog.Logger, sources map[string]string) map[perfmon.AlertType]expr.Program {
	if len(sources) == 0 {
		return nil
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		logger.Error("mute expression environment failed", slog.Any("error", err))
		return nil
	}
	out := make(map[perfmon.AlertType]expr.Program, len(sources))
	for name, src := range sources {
		if strings.TrimSpace(src) == "" {
			continue
		}
		prog, err := env.Compile(src)
		if err != nil {
			logger.Error("mute expression invalid", slog.String("metric", name), slog.Any("error", err))
			continue
		}
		out[perfmon.AlertType(name)] = prog
	}
	return out
}

// compileMessages turns configured message templates into renderers, skipping
// broken templates with a log line.
func compileMessages(logger *slog.Logger, sources map[string]string) map[perfmon.AlertType]*templates.Template {
	if len(sources) == 0 {
		return nil
	}
	renderer := templates.NewRenderer()
	out := make(map[perfmon.AlertType]*templates.Template, len(sources))
	for name, src := range sources {
		tmpl, err := renderer.CompileInline(name, src)
		if err != nil {
			logger.Error("alert message template invalid", slog.String("metric", name), slog.Any("error", err))
			continue
		}
		if tmpl != nil {
			out[perfmon.AlertType(name)] = tmpl
		}
	}
	return out
}
