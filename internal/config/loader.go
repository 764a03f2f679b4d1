package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := ParserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.redis.tls.cafile":               "server.redis.tls.caFile",
			"server.cache.defaultttlseconds":        "server.cache.defaultTtlSeconds",
			"server.cache.latencywindow":            "server.cache.latencyWindow",
			"server.cache.policyfile":               "server.cache.policyFile",
			"server.cache.health.minhitrate":        "server.cache.health.minHitRate",
			"server.cache.health.maxavglatencyms":   "server.cache.health.maxAvgLatencyMs",
			"server.monitor.collectintervalseconds": "server.monitor.collectIntervalSeconds",
			"server.monitor.healthintervalseconds":  "server.monitor.healthIntervalSeconds",
			"server.monitor.historysize":            "server.monitor.historySize",
			"server.monitor.samplewindow":           "server.monitor.sampleWindow",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into listenport when callers
			// choose not to use double underscores for object nesting. Metric names such as
			// response_time are addressed with double underscores to survive the collapse.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParserFor selects the koanf parser matching the file extension.
func ParserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return kyaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return ktoml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file format %s", path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	ttl := make(map[string]any, len(cfg.Server.Cache.TTL))
	for entity, seconds := range cfg.Server.Cache.TTL {
		ttl[entity] = seconds
	}
	thresholds := make(map[string]any, len(cfg.Server.Monitor.Thresholds))
	for name, pair := range cfg.Server.Monitor.Thresholds {
		thresholds[name] = map[string]any{
			"warning":  pair.Warning,
			"critical": pair.Critical,
		}
	}
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"redis": map[string]any{
				"address":   cfg.Server.Redis.Address,
				"username":  cfg.Server.Redis.Username,
				"password":  cfg.Server.Redis.Password,
				"db":        cfg.Server.Redis.DB,
				"namespace": cfg.Server.Redis.Namespace,
				"tls": map[string]any{
					"enabled": cfg.Server.Redis.TLS.Enabled,
					"caFile":  cfg.Server.Redis.TLS.CAFile,
				},
			},
			"cache": map[string]any{
				"defaultTtlSeconds": cfg.Server.Cache.DefaultTTLSeconds,
				"latencyWindow":     cfg.Server.Cache.LatencyWindow,
				"ttl":               ttl,
				"policyFile":        cfg.Server.Cache.PolicyFile,
				"health": map[string]any{
					"minHitRate":      cfg.Server.Cache.Health.MinHitRate,
					"maxAvgLatencyMs": cfg.Server.Cache.Health.MaxAvgLatencyMs,
				},
			},
			"monitor": map[string]any{
				"collectIntervalSeconds": cfg.Server.Monitor.CollectIntervalSeconds,
				"healthIntervalSeconds":  cfg.Server.Monitor.HealthIntervalSeconds,
				"historySize":            cfg.Server.Monitor.HistorySize,
				"sampleWindow":           cfg.Server.Monitor.SampleWindow,
				"thresholds":             thresholds,
			},
		},
	}
}
