package config

import (
	"errors"
	"fmt"
	"strings"
)

// MetricNames enumerates the monitored metric types that accept threshold
// pairs. cpu, memory, response_time, and error_rate drive alerts; connection
// participates in health scoring only.
var MetricNames = []string{"cpu", "memory", "response_time", "error_rate", "connection"}

// Config holds every server-level option for the pulse core.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle component.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Redis   RedisConfig   `koanf:"redis"`
	Cache   CacheConfig   `koanf:"cache"`
	Monitor MonitorConfig `koanf:"monitor"`
}

// ListenConfig instructs the diagnostics HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RedisConfig carries connection parameters for the Redis-compatible backend.
type RedisConfig struct {
	Address   string         `koanf:"address"`
	Username  string         `koanf:"username"`
	Password  string         `koanf:"password"`
	DB        int            `koanf:"db"`
	Namespace string         `koanf:"namespace"`
	TLS       RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// CacheConfig tunes the cache store and its health evaluation.
type CacheConfig struct {
	DefaultTTLSeconds int               `koanf:"defaultTtlSeconds"`
	LatencyWindow     int               `koanf:"latencyWindow"`
	TTL               map[string]int    `koanf:"ttl"`
	PolicyFile        string            `koanf:"policyFile"`
	Health            CacheHealthConfig `koanf:"health"`
}

// CacheHealthConfig holds the cache-level health thresholds. These are a
// separate surface from the monitor thresholds: the cache judges itself on
// hit rate and latency while the monitor judges the whole process.
type CacheHealthConfig struct {
	MinHitRate      float64 `koanf:"minHitRate"`
	MaxAvgLatencyMs float64 `koanf:"maxAvgLatencyMs"`
}

// MonitorConfig drives the metrics collector, alert engine, and health scorer.
type MonitorConfig struct {
	CollectIntervalSeconds int                        `koanf:"collectIntervalSeconds"`
	HealthIntervalSeconds  int                        `koanf:"healthIntervalSeconds"`
	HistorySize            int                        `koanf:"historySize"`
	SampleWindow           int                        `koanf:"sampleWindow"`
	Thresholds             map[string]ThresholdConfig `koanf:"thresholds"`
	Mute                   map[string]string          `koanf:"mute"`
	Messages               map[string]string          `koanf:"messages"`
}

// ThresholdConfig pairs the warning and critical bounds for one metric type.
// It is immutable for the monitor's lifetime once loaded.
type ThresholdConfig struct {
	Warning  float64 `koanf:"warning"`
	Critical float64 `koanf:"critical"`
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if strings.TrimSpace(c.Server.Redis.Address) == "" {
		return errors.New("config: server.redis.address required")
	}
	if c.Server.Cache.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("config: server.cache.defaultTtlSeconds invalid: %d", c.Server.Cache.DefaultTTLSeconds)
	}
	if c.Server.Cache.LatencyWindow <= 0 {
		return fmt.Errorf("config: server.cache.latencyWindow invalid: %d", c.Server.Cache.LatencyWindow)
	}
	for entity, ttl := range c.Server.Cache.TTL {
		if ttl <= 0 {
			return fmt.Errorf("config: server.cache.ttl.%s invalid: %d", entity, ttl)
		}
	}
	if c.Server.Monitor.CollectIntervalSeconds <= 0 {
		return fmt.Errorf("config: server.monitor.collectIntervalSeconds invalid: %d", c.Server.Monitor.CollectIntervalSeconds)
	}
	if c.Server.Monitor.HealthIntervalSeconds <= 0 {
		return fmt.Errorf("config: server.monitor.healthIntervalSeconds invalid: %d", c.Server.Monitor.HealthIntervalSeconds)
	}
	if c.Server.Monitor.HistorySize <= 0 {
		return fmt.Errorf("config: server.monitor.historySize invalid: %d", c.Server.Monitor.HistorySize)
	}
	if c.Server.Monitor.SampleWindow <= 0 {
		return fmt.Errorf("config: server.monitor.sampleWindow invalid: %d", c.Server.Monitor.SampleWindow)
	}
	known := make(map[string]bool, len(MetricNames))
	for _, name := range MetricNames {
		known[name] = true
	}
	for name, pair := range c.Server.Monitor.Thresholds {
		if !known[name] {
			return fmt.Errorf("config: server.monitor.thresholds.%s unknown metric", name)
		}
		if pair.Warning <= 0 || pair.Critical <= 0 {
			return fmt.Errorf("config: server.monitor.thresholds.%s must be positive", name)
		}
		if pair.Warning >= pair.Critical {
			return fmt.Errorf("config: server.monitor.thresholds.%s warning %.2f must be below critical %.2f", name, pair.Warning, pair.Critical)
		}
	}
	for name := range c.Server.Monitor.Mute {
		if !known[name] {
			return fmt.Errorf("config: server.monitor.mute.%s unknown metric", name)
		}
	}
	for name := range c.Server.Monitor.Messages {
		if !known[name] {
			return fmt.Errorf("config: server.monitor.messages.%s unknown metric", name)
		}
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Redis: RedisConfig{
				Address:   "127.0.0.1:6379",
				Namespace: "pulse",
			},
			Cache: CacheConfig{
				DefaultTTLSeconds: 300,
				LatencyWindow:     1000,
				TTL: map[string]int{
					"user":    600,
					"channel": 300,
					"message": 120,
					"task":    180,
				},
				Health: CacheHealthConfig{
					MinHitRate:      85,
					MaxAvgLatencyMs: 100,
				},
			},
			Monitor: MonitorConfig{
				CollectIntervalSeconds: 60,
				HealthIntervalSeconds:  30,
				HistorySize:            1440,
				SampleWindow:           500,
				Thresholds: map[string]ThresholdConfig{
					"cpu":           {Warning: 70, Critical: 90},
					"memory":        {Warning: 75, Critical: 90},
					"response_time": {Warning: 500, Critical: 2000},
					"error_rate":    {Warning: 5, Critical: 15},
					"connection":    {Warning: 500, Critical: 1000},
				},
			},
		},
	}
}
