// Package cache implements the distributed cache layer: single-key and
// batched operations against a Redis-compatible backend, per-key metadata,
// tag-based bulk invalidation, warming, and self-reported health.
//
// Backend I/O failures on the request path never propagate to callers; they
// are logged with their latency and degrade to a miss, false, or zero count.
// Retry policy belongs to the caller.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/crewlink/pulse/internal/events"
	"github.com/crewlink/pulse/internal/metrics"
)

// StoreOptions tunes a Store. The health thresholds mirror the cache config
// section to avoid importing the config package here.
type StoreOptions struct {
	Namespace       string
	Policy          *TTLPolicy
	LatencyWindow   int
	MinHitRate      float64
	MaxAvgLatencyMs float64
	Metrics         *metrics.Recorder
}

// Store exposes the cache operations. Single-key atomicity comes from the
// backend, so the store keeps no in-process lock around commands; multi-key
// operations are pipelined, best-effort, and not transactional.
type Store struct {
	client  valkey.Client
	ns      string
	policy  *TTLPolicy
	stats   *stats
	emitter *events.Emitter
	logger  *slog.Logger
	rec     *metrics.Recorder

	minHitRate   float64
	maxAvgLatMs  float64
	touchTimeout time.Duration
}

// NewStore wraps an established backend client. The client's lifecycle is
// handed over: Close releases it.
func NewStore(client valkey.Client, logger *slog.Logger, opts StoreOptions) *Store {
	ns := strings.TrimSpace(opts.Namespace)
	if ns == "" {
		ns = "pulse"
	}
	policy := opts.Policy
	if policy == nil {
		policy = NewTTLPolicy(5*time.Minute, nil)
	}
	minHitRate := opts.MinHitRate
	if minHitRate <= 0 {
		minHitRate = 85
	}
	maxAvgLatMs := opts.MaxAvgLatencyMs
	if maxAvgLatMs <= 0 {
		maxAvgLatMs = 100
	}
	return &Store{
		client:       client,
		ns:           ns,
		policy:       policy,
		stats:        newStats(opts.LatencyWindow),
		emitter:      events.NewEmitter(),
		logger:       logger.With(slog.String("component", "cache")),
		rec:          opts.Metrics,
		minHitRate:   minHitRate,
		maxAvgLatMs:  maxAvgLatMs,
		touchTimeout: 2 * time.Second,
	}
}

// Events exposes the store's emitter for subscribers.
func (s *Store) Events() *events.Emitter { return s.emitter }

// Policy exposes the TTL policy, primarily for the policy file watcher.
func (s *Store) Policy() *TTLPolicy { return s.policy }

func (s *Store) valueKey(key string) string { return s.ns + ":" + key }
func (s *Store) metaKey(key string) string  { return s.ns + ":" + key + ":meta" }
func (s *Store) tagKey(tag string) string   { return s.ns + ":tag:" + tag }

// Get returns the cached value for key, or (nil, false) on a miss. Backend
// errors count as misses. On a hit the access metadata is refreshed off the
// return path.
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	start := time.Now()
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.valueKey(key)).Build())
	elapsed := time.Since(start)

	if err := resp.Error(); err != nil {
		if !errors.Is(err, valkey.Nil) {
			s.logger.Warn("cache get failed",
				slog.String("key", key),
				slog.Duration("latency", elapsed),
				slog.Any("error", err))
		}
		s.stats.recordMiss(elapsed)
		s.rec.ObserveCacheOp(metrics.CacheOpGet, metrics.ResultMiss, elapsed)
		return nil, false
	}

	payload, err := resp.AsBytes()
	if err != nil {
		s.logger.Warn("cache get decode failed",
			slog.String("key", key),
			slog.Duration("latency", elapsed),
			slog.Any("error", err))
		s.stats.recordMiss(elapsed)
		s.rec.ObserveCacheOp(metrics.CacheOpGet, metrics.ResultMiss, elapsed)
		return nil, false
	}

	s.stats.recordHit(elapsed)
	s.rec.ObserveCacheOp(metrics.CacheOpGet, metrics.ResultHit, elapsed)
	s.rec.SetCacheHitRatio(s.stats.hitRate())
	go s.touch(key)
	return decodeValue(payload), true
}

// touch refreshes accessCount and lastAccessedAt without blocking the hit
// return path.
func (s *Store) touch(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.touchTimeout)
	defer cancel()
	mk := s.metaKey(key)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	results := s.client.DoMulti(ctx,
		s.client.B().Hincrby().Key(mk).Field(metaFieldAccessCount).Increment(1).Build(),
		s.client.B().Hset().Key(mk).FieldValue().FieldValue(metaFieldLastAccessed, now).Build(),
	)
	for _, r := range results {
		if err := r.Error(); err != nil {
			s.logger.Debug("cache metadata touch failed", slog.String("key", key), slog.Any("error", err))
			return
		}
	}
}

// Set serializes value and writes it with its metadata record under matching
// TTLs, then registers key in every tag set. Tag set expiry is raised to at
// least the TTL of the newly tagged key so the index never dies before its
// members. Returns false when the value write failed.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string) bool {
	start := time.Now()
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache set serialize failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	if ttl <= 0 {
		ttl = s.policy.Default()
	}

	cmds := s.writeCmds(key, string(payload), ttl, tags, time.Now().UTC())
	results := s.client.DoMulti(ctx, cmds...)
	elapsed := time.Since(start)
	s.stats.recordOp(elapsed)

	// The value SET is always the first command in the batch.
	if err := results[0].Error(); err != nil {
		s.logger.Warn("cache set failed",
			slog.String("key", key),
			slog.Duration("latency", elapsed),
			slog.Any("error", err))
		s.rec.ObserveCacheOp(metrics.CacheOpSet, metrics.ResultError, elapsed)
		return false
	}
	for _, r := range results[1:] {
		if err := r.Error(); err != nil {
			s.logger.Debug("cache set side write failed", slog.String("key", key), slog.Any("error", err))
		}
	}

	s.rec.ObserveCacheOp(metrics.CacheOpSet, metrics.ResultOK, elapsed)
	s.emitter.Emit(events.CacheSet, SetEvent{Key: key, TTLSeconds: int(ttl / time.Second), Tags: tags})
	return true
}

// writeCmds builds the pipelined command sequence for one entry: value SET,
// metadata rewrite, and tag index maintenance. The first command is always
// the value SET so callers can judge success from it.
func (s *Store) writeCmds(key, payload string, ttl time.Duration, tags []string, now time.Time) []valkey.Completed {
	vk := s.valueKey(key)
	mk := s.metaKey(key)
	entry := Entry{
		Key:            key,
		TTLSeconds:     int(ttl / time.Second),
		CreatedAt:      now,
		AccessCount:    0,
		LastAccessedAt: now,
		Tags:           tags,
	}

	cmds := make([]valkey.Completed, 0, 4+3*len(tags))
	cmds = append(cmds, s.client.B().Set().Key(vk).Value(payload).Px(ttl).Build())
	cmds = append(cmds, s.client.B().Del().Key(mk).Build())

	hset := s.client.B().Hset().Key(mk).FieldValue()
	for field, value := range entry.fields() {
		hset = hset.FieldValue(field, value)
	}
	cmds = append(cmds, hset.Build())
	cmds = append(cmds, s.client.B().Pexpire().Key(mk).Milliseconds(ttl.Milliseconds()).Build())

	for _, tag := range tags {
		tk := s.tagKey(tag)
		cmds = append(cmds, s.client.B().Sadd().Key(tk).Member(key).Build())
		// NX seeds an expiry on a fresh set, GT raises an existing shorter
		// one; together the index lives at least as long as this key.
		cmds = append(cmds, s.client.B().Pexpire().Key(tk).Milliseconds(ttl.Milliseconds()).Nx().Build())
		cmds = append(cmds, s.client.B().Pexpire().Key(tk).Milliseconds(ttl.Milliseconds()).Gt().Build())
	}
	return cmds
}

// Delete removes the value and its metadata. Returns whether a value was
// actually removed.
func (s *Store) Delete(ctx context.Context, key string) bool {
	start := time.Now()
	results := s.client.DoMulti(ctx,
		s.client.B().Del().Key(s.valueKey(key)).Build(),
		s.client.B().Del().Key(s.metaKey(key)).Build(),
	)
	elapsed := time.Since(start)
	s.stats.recordOp(elapsed)

	removed, err := results[0].AsInt64()
	if err != nil {
		s.logger.Warn("cache delete failed",
			slog.String("key", key),
			slog.Duration("latency", elapsed),
			slog.Any("error", err))
		s.rec.ObserveCacheOp(metrics.CacheOpDelete, metrics.ResultError, elapsed)
		return false
	}
	s.rec.ObserveCacheOp(metrics.CacheOpDelete, metrics.ResultOK, elapsed)
	if removed > 0 {
		s.emitter.Emit(events.CacheDelete, DeleteEvent{Key: key})
		return true
	}
	return false
}

// MGet reads a batch of keys in one round trip and returns only the keys
// that were found. Hits and misses are counted in aggregate.
func (s *Store) MGet(ctx context.Context, keys []string) map[string]any {
	found := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return found
	}
	nsKeys := make([]string, len(keys))
	for i, key := range keys {
		nsKeys[i] = s.valueKey(key)
	}

	start := time.Now()
	resp := s.client.Do(ctx, s.client.B().Mget().Key(nsKeys...).Build())
	elapsed := time.Since(start)

	items, err := resp.ToArray()
	if err != nil {
		s.logger.Warn("cache mget failed",
			slog.Int("keys", len(keys)),
			slog.Duration("latency", elapsed),
			slog.Any("error", err))
		s.stats.recordBatch(0, uint64(len(keys)), elapsed)
		s.rec.ObserveCacheOp(metrics.CacheOpMGet, metrics.ResultError, elapsed)
		return found
	}

	var hits, misses uint64
	for i, item := range items {
		if i >= len(keys) {
			break
		}
		if item.IsNil() {
			misses++
			continue
		}
		payload, err := item.AsBytes()
		if err != nil {
			misses++
			continue
		}
		found[keys[i]] = decodeValue(payload)
		hits++
	}
	s.stats.recordBatch(hits, misses, elapsed)
	s.rec.ObserveCacheOp(metrics.CacheOpMGet, metrics.ResultOK, elapsed)
	s.rec.SetCacheHitRatio(s.stats.hitRate())
	return found
}

// WriteEntry describes one entry of a batched write.
type WriteEntry struct {
	Value any
	TTL   time.Duration
	Tags  []string
}

// MSet writes every entry, its metadata, and its tag memberships in a single
// pipelined round trip. Returns the count of values successfully written.
// Partial failure is possible; the batch is not transactional.
func (s *Store) MSet(ctx context.Context, entries map[string]WriteEntry) int {
	if len(entries) == 0 {
		return 0
	}
	start := time.Now()
	now := time.Now().UTC()

	var cmds []valkey.Completed
	type pending struct {
		key    string
		setIdx int
	}
	batch := make([]pending, 0, len(entries))
	for key, entry := range entries {
		payload, err := json.Marshal(entry.Value)
		if err != nil {
			s.logger.Warn("cache mset serialize failed", slog.String("key", key), slog.Any("error", err))
			continue
		}
		ttl := entry.TTL
		if ttl <= 0 {
			ttl = s.policy.Default()
		}
		batch = append(batch, pending{key: key, setIdx: len(cmds)})
		cmds = append(cmds, s.writeCmds(key, string(payload), ttl, entry.Tags, now)...)
	}
	if len(cmds) == 0 {
		return 0
	}

	results := s.client.DoMulti(ctx, cmds...)
	elapsed := time.Since(start)
	s.stats.recordOp(elapsed)

	written := 0
	for _, p := range batch {
		if err := results[p.setIdx].Error(); err != nil {
			s.logger.Warn("cache mset entry failed",
				slog.String("key", p.key),
				slog.Any("error", err))
			continue
		}
		written++
	}
	s.rec.ObserveCacheOp(metrics.CacheOpMSet, metrics.ResultOK, elapsed)
	s.emitter.Emit(events.CacheMSet, MSetEvent{Requested: len(entries), Written: written})
	return written
}

// InvalidateByPattern scans the backend for keys matching pattern within the
// store's namespace and deletes every value with its metadata. Cost is linear
// in the number of matches; keep it off hot paths over large keyspaces.
// Returns the number of values deleted.
func (s *Store) InvalidateByPattern(ctx context.Context, pattern string) int {
	start := time.Now()
	match := s.ns + ":" + pattern

	var keys []string
	cursor := uint64(0)
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(match).Count(256).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			s.logger.Warn("cache pattern scan failed",
				slog.String("pattern", pattern),
				slog.Any("error", err))
			s.stats.recordOp(time.Since(start))
			return 0
		}
		for _, k := range entry.Elements {
			if strings.HasSuffix(k, ":meta") || strings.HasPrefix(k, s.ns+":tag:") {
				continue
			}
			keys = append(keys, k)
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	deleted := 0
	if len(keys) > 0 {
		cmds := make([]valkey.Completed, 0, 2*len(keys))
		for _, k := range keys {
			cmds = append(cmds, s.client.B().Del().Key(k).Build())
			cmds = append(cmds, s.client.B().Del().Key(k+":meta").Build())
		}
		results := s.client.DoMulti(ctx, cmds...)
		for i := 0; i < len(results); i += 2 {
			if n, err := results[i].AsInt64(); err == nil {
				deleted += int(n)
			}
		}
	}

	elapsed := time.Since(start)
	s.stats.recordOp(elapsed)
	s.rec.ObserveCacheOp(metrics.CacheOpInvalidate, metrics.ResultOK, elapsed)
	s.emitter.Emit(events.CacheInvalidated, InvalidateEvent{Pattern: pattern, Deleted: deleted})
	return deleted
}

// InvalidateByTags deletes every key registered under any of the tags, then
// drops the tag sets themselves. A key carrying several of the tags is
// counted once, by its successful value delete; the count can undercount
// when a key expired between the tag lookup and the delete, so treat it as
// a best-effort metric.
func (s *Store) InvalidateByTags(ctx context.Context, tags []string) int {
	start := time.Now()

	seen := make(map[string]struct{})
	var members []string
	for _, tag := range tags {
		resp := s.client.Do(ctx, s.client.B().Smembers().Key(s.tagKey(tag)).Build())
		keys, err := resp.AsStrSlice()
		if err != nil {
			s.logger.Warn("cache tag lookup failed", slog.String("tag", tag), slog.Any("error", err))
			continue
		}
		for _, key := range keys {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			members = append(members, key)
		}
	}

	deleted := 0
	if len(members) > 0 || len(tags) > 0 {
		cmds := make([]valkey.Completed, 0, 2*len(members)+len(tags))
		for _, key := range members {
			cmds = append(cmds, s.client.B().Del().Key(s.valueKey(key)).Build())
			cmds = append(cmds, s.client.B().Del().Key(s.metaKey(key)).Build())
		}
		for _, tag := range tags {
			cmds = append(cmds, s.client.B().Del().Key(s.tagKey(tag)).Build())
		}
		results := s.client.DoMulti(ctx, cmds...)
		for i := 0; i < 2*len(members); i += 2 {
			if n, err := results[i].AsInt64(); err == nil && n > 0 {
				deleted++
			}
		}
	}

	elapsed := time.Since(start)
	s.stats.recordOp(elapsed)
	s.rec.ObserveCacheOp(metrics.CacheOpInvalidate, metrics.ResultOK, elapsed)
	s.emitter.Emit(events.CacheInvalidatedTags, InvalidateTagsEvent{Tags: tags, Deleted: deleted})
	return deleted
}

// Describe reads the metadata record for key.
func (s *Store) Describe(ctx context.Context, key string) (Entry, bool) {
	resp := s.client.Do(ctx, s.client.B().Hgetall().Key(s.metaKey(key)).Build())
	fields, err := resp.AsStrMap()
	if err != nil || len(fields) == 0 {
		return Entry{}, false
	}
	return entryFromFields(key, fields), true
}

// Metrics folds the counters, the rolling latency window, and the backend
// key count into one view. The key count is the logical database size, so it
// includes metadata and tag index keys.
func (s *Store) Metrics(ctx context.Context) Metrics {
	var keys int64
	if n, err := s.client.Do(ctx, s.client.B().Dbsize().Build()).ToInt64(); err == nil {
		keys = n
	} else {
		s.logger.Debug("cache dbsize failed", slog.Any("error", err))
	}
	return s.stats.snapshot(keys)
}

// HealthStatus grades the cache on connectivity, hit rate, and average
// latency: all three passing is healthy, two is degraded, less is unhealthy.
func (s *Store) HealthStatus(ctx context.Context) HealthStatus {
	m := s.Metrics(ctx)
	connected := s.client.Do(ctx, s.client.B().Ping().Build()).Error() == nil
	hitRateOK := m.Hits+m.Misses == 0 || m.HitRate >= s.minHitRate
	latencyOK := m.AvgLatencyMs < s.maxAvgLatMs

	passing := 0
	for _, ok := range []bool{connected, hitRateOK, latencyOK} {
		if ok {
			passing++
		}
	}
	status := StatusUnhealthy
	switch passing {
	case 3:
		status = StatusHealthy
	case 2:
		status = StatusDegraded
	}
	return HealthStatus{
		Status:    status,
		Connected: connected,
		HitRateOK: hitRateOK,
		LatencyOK: latencyOK,
		Metrics:   m,
	}
}

// Close detaches subscribers and releases the backend client. In-flight
// calls are allowed to complete; there is no hard cancellation.
func (s *Store) Close(ctx context.Context) error {
	s.emitter.Close()
	s.client.Close()
	return nil
}

// Cache health status buckets.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus reports the cache's self-assessment.
type HealthStatus struct {
	Status    string  `json:"status"`
	Connected bool    `json:"connected"`
	HitRateOK bool    `json:"hitRateOk"`
	LatencyOK bool    `json:"latencyOk"`
	Metrics   Metrics `json:"metrics"`
}

// Event payloads emitted by the store.
type SetEvent struct {
	Key        string   `json:"key"`
	TTLSeconds int      `json:"ttlSeconds"`
	Tags       []string `json:"tags,omitempty"`
}

type DeleteEvent struct {
	Key string `json:"key"`
}

type MSetEvent struct {
	Requested int `json:"requested"`
	Written   int `json:"written"`
}

type InvalidateEvent struct {
	Pattern string `json:"pattern"`
	Deleted int    `json:"deleted"`
}

type InvalidateTagsEvent struct {
	Tags    []string `json:"tags"`
	Deleted int      `json:"deleted"`
}

// decodeValue deserializes a cached payload: JSON when possible, raw string
// otherwise so foreign writers cannot poison reads.
func decodeValue(payload []byte) any {
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return string(payload)
	}
	return value
}
