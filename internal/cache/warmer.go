package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crewlink/pulse/internal/events"
)

// Loader fetches one entity by id from its owning data-access layer. The
// cache never talks to a primary database directly.
type Loader func(ctx context.Context, id string) (any, error)

// WarmEvent reports a completed warm-up pass.
type WarmEvent struct {
	EntityType string `json:"entityType"`
	Requested  int    `json:"requested"`
	Warmed     int    `json:"warmed"`
	Skipped    int    `json:"skipped"`
}

// WarmCache bulk-populates the cache for an entity type. Each id is loaded
// individually; a failing loader call is logged and that id skipped without
// aborting the rest. All successes are written in one pipelined batch with
// the entity type's TTL and tagged with the entity type so later bulk
// invalidation can find them. Returns the number of entries written.
func (s *Store) WarmCache(ctx context.Context, entityType string, ids []string, loader Loader) int {
	if loader == nil || len(ids) == 0 {
		return 0
	}
	ttl := s.policy.TTLFor(entityType)
	tags := []string{entityType}

	entries := make(map[string]WriteEntry, len(ids))
	skipped := 0
	for _, id := range ids {
		value, err := safeLoad(ctx, loader, id)
		if err != nil {
			skipped++
			s.logger.Warn("cache warm load failed",
				slog.String("entity_type", entityType),
				slog.String("id", id),
				slog.Any("error", err))
			continue
		}
		entries[entityType+":"+id] = WriteEntry{Value: value, TTL: ttl, Tags: tags}
	}

	warmed := s.MSet(ctx, entries)
	s.emitter.Emit(events.CacheWarmed, WarmEvent{
		EntityType: entityType,
		Requested:  len(ids),
		Warmed:     warmed,
		Skipped:    skipped,
	})
	return warmed
}

// safeLoad shields the warm-up pass from a panicking loader so one bad id
// cannot abort the batch.
func safeLoad(ctx context.Context, loader Loader, id string) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: loader panic for id %s: %v", id, r)
		}
	}()
	return loader(ctx, id)
}
