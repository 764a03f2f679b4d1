package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/crewlink/pulse/internal/events"
)

func TestWarmCachePopulatesEntities(t *testing.T) {
	server, store := newTestStore(t)
	ctx := context.Background()

	warmed := store.WarmCache(ctx, "user", []string{"1", "2"}, func(_ context.Context, id string) (any, error) {
		return map[string]any{"id": id}, nil
	})
	if warmed != 2 {
		t.Fatalf("expected 2 warmed, got %d", warmed)
	}

	got, ok := store.Get(ctx, "user:1")
	if !ok {
		t.Fatalf("expected warmed entry to be readable")
	}
	if m, isMap := got.(map[string]any); !isMap || m["id"] != "1" {
		t.Fatalf("unexpected warmed value: %#v", got)
	}

	// Warmed entries carry the entity type tag and its policy TTL.
	entry, ok := store.Describe(ctx, "user:2")
	if !ok {
		t.Fatalf("expected metadata for warmed entry")
	}
	if len(entry.Tags) != 1 || entry.Tags[0] != "user" {
		t.Fatalf("expected entity type tag, got %v", entry.Tags)
	}
	if entry.TTLSeconds != 600 {
		t.Fatalf("expected policy ttl 600, got %d", entry.TTLSeconds)
	}
	if !server.Exists("pulse:tag:user") {
		t.Fatalf("expected tag index for warmed entities")
	}
}

func TestWarmCacheSkipsFailingLoads(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	var warmEvents []WarmEvent
	cancel := store.Events().Subscribe(func(evt events.Event) {
		if evt.Name == events.CacheWarmed {
			warmEvents = append(warmEvents, evt.Payload.(WarmEvent))
		}
	})
	defer cancel()

	warmed := store.WarmCache(ctx, "task", []string{"1", "2", "3"}, func(_ context.Context, id string) (any, error) {
		switch id {
		case "2":
			return nil, errors.New("row not found")
		case "3":
			panic("loader bug")
		}
		return "task-" + id, nil
	})
	if warmed != 1 {
		t.Fatalf("expected 1 warmed with two failures, got %d", warmed)
	}
	if _, ok := store.Get(ctx, "task:1"); !ok {
		t.Fatalf("expected surviving entry present")
	}
	if _, ok := store.Get(ctx, "task:2"); ok {
		t.Fatalf("expected failed entry absent")
	}

	if len(warmEvents) != 1 {
		t.Fatalf("expected one warm event, got %d", len(warmEvents))
	}
	evt := warmEvents[0]
	if evt.Requested != 3 || evt.Warmed != 1 || evt.Skipped != 2 {
		t.Fatalf("unexpected warm event: %+v", evt)
	}
}

func TestWarmCacheEmptyInput(t *testing.T) {
	_, store := newTestStore(t)

	if warmed := store.WarmCache(context.Background(), "user", nil, func(context.Context, string) (any, error) {
		return nil, nil
	}); warmed != 0 {
		t.Fatalf("expected 0 for empty id list, got %d", warmed)
	}
	if warmed := store.WarmCache(context.Background(), "user", []string{"1"}, nil); warmed != 0 {
		t.Fatalf("expected 0 for nil loader, got %d", warmed)
	}
}
