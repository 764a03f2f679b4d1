package events

import (
	"sync"
	"testing"
)

func TestEmitterDeliversToSubscribers(t *testing.T) {
	e := NewEmitter()

	var got []Event
	e.Subscribe(func(evt Event) { got = append(got, evt) })

	e.Emit(CacheSet, "payload")

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Name != CacheSet || got[0].Payload != "payload" {
		t.Fatalf("unexpected event: %+v", got[0])
	}
	if got[0].At.IsZero() {
		t.Fatalf("expected event timestamp to be set")
	}
}

func TestEmitterCancelRemovesSubscriber(t *testing.T) {
	e := NewEmitter()

	count := 0
	cancel := e.Subscribe(func(Event) { count++ })
	e.Emit(CacheDelete, nil)
	cancel()
	e.Emit(CacheDelete, nil)

	if count != 1 {
		t.Fatalf("expected 1 delivery after cancel, got %d", count)
	}
}

func TestEmitterCloseDetachesAll(t *testing.T) {
	e := NewEmitter()

	count := 0
	e.Subscribe(func(Event) { count++ })
	e.Close()
	e.Emit(HealthCheck, nil)

	if count != 0 {
		t.Fatalf("expected no deliveries after close, got %d", count)
	}
	if cancel := e.Subscribe(func(Event) { count++ }); cancel == nil {
		t.Fatalf("expected non-nil cancel after close")
	}
	e.Emit(HealthCheck, nil)
	if count != 0 {
		t.Fatalf("expected closed emitter to reject new subscribers")
	}
}

func TestEmitterNilReceiver(t *testing.T) {
	var e *Emitter
	e.Emit(MetricsCollected, nil)
	e.Close()
}

func TestEmitterConcurrentEmit(t *testing.T) {
	e := NewEmitter()

	var mu sync.Mutex
	count := 0
	e.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.Emit(PerformanceAlert, nil)
			}
		}()
	}
	wg.Wait()

	if count != 400 {
		t.Fatalf("expected 400 deliveries, got %d", count)
	}
}
