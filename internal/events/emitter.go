// Package events provides the subscriber-list dispatch utility shared by the
// cache store and the monitor components. Emitters are composed into the
// owning types rather than inherited from, so consumers subscribe to the
// component instance they hold.
package events

import (
	"sync"
	"time"
)

// Event names emitted by the pulse core.
const (
	CacheSet              = "cache_set"
	CacheDelete           = "cache_delete"
	CacheMSet             = "cache_mset"
	CacheInvalidated      = "cache_invalidated"
	CacheInvalidatedTags  = "cache_invalidated_by_tags"
	CacheWarmed           = "cache_warmed"
	MetricsCollected      = "metrics_collected"
	PerformanceAlert      = "performance_alert"
	PerformanceResolved   = "performance_alert_resolved"
	HealthCheck           = "health_check"
)

// Event is a timestamped notification with an arbitrary payload.
type Event struct {
	Name    string
	At      time.Time
	Payload any
}

// Handler receives emitted events. Handlers run synchronously on the emitting
// goroutine and must not block.
type Handler func(Event)

// Emitter fans events out to registered handlers.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[int]Handler
	next   int
	closed bool
}

// NewEmitter constructs an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]Handler)}
}

// Subscribe registers a handler and returns a cancel function that removes it.
func (e *Emitter) Subscribe(fn Handler) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return func() {}
	}
	id := e.next
	e.next++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Emit delivers the event to every current subscriber.
func (e *Emitter) Emit(name string, payload any) {
	if e == nil {
		return
	}
	evt := Event{Name: name, At: time.Now().UTC(), Payload: payload}
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs))
	for _, fn := range e.subs {
		handlers = append(handlers, fn)
	}
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

// Close detaches every subscriber and rejects future subscriptions.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.subs = make(map[int]Handler)
}
