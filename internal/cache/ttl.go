package cache

import (
	"sync"
	"time"
)

// TTLPolicy maps entity types to cache TTLs with a default fallback. The
// table can be swapped wholesale at runtime when the policy file changes;
// lookups always see either the old or the new table, never a mix.
type TTLPolicy struct {
	def time.Duration

	mu    sync.RWMutex
	table map[string]time.Duration
}

// NewTTLPolicy builds a policy from per-entity TTL seconds. A non-positive
// fallback defaults to five minutes.
func NewTTLPolicy(fallback time.Duration, seconds map[string]int) *TTLPolicy {
	if fallback <= 0 {
		fallback = 5 * time.Minute
	}
	p := &TTLPolicy{def: fallback, table: make(map[string]time.Duration)}
	p.ReplaceAll(seconds)
	return p
}

// TTLFor returns the TTL for the entity type, falling back to the default.
func (p *TTLPolicy) TTLFor(entityType string) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ttl, ok := p.table[entityType]; ok {
		return ttl
	}
	return p.def
}

// Default returns the fallback TTL.
func (p *TTLPolicy) Default() time.Duration {
	return p.def
}

// ReplaceAll swaps the entire table atomically. Entries with non-positive
// TTLs are dropped.
func (p *TTLPolicy) ReplaceAll(seconds map[string]int) {
	table := make(map[string]time.Duration, len(seconds))
	for entity, ttl := range seconds {
		if ttl > 0 {
			table[entity] = time.Duration(ttl) * time.Second
		}
	}
	p.mu.Lock()
	p.table = table
	p.mu.Unlock()
}

// Snapshot copies the current table for diagnostics.
func (p *TTLPolicy) Snapshot() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.table))
	for entity, ttl := range p.table {
		out[entity] = int(ttl / time.Second)
	}
	return out
}
