package perfmon

import "sync"

// Ring is the fixed-capacity snapshot history: append-only, oldest entry
// evicted on overflow. The default capacity of 1440 holds 24 hours at one
// minute resolution.
type Ring struct {
	mu   sync.RWMutex
	buf  []*Snapshot
	next int
	size int
}

// NewRing allocates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1440
	}
	return &Ring{buf: make([]*Snapshot, capacity)}
}

// Append stores the snapshot, evicting the oldest when full.
func (r *Ring) Append(s *Snapshot) {
	if s == nil {
		return
	}
	r.mu.Lock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.mu.Unlock()
}

// Latest returns the most recent snapshot, or nil before the first append.
func (r *Ring) Latest() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.size == 0 {
		return nil
	}
	idx := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx]
}

// Last returns up to n snapshots ordered oldest to newest.
func (r *Ring) Last(n int) []*Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || r.size == 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	out := make([]*Snapshot, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len reports how many snapshots are retained.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity reports the fixed buffer capacity.
func (r *Ring) Capacity() int {
	return len(r.buf)
}
