package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryDeduplicator keeps dedup claims in process memory. It mirrors the
// redis variant for single-instance deployments and tests.
type MemoryDeduplicator struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewMemoryDeduplicator(window time.Duration) *MemoryDeduplicator {
	return &MemoryDeduplicator{
		seen:   map[string]time.Time{},
		window: window,
		now:    time.Now,
	}
}

func (d *MemoryDeduplicator) Accept(_ context.Context, sourceRef string, version int) error {
	key := Key(sourceRef, version)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, expires := range d.seen {
		if now.After(expires) {
			delete(d.seen, k)
		}
	}

	if _, dup := d.seen[key]; dup {
		return ErrSuppressed
	}
	d.seen[key] = now.Add(d.window)
	return nil
}
