package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// DedupStore persists suppression marks across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

func dedupKey(audience, text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(audience))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

type dedupCache struct {
	mu    sync.Mutex
	marks map[string]time.Time
	store DedupStore
}

// allow reports whether key may be sent now and, if so, opens a new window.
func (d *dedupCache) allow(ctx context.Context, key string, window time.Duration, maxEntries int, now time.Time) bool {
	d.mu.Lock()
	if until, ok := d.marks[key]; ok && now.Before(until) {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	if d.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		until, ok, err := d.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			d.mu.Lock()
			d.marks[key] = until
			d.mu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	d.mu.Lock()
	d.marks[key] = until
	for k, u := range d.marks {
		if !now.Before(u) {
			delete(d.marks, k)
		}
	}
	for maxEntries > 0 && len(d.marks) > maxEntries {
		var (
			oldest string
			minT   time.Time
		)
		for k, u := range d.marks {
			if oldest == "" || u.Before(minT) {
				oldest, minT = k, u
			}
		}
		delete(d.marks, oldest)
	}
	d.mu.Unlock()

	if d.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		_ = d.store.PutDedup(cctx, key, until)
		cancel()
	}
	return true
}
