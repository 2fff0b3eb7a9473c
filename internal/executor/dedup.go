package executor

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// Dedup prevents an opportunity from being claimed more than once within a
// time-to-live window. It is the in-process Claimer; the Redis lock manager
// takes its place when Redis is enabled. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // opportunityID -> claim time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that keeps claims for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim records opportunityID and returns true if it had not been claimed
// within the TTL window.
func (d *Dedup) Claim(_ context.Context, opportunityID string) (bool, error) {
	return !d.IsDuplicate(opportunityID), nil
}

// IsDuplicate returns true if the id has been seen within the TTL window. If
// not (or the earlier claim expired), it is recorded and false is returned.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[id]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[id] = now
	return false
}

// Cleanup removes expired claims. The engine calls it once per tick.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len reports the number of live claims.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

var _ domain.Claimer = (*Dedup)(nil)
