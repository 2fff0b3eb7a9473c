package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// RateLimiter is a per-key sliding window kept in process memory.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

// WithClock overrides the clock.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := rl.now()
	cutoff := now.Add(-window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	hits := rl.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]

	if len(hits) >= limit {
		rl.hits[key] = hits
		return false, nil
	}
	rl.hits[key] = append(hits, now)
	return true, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
