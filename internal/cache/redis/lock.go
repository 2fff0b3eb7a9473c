package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and a Lua-guarded
// unlock. It also serves as the opportunity Claimer when Redis is enabled:
// a claim is a lock that is never released and simply expires.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	claimTTL time.Duration
}

// NewLockManager creates a LockManager. claimTTL is how long an opportunity
// claim is held.
func NewLockManager(c *Client, claimTTL time.Duration) *LockManager {
	if claimTTL <= 0 {
		claimTTL = time.Minute
	}
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		claimTTL: claimTTL,
	}
}

// Acquire obtains the lock for key for ttl. The returned unlock function is
// safe to call more than once. It returns domain.ErrLockHeld if another
// party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock:" + key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Unlock must succeed even if the caller's context is gone.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
	}
	return unlock, nil
}

// Claim takes the at-most-once claim on an opportunity.
func (lm *LockManager) Claim(ctx context.Context, opportunityID string) (bool, error) {
	ok, err := lm.c.rdb.SetNX(ctx, lm.c.Key("claim:"+opportunityID), "1", lm.claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", opportunityID, err)
	}
	return ok, nil
}

var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.Claimer     = (*LockManager)(nil)
)
