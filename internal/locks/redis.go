package locks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"activity-monitor/internal/apperr"
	"activity-monitor/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "activity-monitor:lock:"

// RedisLocker is a Locker shared by every API replica. The lock expires after
// ttl if its holder dies; the release only deletes a lock this holder still owns.
type RedisLocker struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	retry time.Duration
	log   *slog.Logger
}

func NewRedisLocker(rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retry: 25 * time.Millisecond, log: log}
}

// Lock spins with a short backoff until the lock is free, ctx is done, or
// one ttl has elapsed.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := keyPrefix + key
	deadline := time.Now().Add(l.ttl)
	wait := l.retry

	for {
		ok, err := utils.TryLock(ctx, l.rdb, full, token, l.ttl)
		if err != nil {
			return nil, apperr.Transient("acquire lock", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, apperr.Transient("acquire lock", fmt.Errorf("timed out waiting for %q", key))
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}

	return func() {
		// Release on a fresh context so a cancelled request still frees the key.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := utils.Unlock(rctx, l.rdb, full, token); err != nil {
			l.log.Warn("lock release failed", "key", key, "error", err)
		}
	}, nil
}
