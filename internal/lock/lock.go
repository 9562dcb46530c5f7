// Package lock provides a per-key mutual exclusion across judge instances.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrLocked means another worker is judging the same submission.
var ErrLocked = errors.New("lock is held by another worker")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

type RedisLocker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisLocker returns a locker whose locks expire after ttl, so a crashed
// worker never blocks a submission forever.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to acquire lock %s", key)
	}
	if !ok {
		return nil, errors.Wrap(ErrLocked, key)
	}
	return func() {
		// the caller's context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		deleted, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int64()
		if err != nil {
			slog.Error("failed to release lock", "key", key, "error", err)
			return
		}
		if deleted == 0 {
			slog.Warn("lock expired before release", "key", key)
		}
	}, nil
}
