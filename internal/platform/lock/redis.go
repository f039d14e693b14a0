// Package lock serializes critical sections per key, across processes with
// Redis or within one process.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
)

// ErrNotObtained is returned when a lock could not be acquired before the wait expired.
var ErrNotObtained = errors.New("platform/lock: lock not obtained")

// Redis hands out distributed locks backed by redislock.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// NewRedis constructs a Redis locker. ttl bounds how long a crashed holder can
// block others; wait bounds how long Acquire retries.
func NewRedis(client redislock.RedisClient, ttl, wait time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: redislock.New(client), ttl: ttl, wait: wait, logger: logger}
}

// Acquire obtains the lock for key, retrying until the wait elapses.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	obtainCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	lk, err := r.client.Obtain(obtainCtx, key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
		}
		return nil, fmt.Errorf("platform/lock: obtain %s: %w", key, err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lk.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
