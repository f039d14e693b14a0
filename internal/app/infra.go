package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/thiagu-r/dairy-sub000/internal/platform/cache"
	"github.com/thiagu-r/dairy-sub000/internal/platform/lock"
)

// ConnectRedis returns a client for cfg.RedisAddr. An unreachable Redis is
// logged and the unverified client returned, so callers degrade instead of
// refusing to start.
func ConnectRedis(ctx context.Context, cfg *Config, logger *slog.Logger) *redis.Client {
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err == nil {
		return client
	}
	logger.Warn("redis unavailable, continuing degraded", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

// NewLocker builds the per-key locker: Redis first, in-process when Redis errors.
func NewLocker(client *redis.Client, cfg *Config, logger *slog.Logger) *lock.Fallback {
	return lock.NewFallback(
		lock.NewRedis(client, cfg.LockTTL, cfg.LockWait, logger),
		lock.NewLocal(),
		logger,
	)
}
