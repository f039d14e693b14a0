package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "pricing:version"

// Cache is a versioned Redis JSON cache. Bumping the version orphans every
// key built before the bump; the TTL collects them.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates every cached price.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(payload, dest)
}

func (c *Cache) set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// CachedResolver serves live-plan lookups from Redis and collapses
// concurrent misses for the same key. Offline cache lookups pass through.
type CachedResolver struct {
	resolver *Resolver
	cache    *Cache
	group    singleflight.Group
	logger   *slog.Logger
}

// NewCachedResolver wraps resolver with cache.
func NewCachedResolver(resolver *Resolver, cache *Cache, logger *slog.Logger) *CachedResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedResolver{resolver: resolver, cache: cache, logger: logger}
}

// Resolve returns the live plan price, consulting Redis first. Redis failures
// degrade to a direct lookup.
func (c *CachedResolver) Resolve(ctx context.Context, productID, sellerID int64, date time.Time) (Result, error) {
	if c.cache == nil || c.cache.client == nil {
		return c.resolver.Resolve(ctx, productID, sellerID, date)
	}
	ver, err := c.cache.Version(ctx)
	if err != nil {
		c.logger.Warn("price cache version", slog.Any("error", err))
		return c.resolver.Resolve(ctx, productID, sellerID, date)
	}
	key := fmt.Sprintf("pricing:v%d:live:%d:%d:%s", ver, productID, sellerID, date.Format("2006-01-02"))

	var cached Result
	if ok, err := c.cache.get(ctx, key, &cached); err != nil {
		c.logger.Warn("price cache read", slog.String("key", key), slog.Any("error", err))
	} else if ok {
		return cached, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		res, err := c.resolver.Resolve(ctx, productID, sellerID, date)
		if err != nil {
			return Result{}, err
		}
		if err := c.cache.set(ctx, key, res); err != nil {
			c.logger.Warn("price cache write", slog.String("key", key), slog.Any("error", err))
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Result{}, out.Err
		}
		return out.Val.(Result), nil
	}
}

// ResolveCached reads the offline cache tables directly.
func (c *CachedResolver) ResolveCached(ctx context.Context, productID, sellerID int64, date time.Time) (Result, error) {
	return c.resolver.ResolveCached(ctx, productID, sellerID, date)
}

// Invalidate drops every cached live price.
func (c *CachedResolver) Invalidate(ctx context.Context) error {
	return c.cache.Bump(ctx)
}
