package lock

import (
	"context"
	"errors"
	"log/slog"
)

// Locker acquires a lock for key and returns its release function.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Fallback uses primary and switches to secondary for a single acquisition
// when primary fails for any reason other than contention.
type Fallback struct {
	primary   Locker
	secondary Locker
	logger    *slog.Logger
}

// NewFallback wraps primary with secondary.
func NewFallback(primary, secondary Locker, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Acquire implements Locker.
func (f *Fallback) Acquire(ctx context.Context, key string) (func(), error) {
	release, err := f.primary.Acquire(ctx, key)
	if err == nil || errors.Is(err, ErrNotObtained) || ctx.Err() != nil {
		return release, err
	}
	f.logger.Warn("distributed lock unavailable, using local lock",
		slog.String("key", key), slog.Any("error", err))
	return f.secondary.Acquire(ctx, key)
}
