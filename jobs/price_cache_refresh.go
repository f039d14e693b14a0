package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/thiagu-r/dairy-sub000/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CacheRefresher materializes the offline price cache for a day.
type CacheRefresher interface {
	RefreshCache(ctx context.Context, date time.Time) (int, error)
}

// CacheInvalidator drops cached live prices after a refresh.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// PriceCacheRefreshJob rebuilds seller and general price cache rows from the
// plans active on the target day.
type PriceCacheRefreshJob struct {
	Refresher   CacheRefresher
	Invalidator CacheInvalidator
	Location    *time.Location
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewPriceCacheRefreshJob wires dependencies for the refresh handler.
// invalidator may be nil.
func NewPriceCacheRefreshJob(refresher CacheRefresher, invalidator CacheInvalidator, loc *time.Location, logger *slog.Logger, metrics *jobmetrics.Metrics) *PriceCacheRefreshJob {
	return &PriceCacheRefreshJob{
		Refresher:   refresher,
		Invalidator: invalidator,
		Location:    loc,
		Logger:      logger,
		Metrics:     metrics,
		clock:       time.Now,
	}
}

// Handle processes TaskPriceCacheRefresh tasks.
func (j *PriceCacheRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Refresher == nil {
		return errors.New("price cache refresh: handler not configured")
	}
	var payload DatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	date, err := payload.resolve(j.now(), j.Location)
	if err != nil {
		j.logger().Error("price cache refresh payload", slog.Any("error", err))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPriceCacheRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("date", date.Format(dateLayout)))
	start := time.Now()
	written, err := j.Refresher.RefreshCache(ctx, date)
	if err != nil {
		resultErr = err
		logger.Error("refresh price cache", slog.Any("error", err))
		return resultErr
	}
	j.metrics().SetCacheEntries(written)
	if j.Invalidator != nil {
		if err := j.Invalidator.Invalidate(ctx); err != nil {
			logger.Warn("invalidate live price cache", slog.Any("error", err))
		}
	}
	logger.Info("completed price cache refresh", slog.Int("entries", written), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *PriceCacheRefreshJob) logger() *slog.Logger {
	return jobLogger(j.Logger, TaskPriceCacheRefresh)
}

func (j *PriceCacheRefreshJob) metrics() *jobmetrics.Metrics {
	return metricsOrDefault(j.Metrics)
}

func (j *PriceCacheRefreshJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger != nil {
		return logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
