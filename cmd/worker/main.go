package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/thiagu-r/dairy-sub000/internal/app"
	"github.com/thiagu-r/dairy-sub000/internal/delivery"
	jobmetrics "github.com/thiagu-r/dairy-sub000/internal/jobs"
	"github.com/thiagu-r/dairy-sub000/internal/masterdata"
	"github.com/thiagu-r/dairy-sub000/internal/platform/db"
	"github.com/thiagu-r/dairy-sub000/internal/pricing"
	"github.com/thiagu-r/dairy-sub000/internal/shared"
	"github.com/thiagu-r/dairy-sub000/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	loc, err := cfg.Location()
	if err != nil {
		logger.Error("business timezone", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := app.ConnectRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	locker := app.NewLocker(redisClient, cfg, logger)
	metrics := jobmetrics.NewMetrics(nil)

	pricingRepo := pricing.NewRepository(pool)
	priceResolver := pricing.NewCachedResolver(
		pricing.NewResolver(pricingRepo),
		pricing.NewCache(redisClient, cfg.PriceCacheTTL),
		logger,
	)
	pricingService := pricing.NewService(pricingRepo, masterdata.NewRepository(pool), priceResolver, locker, logger)
	deliveryService := delivery.NewService(delivery.NewRepository(pool), priceResolver, locker, logger)

	refreshJob := jobs.NewPriceCacheRefreshJob(pricingService, priceResolver, loc, logger, metrics)
	auditJob := jobs.NewTotalsAuditJob(deliveryService, loc, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	refreshTask, err := jobs.NewPriceCacheRefreshTask("")
	if err != nil {
		logger.Error("build cache refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	auditTask, err := jobs.NewDeliveryTotalsAuditTask("")
	if err != nil {
		logger.Error("build totals audit task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    loc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPriceCacheRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskDeliveryTotalsAudit, Handler: auditJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 0 * * *", Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 23 * * *", Task: auditTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * 0", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
