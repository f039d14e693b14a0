package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/thiagu-r/dairy-sub000/internal/app"
	"github.com/thiagu-r/dairy-sub000/internal/delivery"
	deliveryhttp "github.com/thiagu-r/dairy-sub000/internal/delivery/http"
	"github.com/thiagu-r/dairy-sub000/internal/masterdata"
	"github.com/thiagu-r/dairy-sub000/internal/observability"
	"github.com/thiagu-r/dairy-sub000/internal/platform/db"
	"github.com/thiagu-r/dairy-sub000/internal/pricing"
	pricinghttp "github.com/thiagu-r/dairy-sub000/internal/pricing/http"
	"github.com/thiagu-r/dairy-sub000/internal/reconcile"
	saleshttp "github.com/thiagu-r/dairy-sub000/internal/sales/http"
	"github.com/thiagu-r/dairy-sub000/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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
	metrics := observability.NewMetrics()

	masterRepo := masterdata.NewRepository(pool)
	pricingRepo := pricing.NewRepository(pool)
	priceResolver := pricing.NewCachedResolver(
		pricing.NewResolver(pricingRepo),
		pricing.NewCache(redisClient, cfg.PriceCacheTTL),
		logger,
	)
	pricingService := pricing.NewService(pricingRepo, masterRepo, priceResolver, locker, logger)

	reconciler := reconcile.NewService(reconcile.NewPGStore(pool, 3), priceResolver, locker, metrics, logger)
	deliveryService := delivery.NewService(delivery.NewRepository(pool), priceResolver, locker, logger).
		WithDirectory(masterRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SalesHandler:    saleshttp.NewHandler(logger, reconciler),
		DeliveryHandler: deliveryhttp.NewHandler(logger, deliveryService, reconciler),
		PricingHandler:  pricinghttp.NewHandler(logger, pricingService, priceResolver),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
