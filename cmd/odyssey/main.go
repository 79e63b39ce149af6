package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-procurement/internal/app"
	"github.com/odyssey-erp/odyssey-procurement/internal/delivery"
	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/suppliers"
	"github.com/odyssey-erp/odyssey-procurement/internal/observability"
	"github.com/odyssey-erp/odyssey-procurement/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-procurement/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
	"github.com/odyssey-erp/odyssey-procurement/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, dbpool, redisClient, logger, metrics)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ProcurementHandler: procurement.NewHandler(logger, services.Procurement),
		DeliveryHandler:    delivery.NewHandler(logger, services.Deliveries),
		SupplierHandler:    suppliers.NewHandler(logger, services.Suppliers),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
		Idempotency:        services.Idempotency,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	if err := app.Serve(ctx, server, cfg.AppShutdownGrace, logger); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
