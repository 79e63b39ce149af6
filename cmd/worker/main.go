package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-procurement/internal/app"
	"github.com/odyssey-erp/odyssey-procurement/internal/observability"
	"github.com/odyssey-erp/odyssey-procurement/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-procurement/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procurement/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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
	services := app.NewServices(cfg, pool, redisClient, logger, metrics)

	totalsJob := jobs.NewTotalsRefreshJob(services.Procurement, services.Deliveries, logger, metrics.Jobs())
	rankingJob := jobs.NewRankingReindexJob(services.Rankings, logger, metrics.Jobs())
	cleanupJob := jobs.NewIdempotencyCleanupJob(services.Idempotency, logger, metrics.Jobs())

	totalsTask, err := jobs.NewTotalsRefreshTask(jobs.ScopeAll, cfg.TotalsRefreshBatch)
	if err != nil {
		logger.Error("build totals refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	rankingTask, err := jobs.NewRankingReindexTask("scheduled")
	if err != nil {
		logger.Error("build ranking reindex task", slog.Any("error", err))
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
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTotalsRefresh, Handler: totalsJob.Handle},
			{Type: jobs.TaskRankingReindex, Handler: rankingJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.TotalsRefreshCron, Task: totalsTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.RankingReindexCron, Task: rankingTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.WorkerMetricsAddr != "" {
		mux := chi.NewRouter()
		mux.Method(http.MethodGet, "/metrics", metrics.Handler())
		server := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadTimeout: cfg.AppReadTimeout}
		g.Go(func() error {
			return app.Serve(gctx, server, cfg.AppShutdownGrace, logger)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
