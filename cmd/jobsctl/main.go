package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-procurement/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-procurement/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr, cfg.TotalsRefreshBatch, cfg.IdempotencyRetention)
	if err != nil {
		slog.Default().Error("init jobs cli", slog.Any("error", err))
		os.Exit(1)
	}
	code := jobsCLI.Run(ctx, os.Args[1:], os.Stdout)
	if err := jobsCLI.Close(); err != nil {
		slog.Default().Warn("close jobs cli", slog.Any("error", err))
	}
	os.Exit(code)
}
