package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/app"
	"github.com/park285/chess-live/internal/config"
	"github.com/park285/chess-live/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build_error", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close_error", zap.Error(err))
		}
	}()

	logger.Info("chess_live_started", zap.String("metrics_addr", cfg.MetricsAddr))
	if err := a.Run(ctx); err != nil {
		logger.Error("run_error", zap.Error(err))
		stop()
		obslog.Sync()
		os.Exit(1)
	}
}
