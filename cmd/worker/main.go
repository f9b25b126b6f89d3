package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/iago/mileage-reports-back/internal/app"
	"github.com/iago/mileage-reports-back/internal/config"
	"github.com/iago/mileage-reports-back/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json, toml or .env)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("info", os.Stderr).Error("load config failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Server.LogLevel, os.Stdout).With("service", "mileage-worker")

	if cfg.Queue.Backend == "local" {
		logger.Error("a standalone worker needs a shared queue, set queue.backend=redis")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	logger.Info("worker started", "stream", cfg.Queue.Stream, "consumer", cfg.Queue.Consumer)
	application.Worker().Run(ctx)
	logger.Info("worker stopped")
}
