package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

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
	logger := logging.New(cfg.Server.LogLevel, os.Stdout).With("service", "mileage-api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	workerDone := make(chan struct{})
	if cfg.Worker.Enabled {
		w := application.Worker()
		go func() {
			defer close(workerDone)
			w.Run(ctx)
		}()
		logger.Info("worker enabled and started")
	} else {
		close(workerDone)
		if cfg.Queue.Backend == "local" {
			logger.Warn("worker disabled with the in-process queue, jobs will stay pending until the sweep fails them")
		} else {
			logger.Info("worker disabled by configuration")
		}
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           application.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", server.Addr)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	<-workerDone
	logger.Info("api stopped")
}
