package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"classlog/internal/auth"
	"classlog/internal/bootstrap"
	"classlog/internal/config"
	"classlog/internal/logging"
	"classlog/internal/metrics"
	"classlog/internal/worker"
)

// Worker deletes identities left behind by failed two-phase creations.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Fatal("QUEUE_BACKEND=memory is consumed inside the api process; run the worker with redis")
	}

	rec := metrics.New(prometheus.DefaultRegisterer)
	backends, err := bootstrap.Open(ctx, cfg, rec, logger)
	if err != nil {
		logger.Fatal("backend init failed", zap.Error(err))
	}
	defer backends.Close()

	comp := &worker.Compensator{
		Deleter:     auth.NewDirectory(backends.Store, backends.Sessions, 0, cfg.RefreshTTL),
		Queue:       backends.Queue,
		MaxAttempts: cfg.CompensationMaxAttempts,
		Backoff:     time.Second,
		Log:         logger.Named("compensator"),
		Metrics:     rec,
	}
	if err := comp.Run(ctx); err != nil {
		logger.Error("queue consume failed", zap.Error(err))
	}
}
