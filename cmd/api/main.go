package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"classlog/internal/api"
	"classlog/internal/auth"
	"classlog/internal/bootstrap"
	"classlog/internal/cloudinary"
	"classlog/internal/config"
	"classlog/internal/logging"
	"classlog/internal/metrics"
	"classlog/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := metrics.New(prometheus.DefaultRegisterer)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	backends, err := bootstrap.Open(connectCtx, cfg, rec, logger)
	cancel()
	if err != nil {
		return err
	}
	defer backends.Close()

	gateway := auth.NewDirectory(backends.Store, backends.Sessions, 0, cfg.RefreshTTL)

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryConfigured() {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("cloudinary not configured, avatar upload disabled")
	}

	checks := map[string]api.Check{}
	if backends.DB != nil {
		checks["db"] = backends.DB.Healthy
	}
	if backends.Redis != nil {
		checks["redis"] = backends.Redis.Healthy
	}

	// An in-memory queue only reaches consumers in this process.
	if cfg.QueueBackend == "memory" {
		comp := &worker.Compensator{
			Deleter:     gateway,
			Queue:       backends.Queue,
			MaxAttempts: cfg.CompensationMaxAttempts,
			Backoff:     time.Second,
			Log:         logger.Named("compensator"),
			Metrics:     rec,
		}
		go func() {
			if err := comp.Run(ctx); err != nil {
				logger.Error("compensation worker failed", zap.Error(err))
			}
		}()
	}

	srv := api.New(api.Deps{
		Config:   cfg,
		Store:    backends.Store,
		Gateway:  gateway,
		Sessions: backends.Sessions,
		Queue:    backends.Queue,
		Cloud:    cdnClient,
		Metrics:  rec,
		Gatherer: prometheus.DefaultGatherer,
		Checks:   checks,
		Log:      logger,
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreBackend))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
