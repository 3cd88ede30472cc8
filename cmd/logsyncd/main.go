package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"cu-log-sync/config"
	"cu-log-sync/internal/api"
	"cu-log-sync/internal/db"
	"cu-log-sync/internal/ingest"
	"cu-log-sync/internal/logging"
	"cu-log-sync/internal/source"
	"cu-log-sync/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	logger.Info("configuration loaded", "path", configPath, "source", cfg.Source.Kind, "database", cfg.Database.Driver)

	if err := run(cfg, logger); err != nil {
		logger.Error("logsyncd stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(gormDB); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}()

	appStore := store.NewGormStore(gormDB)

	src, err := source.New(cfg.Source, logger)
	if err != nil {
		return err
	}

	metrics, err := ingest.NewMetrics()
	if err != nil {
		return err
	}
	svc, err := ingest.NewService(cfg, src, appStore, metrics, logger)
	if err != nil {
		return err
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		svc.Run(ctx)
	}()

	var server *http.Server
	serverErr := make(chan error, 1)
	if cfg.Status.Enabled {
		gin.SetMode(gin.ReleaseMode)
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Status.Port),
			Handler:           api.NewRouter(svc, appStore, metrics.Registry(), cfg.Status),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("status server starting", "port", cfg.Status.Port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	// Block until a signal is received or the status server dies.
	var runErr error
	select {
	case <-stop:
		logger.Info("shutdown signal received, stopping services")
	case err := <-serverErr:
		runErr = fmt.Errorf("status server: %w", err)
	}

	cancel()
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown failed", "error", err)
		}
	}
	// The database is closed only once the in-flight run has returned.
	<-serviceDone
	if runErr != nil {
		return runErr
	}

	logger.Info("logsyncd gracefully stopped")
	return nil
}
