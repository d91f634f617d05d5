package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zenlist/notifier/internal/config"
	"github.com/zenlist/notifier/pkg/observability"
)

func main() {
	cfg, err := config.Load(os.Getenv("ZENLIST_CONFIG"))
	if err != nil {
		observability.NewLogger("notifications").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLoggerWithLevel(cfg.Service.Name, cfg.Service.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Secrets.AWSSecretID != "" {
		sm, err := config.NewSecretsClient(ctx, cfg.Secrets.AWSRegion)
		if err != nil {
			logger.Error("failed to create secrets client", "error", err)
			os.Exit(1)
		}
		if err := cfg.ApplySecrets(ctx, sm); err != nil {
			logger.Error("failed to load secrets", "error", err)
			os.Exit(1)
		}
		logger.Info("secrets loaded", "secret_id", cfg.Secrets.AWSSecretID)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	runErr := a.run(ctx)
	if runErr != nil {
		logger.Error("service stopped", "error", runErr)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
