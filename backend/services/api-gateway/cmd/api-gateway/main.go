package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"storyforge/backend/libs/logging"
	"storyforge/backend/services/api-gateway/internal/app"
	"storyforge/backend/services/api-gateway/internal/config"
)

func main() {
	logger, err := logging.NewLogger("api-gateway")
	if err != nil {
		fmt.Fprintln(os.Stderr, "api-gateway: logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	if err := run(logger); err != nil {
		logger.Error("gateway exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("gateway configured",
		zap.String("addr", cfg.HTTPAddress()),
		zap.String("credits_url", cfg.Services.CreditsURL),
		zap.Duration("upstream_timeout", cfg.HTTPTimeout()),
	)

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
