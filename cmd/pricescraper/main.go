// Package main wires together the price scraper service binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-scraper/internal/config"
	"github.com/JakeFAU/realtime-price-scraper/internal/logging"
	"github.com/JakeFAU/realtime-price-scraper/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	if err := run(context.Background(), &cfg, logger); err != nil {
		logger.Error("scraper exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	if syncErr := logger.Sync(); syncErr != nil {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("run application: %w", err)
	}
	return nil
}
