package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/surgery-scheduler-server/internal/api"
	"github.com/surgery-scheduler-server/internal/app"
	"github.com/surgery-scheduler-server/internal/config"
	"github.com/surgery-scheduler-server/internal/logging"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := logging.New(cfg.Logging)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.NewFull(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialise scheduler")
	}
	defer application.Close()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	application.Start(ctx)
	server := api.NewServer(cfg, application.Service, application.ServerOptions()...)

	logger.WithField("mode", cfg.Scheduler.Mode).Infof("Starting Surgery Scheduler API on %s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		application.Close()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
