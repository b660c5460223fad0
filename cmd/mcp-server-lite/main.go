// Package main provides the standalone entry point. It needs no external
// services: schedules run on the local heuristic, history lives in SQLite.
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
	"github.com/surgery-scheduler-server/internal/mcp"
	"github.com/surgery-scheduler-server/internal/setup"
)

func main() {
	cfg := config.LoadLiteConfig()

	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewCLI(cfg)
		if err := cli.Run(context.Background(), os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	// "http" serves the REST API; anything else speaks MCP on stdio.
	serveHTTP := len(os.Args) > 1 && os.Args[1] == "http"

	full := cfg.Config()
	logger := logging.New(full.Logging)

	application, err := app.NewLite(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialise scheduler")
	}
	defer application.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	application.Start(ctx)

	if serveHTTP {
		logger.Infof("Starting Surgery Scheduler (Lite) API on %s:%d", cfg.HTTPHost, cfg.HTTPPort)
		err = api.NewServer(application.Config, application.Service, application.ServerOptions()...).Start(ctx)
	} else {
		logger.Info("Starting Surgery Scheduler (Lite) MCP server on stdio")
		err = mcp.NewServer(application.Service, logger).Start(ctx)
	}
	if err != nil {
		logger.WithError(err).Error("Server failed")
		application.Close()
		os.Exit(1)
	}

	logger.Info("Surgery Scheduler (Lite) stopped")
}
