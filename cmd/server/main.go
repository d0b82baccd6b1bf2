package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/clinical-reasoning-engine/internal/api"
	"github.com/clinical-reasoning-engine/internal/app"
	"github.com/clinical-reasoning-engine/internal/config"
	"github.com/clinical-reasoning-engine/internal/knowledge"
	"github.com/clinical-reasoning-engine/internal/publish"
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

	logger, err := app.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	logger.Infof("Starting Clinical Reasoning Engine on %s:%d", cfg.Server.Host, cfg.Server.Port)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := knowledge.NewRegistry(cfg.Knowledge.Dir, cfg.Knowledge.CacheSize, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load knowledge base")
	}

	store, err := app.OpenHistory(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open report history")
	}
	if store != nil {
		defer store.Close()
	}

	publisher, err := publish.New(cfg.Kafka, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure report publisher")
	}
	defer publisher.Close()

	// Create server
	server := api.NewServer(cfg, api.Dependencies{
		Knowledge: registry,
		Store:     store,
		Publisher: publisher,
	}, logger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}

	logger.Info("Server stopped")
}
