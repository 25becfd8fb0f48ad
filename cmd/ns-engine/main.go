package main

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/manager"
	"Go2NetSentinel/internal/logging"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logging.Sync(logger)
	logger.Info("starting ns-engine", zap.String("source", cfg.Source.Path))

	// 2. Wire pipeline, cache, watcher and alerter
	mgr, err := manager.NewManager(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create manager", zap.Error(err))
	}

	// 3. Start the background workers
	mgr.Start()

	// 4. Wait for a shutdown signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info("shutdown signal received, stopping manager")
	mgr.Stop()
	logger.Info("shutdown complete")
}
