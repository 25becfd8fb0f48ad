package main

import (
	"Go2NetSentinel/internal/api"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/manager"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/query"
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logging.Sync(logger)

	// The API serves reads only; the alerter belongs to ns-engine.
	cfg.Alerter.Enabled = false
	mgr, err := manager.NewManager(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create manager", zap.Error(err))
	}
	mgr.Start()

	// Alert history is available when a ClickHouse sink is configured.
	var querier query.Querier
	for _, def := range cfg.Sinks {
		if def.Enabled && def.Type == "clickhouse" {
			querier, err = query.NewClickHouseQuerier(def.ClickHouse)
			if err != nil {
				logger.Warn("alert history disabled", zap.Error(err))
				querier = nil
			}
			break
		}
	}

	timeout, _ := time.ParseDuration(cfg.API.RequestTimeout)
	handler := api.NewHandler(mgr.Service(), querier, timeout, logger)

	server := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("API server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not listen", zap.String("addr", server.Addr), zap.Error(err))
		}
	}()

	// gRPC health service for orchestrators
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.API.HealthAddr)
	if err != nil {
		logger.Fatal("could not listen for health checks", zap.String("addr", cfg.API.HealthAddr), zap.Error(err))
	}
	go func() {
		logger.Info("health server starting", zap.String("addr", cfg.API.HealthAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("health server stopped", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("API server shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	mgr.Stop()
	if querier != nil {
		querier.Close()
	}
	logger.Info("API server exited")
}
