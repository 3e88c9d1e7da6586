package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/config"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/timenode"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the TimeNode service
	service, err := timenode.NewService(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to create TimeNode service: %v", err)
	}

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		appLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	appLogger.Notice("Starting the TimeNode...")
	if err := service.Start(ctx); err != nil {
		log.Fatalf("TimeNode stopped: %v", err)
	}
}
