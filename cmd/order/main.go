package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/app"
	"github.com/example/orderdesk/pkg/grpc"
)

func main() {
	cfg, logger, err := app.Bootstrap()
	if err != nil {
		panic(fmt.Sprintf("Failed to start: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting order service",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create service", zap.Error(err))
	}
	defer core.Close(context.Background())

	server := grpc.NewFulfillmentServer(core.Service, cfg, logger.Named("grpc"))

	sd := app.Discovery(cfg, logger)
	instance := app.Instance(cfg.Server.Name, cfg.Server.Host, cfg.Server.Port)
	if sd != nil {
		defer sd.Close()
		if err := sd.Register(ctx, instance); err != nil {
			logger.Fatal("Failed to register service", zap.Error(err))
		}
		logger.Info("Service registered in etcd",
			zap.String("name", instance.Name),
			zap.String("address", instance.Addr()))
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		logger.Fatal("Server error", zap.Error(err))
	}

	if sd != nil {
		deregCtx, deregCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sd.Deregister(deregCtx, instance); err != nil {
			logger.Error("Failed to deregister service", zap.Error(err))
		}
		deregCancel()
	}
	server.Stop()

	logger.Info("Service stopped")
}
