package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/orderdesk/gateway"
	"github.com/example/orderdesk/pkg/app"
)

func main() {
	cfg, logger, err := app.Bootstrap()
	if err != nil {
		panic(fmt.Sprintf("Failed to start: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting API Gateway",
		zap.Int("port", cfg.Gateway.Port),
		zap.String("host", cfg.Gateway.Host))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create service", zap.Error(err))
	}
	defer core.Close(context.Background())

	gin.SetMode(gin.ReleaseMode)
	gw := gateway.NewGateway(cfg, logger.Named("gateway"), core.Service)
	gw.SetupRoutes()

	sd := app.Discovery(cfg, logger)
	if sd != nil {
		defer sd.Close()
		instance := app.Instance("gateway", cfg.Gateway.Host, cfg.Gateway.Port)
		if err := sd.Register(ctx, instance); err != nil {
			logger.Warn("Failed to register gateway", zap.Error(err))
		}
	}

	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	logger.Info("Gateway started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-gwErr:
		logger.Fatal("Gateway error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway shutdown failed", zap.Error(err))
	}

	logger.Info("Gateway stopped")
}
