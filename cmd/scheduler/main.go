package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/app"
	"github.com/example/orderdesk/pkg/discovery"
	"github.com/example/orderdesk/pkg/grpc"
	"github.com/example/orderdesk/pkg/scheduler"
)

func main() {
	cfg, logger, err := app.Bootstrap()
	if err != nil {
		panic(fmt.Sprintf("Failed to start: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting reconcile scheduler", zap.Duration("interval", cfg.Scheduler.Interval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sd := app.Discovery(cfg, logger)
	if sd != nil {
		defer sd.Close()
	}

	clients := grpc.NewClientManager(cfg, logger.Named("grpc-client"), sd)
	if err := clients.Connect(ctx); err != nil {
		logger.Fatal("Failed to connect to fulfillment service", zap.Error(err))
	}
	defer clients.Close()

	var leader scheduler.Leader
	if sd != nil {
		hostname, _ := os.Hostname()
		election, err := discovery.NewElection(sd.Client(), cfg.Etcd.Prefix, cfg.Scheduler.ElectionName, hostname, cfg.Etcd.LeaseTTL)
		if err != nil {
			logger.Fatal("Failed to create election", zap.Error(err))
		}
		defer election.Close()
		leader = election
	}

	runner, err := scheduler.NewRunner(actor.NewActorSystem(), clients, &cfg.Scheduler, leader, logger.Named("scheduler"))
	if err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer runner.Stop()

	manual := make(chan os.Signal, 1)
	signal.Notify(manual, syscall.SIGUSR1)
	defer signal.Stop(manual)
	go triggerOnSignal(ctx, manual, runner, cfg.Scheduler.RunTimeout+30*time.Second, logger)

	if err := runner.Run(ctx); err != nil {
		if errors.Is(err, scheduler.ErrLeadershipLost) {
			logger.Fatal("Scheduler exiting after losing leadership")
		}
		logger.Fatal("Scheduler stopped", zap.Error(err))
	}

	logger.Info("Scheduler stopped")
}

// triggerOnSignal runs a reconciliation whenever SIGUSR1 arrives and logs its
// outcome.
func triggerOnSignal(ctx context.Context, sig <-chan os.Signal, runner *scheduler.Runner, timeout time.Duration, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
		}
		logger.Info("Manual reconcile requested")
		result, err := runner.RunNow(timeout)
		switch {
		case err != nil:
			logger.Error("Manual reconcile did not finish", zap.Error(err))
		case result.Busy:
			logger.Info("Manual reconcile skipped, a run is in flight")
		case result.Err != nil:
			logger.Error("Manual reconcile failed", zap.Error(result.Err))
		default:
			logger.Info("Manual reconcile finished", zap.Any("summary", result.Summary))
		}
	}
}
