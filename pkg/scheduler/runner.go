package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/config"
)

var ErrLeadershipLost = errors.New("scheduler leadership lost")

// Leader is the election the runner campaigns in before ticking, so only
// one replica polls the carrier.
type Leader interface {
	Campaign(ctx context.Context) error
	Lost() <-chan struct{}
	Resign(ctx context.Context) error
}

// Runner sends the reconcile actor a run request on every interval while
// this replica is leader.
type Runner struct {
	system   *actor.ActorSystem
	pid      *actor.PID
	leader   Leader
	interval time.Duration
	logger   *zap.Logger
}

// NewRunner spawns the reconcile actor. leader may be nil for a single
// replica deployment.
func NewRunner(system *actor.ActorSystem, r Reconciler, cfg *config.SchedulerConfig, leader Leader, logger *zap.Logger) (*Runner, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %s", cfg.Interval)
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewReconcileActor(r, cfg.RunTimeout, logger.Named("reconcile-actor"))
	})
	pid, err := system.Root.SpawnNamed(props, "reconcile-actor")
	if err != nil {
		return nil, fmt.Errorf("failed to spawn reconcile actor: %w", err)
	}
	return &Runner{
		system:   system,
		pid:      pid,
		leader:   leader,
		interval: cfg.Interval,
		logger:   logger,
	}, nil
}

// Run blocks until ctx is done or leadership is lost. The first run starts
// as soon as this replica leads.
func (r *Runner) Run(ctx context.Context) error {
	var lost <-chan struct{}
	if r.leader != nil {
		r.logger.Info("Campaigning for reconcile leadership")
		if err := r.leader.Campaign(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		lost = r.leader.Lost()
		r.logger.Info("Elected reconcile leader")
	}

	r.trigger("startup")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.resign()
			return nil
		case <-lost:
			r.logger.Warn("Reconcile leadership lost")
			return ErrLeadershipLost
		case <-ticker.C:
			r.trigger("interval")
		}
	}
}

func (r *Runner) trigger(reason string) {
	r.system.Root.Send(r.pid, &RunReconcile{Reason: reason})
}

// RunNow requests a run and waits for its result.
func (r *Runner) RunNow(timeout time.Duration) (*RunResult, error) {
	res, err := r.system.Root.RequestFuture(r.pid, &RunReconcile{Reason: "manual"}, timeout).Result()
	if err != nil {
		return nil, err
	}
	result, ok := res.(*RunResult)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %T", res)
	}
	return result, nil
}

func (r *Runner) resign() {
	if r.leader == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.leader.Resign(ctx); err != nil {
		r.logger.Warn("Failed to resign reconcile leadership", zap.Error(err))
	}
}

// Stop stops the actor, waiting for the current message to finish.
func (r *Runner) Stop() {
	_ = r.system.Root.StopFuture(r.pid).Wait()
}
