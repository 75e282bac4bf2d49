package scheduler

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/fulfillment"
)

// Reconciler runs one full tracking sync. Both the in-process service and
// the gRPC client satisfy it.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (*fulfillment.Summary, error)
}

// Messages
type RunReconcile struct {
	Reason string
}

type RunResult struct {
	Summary *fulfillment.Summary
	Err     error
	// Busy is set when a run was already in flight and this request was
	// dropped.
	Busy bool
}

type runFinished struct {
	reason  string
	summary *fulfillment.Summary
	err     error
	took    time.Duration
	replyTo *actor.PID
}

// ReconcileActor serializes reconciliation runs. A run executes off the
// mailbox so the actor keeps answering while it is busy; requests arriving
// during a run are answered with Busy instead of queueing another run.
type ReconcileActor struct {
	reconciler Reconciler
	timeout    time.Duration
	logger     *zap.Logger

	running bool
}

func NewReconcileActor(r Reconciler, timeout time.Duration, logger *zap.Logger) *ReconcileActor {
	return &ReconcileActor{reconciler: r, timeout: timeout, logger: logger}
}

func (a *ReconcileActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *RunReconcile:
		if a.running {
			a.logger.Info("Reconcile already running, request dropped", zap.String("reason", msg.Reason))
			if ctx.Sender() != nil {
				ctx.Respond(&RunResult{Busy: true})
			}
			return
		}
		a.running = true
		a.start(ctx, msg.Reason)

	case *runFinished:
		a.running = false
		if msg.err != nil {
			a.logger.Error("Reconcile run failed",
				zap.String("reason", msg.reason),
				zap.Duration("took", msg.took),
				zap.Error(msg.err))
		} else {
			a.logger.Info("Reconcile run finished",
				zap.String("reason", msg.reason),
				zap.Duration("took", msg.took),
				zap.Int("total", msg.summary.Total),
				zap.Int("updated", msg.summary.Updated),
				zap.Int("skipped", msg.summary.Skipped),
				zap.Int("failed", msg.summary.Failed))
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, &RunResult{Summary: msg.summary, Err: msg.err})
		}

	case *actor.Started:
		a.logger.Info("Reconcile actor started")

	case *actor.Stopping:
		a.logger.Info("Reconcile actor stopping")

	case *actor.Stopped:
		a.logger.Info("Reconcile actor stopped")
	}
}

func (a *ReconcileActor) start(ctx actor.Context, reason string) {
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	replyTo := ctx.Sender()

	go func() {
		runCtx := context.Background()
		if a.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, a.timeout)
			defer cancel()
		}
		began := time.Now()
		summary, err := a.reconciler.ReconcileAll(runCtx)
		root.Send(self, &runFinished{
			reason:  reason,
			summary: summary,
			err:     err,
			took:    time.Since(began),
			replyTo: replyTo,
		})
	}()
}
