package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/config"
	"github.com/example/orderdesk/pkg/fulfillment"
)

type countingReconciler struct {
	runs    atomic.Int32
	release chan struct{}
	err     error
}

func (c *countingReconciler) ReconcileAll(ctx context.Context) (*fulfillment.Summary, error) {
	c.runs.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &fulfillment.Summary{Total: 2, Updated: 1, Skipped: 1}, nil
}

type fakeLeader struct {
	lost     chan struct{}
	resigned atomic.Bool
}

func (f *fakeLeader) Campaign(context.Context) error { return nil }
func (f *fakeLeader) Lost() <-chan struct{} { return f.lost }
func (f *fakeLeader) Resign(context.Context) error {
	f.resigned.Store(true)
	return nil
}

func newRunner(t *testing.T, r Reconciler, leader Leader, interval time.Duration) *Runner {
	t.Helper()
	cfg := &config.SchedulerConfig{Interval: interval, RunTimeout: time.Second}
	runner, err := NewRunner(actor.NewActorSystem(), r, cfg, leader, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(runner.Stop)
	return runner
}

func TestRunNowReturnsSummary(t *testing.T) {
	rec := &countingReconciler{}
	runner := newRunner(t, rec, nil, time.Hour)

	res, err := runner.RunNow(time.Second)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, &fulfillment.Summary{Total: 2, Updated: 1, Skipped: 1}, res.Summary)
}

func TestRunNowSurfacesFailure(t *testing.T) {
	rec := &countingReconciler{err: errors.New("batch lock held")}
	runner := newRunner(t, rec, nil, time.Hour)

	res, err := runner.RunNow(time.Second)
	require.NoError(t, err)
	assert.EqualError(t, res.Err, "batch lock held")
}

func TestOverlappingRunsAreDropped(t *testing.T) {
	rec := &countingReconciler{release: make(chan struct{})}
	runner := newRunner(t, rec, nil, time.Hour)
	root := runner.system.Root

	first := root.RequestFuture(runner.pid, &RunReconcile{Reason: "first"}, time.Second)
	second, err := root.RequestFuture(runner.pid, &RunReconcile{Reason: "second"}, time.Second).Result()
	require.NoError(t, err)
	assert.True(t, second.(*RunResult).Busy)

	close(rec.release)
	res, err := first.Result()
	require.NoError(t, err)
	assert.False(t, res.(*RunResult).Busy)
	assert.Equal(t, int32(1), rec.runs.Load())

	// The actor accepts new runs once the previous one finished.
	again, err := runner.RunNow(time.Second)
	require.NoError(t, err)
	assert.False(t, again.Busy)
	assert.Equal(t, int32(2), rec.runs.Load())
}

func TestRunnerTicksWhileLeader(t *testing.T) {
	rec := &countingReconciler{}
	leader := &fakeLeader{lost: make(chan struct{})}
	runner := newRunner(t, rec, leader, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	assert.Eventually(t, func() bool { return rec.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, leader.resigned.Load())
}

func TestRunnerStopsWhenLeadershipLost(t *testing.T) {
	leader := &fakeLeader{lost: make(chan struct{})}
	runner := newRunner(t, &countingReconciler{}, leader, time.Hour)

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()
	close(leader.lost)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLeadershipLost)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestNewRunnerRejectsZeroInterval(t *testing.T) {
	_, err := NewRunner(actor.NewActorSystem(), &countingReconciler{}, &config.SchedulerConfig{}, nil, zap.NewNop())
	assert.Error(t, err)
}
