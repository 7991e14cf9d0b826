package runner_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crudstress/internal/runner"
	"crudstress/internal/target"
	"crudstress/internal/target/memory"
)

func run(t *testing.T, tgt target.Target, cfg runner.Config, opts ...runner.Option) runner.Result {
	t.Helper()
	ctx := context.Background()
	r := runner.New(tgt, cfg, zap.NewNop(), opts...)
	require.NoError(t, r.Prepare(ctx))
	return r.Run(ctx, nil)
}

func TestRunner_IssuesExactlyNSequenceNumbers(t *testing.T) {
	store := memory.New(memory.Config{})
	res := run(t, store, runner.Config{Workers: 8, Iterations: 500, ClearBefore: true})

	assert.Equal(t, int64(500), res.Ops)
	seqs := store.CreatedSeqs()
	require.Len(t, seqs, 500)
	for i, s := range seqs {
		assert.Equal(t, int64(i), s)
	}
}

func TestRunner_RepeatedRunsLeaveStoreEmpty(t *testing.T) {
	store := memory.New(memory.Config{})
	cfg := runner.Config{Workers: 4, Iterations: 200, ClearBefore: true}

	first := run(t, store, cfg)
	second := run(t, store, cfg)

	require.NotNil(t, first.Remaining)
	require.NotNil(t, second.Remaining)
	assert.Zero(t, *first.Remaining)
	assert.Equal(t, *first.Remaining, *second.Remaining)
	assert.Equal(t, int64(2), store.Resets())
}

func TestRunner_ReusedRunnerStartsFresh(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.Config{})
	r := runner.New(store, runner.Config{Workers: 2, Iterations: 10, ClearBefore: true}, zap.NewNop())

	require.NoError(t, r.Prepare(ctx))
	first := r.Run(ctx, nil)
	require.NoError(t, r.Prepare(ctx))
	second := r.Run(ctx, nil)

	assert.Equal(t, int64(10), first.Ops)
	assert.Equal(t, int64(10), second.Ops)
	assert.Equal(t, int64(10), second.Latency.Count, "stats from the first run are dropped")
	require.NotNil(t, second.Remaining)
	assert.Zero(t, *second.Remaining)
	assert.Len(t, store.CreatedSeqs(), 10, "the second run issues 0..9 again")
	assert.Equal(t, int64(10), r.Snapshot().Ops)
}

func TestRunner_WorkerCountDoesNotChangeOutcome(t *testing.T) {
	one := run(t, memory.New(memory.Config{}), runner.Config{Workers: 1, Iterations: 300, ClearBefore: true})
	many := run(t, memory.New(memory.Config{}), runner.Config{Workers: 16, Iterations: 300, ClearBefore: true})

	assert.Equal(t, one.Ops, many.Ops)
	assert.Equal(t, one.Errors, many.Errors)
	assert.Equal(t, *one.Remaining, *many.Remaining)
}

// A duration-bounded run against a healthy document-like store.
func TestRunner_DurationBounded(t *testing.T) {
	store := memory.New(memory.Config{Name: "mongo", Latency: 200 * time.Microsecond})
	res := run(t, store, runner.Config{Workers: 4, Duration: 200 * time.Millisecond, ClearBefore: true})

	assert.Equal(t, "mongo", res.Target)
	assert.Positive(t, res.Ops)
	assert.Zero(t, res.Errors)
	require.NotNil(t, res.Remaining)
	assert.Zero(t, *res.Remaining)
	assert.GreaterOrEqual(t, res.Duration, 200*time.Millisecond)
	assert.Equal(t, res.Ops, res.Latency.Count)

	opened, closed := store.Sessions()
	assert.Equal(t, int64(4), opened, "one session per worker")
	assert.Equal(t, opened, closed)
}

func TestRunner_TransientCreateFailure(t *testing.T) {
	boom := errors.New("transient write failure")
	store := memory.New(memory.Config{Fault: memory.FailNth(target.StepCreate, 37, boom)})
	res := run(t, store, runner.Config{Workers: 4, Iterations: 100, ClearBefore: true})

	assert.Equal(t, int64(100), res.Ops)
	assert.Equal(t, int64(1), res.Errors)
	assert.Zero(t, *res.Remaining)
	assert.Len(t, store.CreatedSeqs(), 99)
	require.Len(t, res.ErrorSamples, 1)
	for msg, n := range res.ErrorSamples {
		assert.Contains(t, msg, "create")
		assert.Equal(t, int64(1), n)
	}
	assert.Equal(t, int64(100), res.Steps[target.StepCreate].Count)
	assert.Equal(t, int64(99), res.Steps[target.StepDelete].Count)
}

func TestRunner_DeadlineLetsInflightCyclesFinish(t *testing.T) {
	store := memory.New(memory.Config{Latency: 50 * time.Millisecond})
	res := run(t, store, runner.Config{Workers: 2, Duration: 10 * time.Millisecond})

	assert.Equal(t, int64(2), res.Ops)
	assert.Zero(t, res.Errors)
	assert.Zero(t, *res.Remaining)
}

func TestRunner_OpTimeoutFailsSlowCycles(t *testing.T) {
	store := memory.New(memory.Config{Latency: 200 * time.Millisecond})
	res := run(t, store, runner.Config{Workers: 1, Iterations: 1, OpTimeout: 20 * time.Millisecond})

	assert.Equal(t, int64(1), res.Ops)
	assert.Equal(t, int64(1), res.Errors)
}

func TestRunner_WorkerConnectionFailure(t *testing.T) {
	store := memory.New(memory.Config{OpenFault: func(worker int) error {
		if worker == 1 {
			return errors.New("connection refused")
		}
		return nil
	}})
	res := run(t, store, runner.Config{Workers: 3, Iterations: 60})

	assert.Equal(t, 1, res.FailedWorkers)
	assert.Equal(t, int64(60), res.Ops, "remaining workers absorb the work")
	assert.Zero(t, res.Errors)
	assert.False(t, res.Failed())
}

func TestRunner_AllWorkersFail(t *testing.T) {
	store := memory.New(memory.Config{OpenFault: func(int) error { return errors.New("no route to host") }})
	res := run(t, store, runner.Config{Workers: 2, Iterations: 10})

	assert.Equal(t, 2, res.FailedWorkers)
	assert.Zero(t, res.Ops)
	assert.True(t, res.Failed())
}

type brokenCount struct{ *memory.Store }

func (brokenCount) Count(context.Context) (int64, error) { return 0, errors.New("count timed out") }

func TestRunner_CountFailureLeavesRemainingUnknown(t *testing.T) {
	res := run(t, brokenCount{memory.New(memory.Config{})}, runner.Config{Workers: 1, Iterations: 5})

	assert.Equal(t, int64(5), res.Ops)
	assert.Nil(t, res.Remaining)
}

func TestRunner_WaitsForGate(t *testing.T) {
	store := memory.New(memory.Config{})
	r := runner.New(store, runner.Config{Workers: 2, Iterations: 10}, zap.NewNop())
	gate := make(chan struct{})

	done := make(chan runner.Result, 1)
	go func() { done <- r.Run(context.Background(), gate) }()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, r.Snapshot().Ops)
	assert.True(t, r.StartedAt().IsZero())

	released := time.Now()
	close(gate)
	res := <-done

	assert.Equal(t, int64(10), res.Ops)
	assert.False(t, res.StartedAt.Before(released))
}

func TestRunner_CancelledBeforeGate(t *testing.T) {
	r := runner.New(memory.New(memory.Config{}), runner.Config{Workers: 1, Iterations: 10}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, make(chan struct{}))
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.True(t, res.Failed())
}

func TestRunner_ParentCancelStopsClaims(t *testing.T) {
	store := memory.New(memory.Config{Latency: time.Millisecond})
	r := runner.New(store, runner.Config{Workers: 2}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := r.Run(ctx, nil)
	assert.Positive(t, res.Ops)
	assert.Zero(t, res.Errors)
	assert.Zero(t, *res.Remaining)
}

func TestRunner_RateLimit(t *testing.T) {
	res := run(t, memory.New(memory.Config{}), runner.Config{Workers: 4, Iterations: 30, RateLimit: 20})

	assert.Equal(t, int64(30), res.Ops)
	// 20 tokens of burst, the other 10 arrive at 20/s
	assert.GreaterOrEqual(t, res.Duration, 400*time.Millisecond)
}

func TestRunner_RampUpStaggersWorkers(t *testing.T) {
	res := run(t, memory.New(memory.Config{}), runner.Config{Workers: 2, Iterations: 4, RampUp: 100 * time.Millisecond})
	assert.Equal(t, int64(4), res.Ops)
}

type countingObserver struct {
	outcomes, failed, started, stopped atomic.Int64
	searches, searchFailed             atomic.Int64
}

func (c *countingObserver) ObserveSearch(_ string, _ time.Duration, err error) {
	c.searches.Add(1)
	if err != nil {
		c.searchFailed.Add(1)
	}
}

func (c *countingObserver) ObserveOutcome(_ string, o target.Outcome) {
	c.outcomes.Add(1)
	if !o.OK {
		c.failed.Add(1)
	}
}
func (c *countingObserver) WorkerStarted(string) { c.started.Add(1) }
func (c *countingObserver) WorkerStopped(string) { c.stopped.Add(1) }

func TestRunner_Observer(t *testing.T) {
	obs := &countingObserver{}
	store := memory.New(memory.Config{Fault: memory.FailNth(target.StepRead, 3, errors.New("x"))})
	run(t, store, runner.Config{Workers: 3, Iterations: 25}, runner.WithObserver(obs))

	assert.Equal(t, int64(25), obs.outcomes.Load())
	assert.Equal(t, int64(1), obs.failed.Load())
	assert.Equal(t, int64(3), obs.started.Load())
	assert.Equal(t, int64(3), obs.stopped.Load())
}

func TestRunner_SearchEvery(t *testing.T) {
	obs := &countingObserver{}
	store := memory.New(memory.Config{Fault: memory.FailNth(target.StepSearch, 2, errors.New("no text index"))})
	res := run(t, store, runner.Config{Workers: 1, Iterations: 20, SearchEvery: 5, PayloadWords: 20}, runner.WithObserver(obs))

	assert.Equal(t, int64(20), res.Ops)
	assert.Zero(t, res.Errors, "search failures stay out of cycle errors")
	assert.Equal(t, int64(4), res.Searches)
	assert.Equal(t, int64(1), res.SearchErrors)
	assert.Equal(t, 25.0, res.SearchErrorRate())
	assert.Equal(t, int64(3), res.SearchLatency.Count)
	assert.Equal(t, map[string]int64{"no text index": 1}, res.SearchErrorSamples)
	assert.Empty(t, res.ErrorSamples)

	assert.Equal(t, int64(4), store.Calls(target.StepSearch))
	assert.Equal(t, int64(4), obs.searches.Load())
	assert.Equal(t, int64(1), obs.searchFailed.Load())
}

func TestRunner_SearchDisabledByDefault(t *testing.T) {
	store := memory.New(memory.Config{})
	res := run(t, store, runner.Config{Workers: 2, Iterations: 20})

	assert.Zero(t, res.Searches)
	assert.Zero(t, store.Calls(target.StepSearch))
}

func TestRunner_SnapshotAfterRun(t *testing.T) {
	r := runner.New(memory.New(memory.Config{Name: "m"}), runner.Config{Workers: 2, Iterations: 40}, zap.NewNop())
	r.Run(context.Background(), nil)

	s := r.Snapshot()
	assert.Equal(t, "m", s.Target)
	assert.Equal(t, int64(40), s.Ops)
	assert.Zero(t, s.Inflight)
	assert.Zero(t, s.Workers)
	assert.True(t, s.Done)
	assert.Equal(t, 1.0, s.Progress())
}

func TestStatsSnapshot_Progress(t *testing.T) {
	assert.Equal(t, 0.5, runner.StatsSnapshot{Planned: 10, Ops: 5}.Progress())
	assert.Equal(t, 0.25, runner.StatsSnapshot{Duration: 4 * time.Second, Elapsed: time.Second}.Progress())
	assert.Equal(t, 1.0, runner.StatsSnapshot{Duration: time.Second, Elapsed: 2 * time.Second}.Progress())
	assert.Zero(t, runner.StatsSnapshot{}.Progress())
}

func TestRunner_TickLoop(t *testing.T) {
	r := runner.New(memory.New(memory.Config{}), runner.Config{Workers: 1, Iterations: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan runner.StatsSnapshot, 1)
	r.StartTickLoop(ctx, 5*time.Millisecond, updates)

	select {
	case s := <-updates:
		assert.Equal(t, "memory", s.Target)
	case <-time.After(time.Second):
		t.Fatal("no snapshot received")
	}
}
