// Package runner drives a fixed pool of workers through CRUD cycles against
// one target.
package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"crudstress/internal/payload"
	"crudstress/internal/stats"
	"crudstress/internal/target"
)

const (
	countTimeout = 30 * time.Second
	closeTimeout = 5 * time.Second
	maxErrorKey  = 100
)

type Option func(*Runner)

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

type Runner struct {
	cfg      Config
	tgt      target.Target
	log      *zap.Logger
	Stats    *stats.Stats
	limiter  *rate.Limiter
	observer Observer

	seq     atomic.Int64
	started atomic.Int64 // unix nanos, 0 before the gate opens
	done    atomic.Bool
	failed  atomic.Int64

	tallies []tally
}

func New(tgt target.Target, cfg Config, log *zap.Logger, opts ...Option) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SearchKeyword == "" {
		cfg.SearchKeyword = payload.DefaultKeyword
	}
	r := &Runner{
		cfg:   cfg,
		tgt:   tgt,
		log:   log.With(zap.String("target", tgt.Name())),
		Stats: stats.New(),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) Name() string { return r.tgt.Name() }

// Prepare clears the target when ClearBefore is set. A failed reset is
// logged and returned, but the run can still proceed.
func (r *Runner) Prepare(ctx context.Context) error {
	if !r.cfg.ClearBefore {
		return nil
	}
	if err := r.tgt.Reset(ctx); err != nil {
		r.log.Warn("reset failed", zap.Error(err))
		return err
	}
	r.log.Debug("target cleared")
	return nil
}

// Run blocks on gate (nil starts immediately), then drives the workers until
// the stop condition and returns the tallied result. In-flight cycles are
// never cancelled by the deadline; cancelling ctx stops new claims.
//
// A Runner may be run again once Run returns; every run starts from a zero
// counter and fresh stats. Calls must not overlap.
func (r *Runner) Run(ctx context.Context, gate <-chan struct{}) Result {
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Result{Target: r.tgt.Name(), Workers: r.cfg.Workers, Err: ctx.Err()}
		}
	}

	r.reset()
	start := time.Now()
	r.started.Store(start.UnixNano())
	tag := target.RunTag(start)

	stop := ctx
	if r.cfg.Iterations <= 0 && r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		stop, cancel = context.WithDeadline(ctx, start.Add(r.cfg.Duration))
		defer cancel()
	}

	r.log.Info("run started",
		zap.Int("workers", r.cfg.Workers),
		zap.Duration("duration", r.cfg.Duration),
		zap.Int64("iterations", r.cfg.Iterations),
		zap.Int("search_every", r.cfg.SearchEvery))

	r.tallies = make([]tally, r.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		w := &worker{
			id:    i,
			r:     r,
			tag:   tag,
			gen:   payload.New(r.cfg.PayloadWords, start.UnixNano()+int64(i)),
			tally: &r.tallies[i],
			log:   r.log.With(zap.Int("worker", i)),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(stop)
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	r.done.Store(true)

	res := r.result(start, elapsed)
	res.Remaining = r.remaining(ctx)

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("ops", res.Ops),
		zap.Int64("errors", res.Errors),
		zap.Int("failed_workers", res.FailedWorkers),
	}
	if res.Searches > 0 {
		fields = append(fields, zap.Int64("searches", res.Searches), zap.Int64("search_errors", res.SearchErrors))
	}
	if res.Remaining != nil {
		fields = append(fields, zap.Int64("remaining", *res.Remaining))
	}
	r.log.Info("run finished", fields...)
	return res
}

// reset clears what a previous Run left behind.
func (r *Runner) reset() {
	r.seq.Store(0)
	r.failed.Store(0)
	r.done.Store(false)
	r.Stats.Reset()
}

func (r *Runner) result(start time.Time, elapsed time.Duration) Result {
	res := Result{
		Target:        r.tgt.Name(),
		StartedAt:     start,
		Duration:      elapsed,
		Workers:       r.cfg.Workers,
		FailedWorkers: int(r.failed.Load()),
		Latency:       r.Stats.Cycle.Summary(),
		Steps:         r.Stats.StepSummaries(),
		SearchLatency: r.Stats.Search.Summary(),
	}
	for _, t := range r.tallies {
		res.Ops += t.ops
		res.Errors += t.errors
		res.Searches += t.searches
		res.SearchErrors += t.searchErrors
		res.ErrorSamples = merge(res.ErrorSamples, t.samples)
		res.SearchErrorSamples = merge(res.SearchErrorSamples, t.searchSamples)
	}
	return res
}

func merge(dst, src map[string]int64) map[string]int64 {
	for k, n := range src {
		if dst == nil {
			dst = make(map[string]int64)
		}
		dst[k] += n
	}
	return dst
}

func (r *Runner) remaining(ctx context.Context) *int64 {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), countTimeout)
	defer cancel()
	n, err := r.tgt.Count(ctx)
	if err != nil {
		r.log.Warn("count failed, remaining unknown", zap.Error(err))
		return nil
	}
	return &n
}

// claim issues the next sequence number. The counter may run past
// Iterations; those claims are refused.
func (r *Runner) claim() (int64, bool) {
	n := r.seq.Add(1) - 1
	if r.cfg.Iterations > 0 && n >= r.cfg.Iterations {
		return 0, false
	}
	return n, true
}

// StartedAt reports when the gate opened; zero before that.
func (r *Runner) StartedAt() time.Time {
	ns := r.started.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Snapshot reads the live counters.
func (r *Runner) Snapshot() StatsSnapshot {
	s := StatsSnapshot{
		Target:   r.tgt.Name(),
		Ops:      r.Stats.Ops.Load(),
		Errors:   r.Stats.Errors.Load(),
		Inflight: r.Stats.Inflight.Load(),
		Workers:  r.Stats.Workers.Load(),
		P50Ms:    float64(r.Stats.Cycle.Quantile(50).Microseconds()) / 1000,
		P99Ms:    float64(r.Stats.Cycle.Quantile(99).Microseconds()) / 1000,
		Planned:  r.cfg.Iterations,
		Done:     r.done.Load(),
	}
	if r.cfg.Iterations <= 0 {
		s.Duration = r.cfg.Duration
	}
	if at := r.StartedAt(); !at.IsZero() {
		s.Elapsed = time.Since(at)
	}
	return s
}

// StartTickLoop pushes a snapshot to updates every interval until ctx ends.
// Sends never block; a slow reader misses ticks.
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration, updates chan<- StatsSnapshot) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case updates <- r.Snapshot():
				default:
				}
			}
		}
	}()
}

type tally struct {
	ops     int64
	errors  int64
	samples map[string]int64

	searches      int64
	searchErrors  int64
	searchSamples map[string]int64
}

func (t *tally) add(o target.Outcome) {
	t.ops++
	if o.OK {
		return
	}
	t.errors++
	t.samples = sample(t.samples, o.Err)
}

func (t *tally) addSearch(err error) {
	t.searches++
	if err == nil {
		return
	}
	t.searchErrors++
	t.searchSamples = sample(t.searchSamples, err)
}

// sample counts err under its message, truncated to maxErrorKey bytes.
func sample(m map[string]int64, err error) map[string]int64 {
	if m == nil {
		m = make(map[string]int64)
	}
	msg := err.Error()
	if len(msg) > maxErrorKey {
		msg = msg[:maxErrorKey]
	}
	m[msg]++
	return m
}

type worker struct {
	id    int
	r     *Runner
	tag   string
	gen   *payload.Generator
	sess  target.Session
	tally *tally
	log   *zap.Logger

	// searcher is sess when it supports search, else nil
	searcher target.Searcher
	cycles   int
}

func (w *worker) loop(stop context.Context) {
	r := w.r
	if r.cfg.RampUp > 0 {
		delay := time.Duration(int64(r.cfg.RampUp) * int64(w.id) / int64(r.cfg.Workers))
		if !sleep(stop, delay) {
			return
		}
	}

	opCtx := context.WithoutCancel(stop)
	for {
		if stop.Err() != nil {
			break
		}
		if w.sess == nil && !w.open(stop) {
			return
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(stop); err != nil {
				break
			}
		}
		seq, ok := r.claim()
		if !ok {
			break
		}
		w.cycle(opCtx, seq)

		w.cycles++
		if w.searcher != nil && r.cfg.SearchEvery > 0 && w.cycles%r.cfg.SearchEvery == 0 && stop.Err() == nil {
			w.search(opCtx)
		}

		if r.cfg.ThinkTime > 0 && !sleep(stop, r.cfg.ThinkTime) {
			break
		}
	}
	w.close()
}

func (w *worker) open(stop context.Context) bool {
	sess, err := w.r.tgt.Open(stop, w.id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		w.r.failed.Add(1)
		w.log.Error("worker connection failed", zap.Error(err))
		return false
	}
	w.sess = sess
	if w.r.cfg.SearchEvery > 0 {
		var ok bool
		if w.searcher, ok = sess.(target.Searcher); !ok {
			w.log.Debug("session does not support search")
		}
	}
	w.r.Stats.Workers.Add(1)
	if w.r.observer != nil {
		w.r.observer.WorkerStarted(w.r.tgt.Name())
	}
	return true
}

func (w *worker) close() {
	if w.sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := w.sess.Close(ctx); err != nil {
		w.log.Warn("session close failed", zap.Error(err))
	}
	w.r.Stats.Workers.Add(-1)
	if w.r.observer != nil {
		w.r.observer.WorkerStopped(w.r.tgt.Name())
	}
}

func (w *worker) cycle(ctx context.Context, seq int64) {
	r := w.r
	if r.cfg.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.OpTimeout)
		defer cancel()
	}

	r.Stats.Inflight.Add(1)
	item := target.WorkItem{Seq: seq, RunTag: w.tag}
	out := target.RunCycle(ctx, w.sess, w.gen.Record(item, time.Now()))
	r.Stats.Inflight.Add(-1)

	w.tally.add(out)
	r.Stats.Add(out)
	if r.observer != nil {
		r.observer.ObserveOutcome(r.tgt.Name(), out)
	}
	if !out.OK {
		w.log.Debug("cycle failed",
			zap.Int64("seq", seq),
			zap.String("step", string(out.Step)),
			zap.Error(out.Err))
	}
}

func (w *worker) search(ctx context.Context) {
	r := w.r
	if r.cfg.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.OpTimeout)
		defer cancel()
	}

	start := time.Now()
	_, err := w.searcher.Search(ctx, r.cfg.SearchKeyword)
	d := time.Since(start)

	w.tally.addSearch(err)
	r.Stats.AddSearch(d, err)
	if r.observer != nil {
		r.observer.ObserveSearch(r.tgt.Name(), d, err)
	}
	if err != nil {
		w.log.Debug("search failed", zap.String("keyword", r.cfg.SearchKeyword), zap.Error(err))
	}
}

// sleep waits d or until ctx is done. It reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
