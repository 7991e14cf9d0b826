// Package orchestrator runs one load driver per selected target, all
// released through a single start gate.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crudstress/internal/runner"
	"crudstress/internal/target"
)

// Factory connects a target.
type Factory func(ctx context.Context) (target.Target, error)

// Registry maps target names to factories.
type Registry map[string]Factory

type Orchestrator struct {
	reg     Registry
	cfg     runner.Config
	workers map[string]int
	opts    []runner.Option
	log     *zap.Logger
}

func New(reg Registry, cfg runner.Config, log *zap.Logger, opts ...runner.Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		reg:     reg,
		cfg:     cfg,
		workers: make(map[string]int),
		opts:    opts,
		log:     log,
	}
}

// SetWorkers overrides the worker count for one target.
func (o *Orchestrator) SetWorkers(name string, n int) {
	if n > 0 {
		o.workers[name] = n
	}
}

// Report is the combined outcome of a plan.
type Report struct {
	Results []runner.Result
	Wall    time.Duration
}

type entry struct {
	name   string
	tgt    target.Target
	runner *runner.Runner
	err    error
}

// Plan holds prepared drivers waiting on the gate.
type Plan struct {
	entries []*entry
	log     *zap.Logger
	mu      sync.Mutex
}

// Prepare connects and resets every known target concurrently, in
// selection order. Unknown and repeated names are skipped. A factory
// failure is kept and reported as a failed result.
func (o *Orchestrator) Prepare(ctx context.Context, names []string) *Plan {
	p := &Plan{log: o.log}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := o.reg[name]; !ok {
			o.log.Warn("unknown target ignored", zap.String("target", name))
			continue
		}
		p.entries = append(p.entries, &entry{name: name})
	}

	var g errgroup.Group
	for _, e := range p.entries {
		g.Go(func() error {
			o.prepare(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
	return p
}

func (o *Orchestrator) prepare(ctx context.Context, e *entry) {
	tgt, err := o.reg[e.name](ctx)
	if err != nil {
		e.err = fmt.Errorf("connect %s: %w", e.name, err)
		o.log.Error("target unavailable", zap.String("target", e.name), zap.Error(err))
		return
	}
	cfg := o.cfg
	if n, ok := o.workers[e.name]; ok {
		cfg.Workers = n
	}
	e.tgt = tgt
	e.runner = runner.New(tgt, cfg, o.log.Named(e.name), o.opts...)
	// reset failures are logged by the runner and do not block the run
	_ = e.runner.Prepare(ctx)
}

// Names lists the planned targets in order.
func (p *Plan) Names() []string {
	out := make([]string, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.name
	}
	return out
}

// Runners returns the drivers that connected, for live progress views.
func (p *Plan) Runners() []*runner.Runner {
	var out []*runner.Runner
	for _, e := range p.entries {
		if e.runner != nil {
			out = append(out, e.runner)
		}
	}
	return out
}

// Start releases all drivers together and blocks until every one is done.
// Targets are closed afterwards.
func (p *Plan) Start(ctx context.Context) Report {
	results := make([]runner.Result, len(p.entries))
	gate := make(chan struct{})

	var g errgroup.Group
	for i, e := range p.entries {
		if e.runner == nil {
			results[i] = runner.Result{Target: e.name, Err: e.err}
			continue
		}
		g.Go(func() error {
			results[i] = e.runner.Run(ctx, gate)
			return nil
		})
	}

	start := time.Now()
	close(gate)
	_ = g.Wait()
	wall := time.Since(start)

	p.Close()
	return Report{Results: results, Wall: wall}
}

// Close releases every connected target. It is safe to call more than once.
func (p *Plan) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.tgt == nil {
			continue
		}
		if err := e.tgt.Close(); err != nil {
			p.log.Warn("close target", zap.String("target", e.name), zap.Error(err))
		}
		e.tgt = nil
	}
}

// Run prepares and starts in one call.
func (o *Orchestrator) Run(ctx context.Context, names []string) Report {
	return o.Prepare(ctx, names).Start(ctx)
}
