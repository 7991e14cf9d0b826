// Package cli prints a single-line progress meter for headless runs.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"crudstress/internal/config"
	"crudstress/internal/runner"
)

// Source is anything that can be sampled for live stats.
type Source interface {
	Snapshot() runner.StatsSnapshot
}

// PrintHeader describes the run about to start.
func PrintHeader(w io.Writer, cfg config.Config, targets []string) {
	fmt.Fprintf(w, "\n🚀 STARTING CRUD STRESS TEST\n")
	fmt.Fprintf(w, "======================================================================\n")
	fmt.Fprintf(w, "Targets    : %s\n", strings.Join(targets, ", "))
	fmt.Fprintf(w, "Workers    : %s\n", workers(cfg, targets))
	if cfg.Run.Iterations > 0 {
		fmt.Fprintf(w, "Iterations : %d per target\n", cfg.Run.Iterations)
	} else {
		fmt.Fprintf(w, "Duration   : %s\n", cfg.Run.Duration)
	}
	if cfg.Run.RampUp > 0 {
		fmt.Fprintf(w, "Ramp Up    : %s\n", cfg.Run.RampUp)
	}
	if cfg.Run.RateLimit > 0 {
		fmt.Fprintf(w, "Rate Limit : %.0f cycles/s\n", cfg.Run.RateLimit)
	}
	if cfg.Run.SearchEvery > 0 {
		fmt.Fprintf(w, "Search     : %q every %d cycles per worker\n", cfg.Run.SearchKeyword, cfg.Run.SearchEvery)
	}
	fmt.Fprintf(w, "Clear      : %t\n", cfg.Run.ClearBefore)
	fmt.Fprintf(w, "======================================================================\n\n")
}

// workers renders the effective pool size, per target once any differs.
func workers(cfg config.Config, targets []string) string {
	uniform := true
	parts := make([]string, len(targets))
	for i, t := range targets {
		n := cfg.WorkersFor(t)
		if n != cfg.Run.Workers {
			uniform = false
		}
		parts[i] = fmt.Sprintf("%s %d", t, n)
	}
	if uniform {
		return fmt.Sprintf("%d per target", cfg.Run.Workers)
	}
	return strings.Join(parts, ", ")
}

// Watch redraws the progress line every interval until ctx is done or every
// source reports Done.
func Watch(ctx context.Context, w io.Writer, sources []Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return
		case <-ticker.C:
			line, done := Line(sources)
			fmt.Fprintf(w, "\r%s", line)
			if done {
				fmt.Fprintln(w)
				return
			}
		}
	}
}

// Line renders one progress line and reports whether all sources are done.
func Line(sources []Source) (string, bool) {
	var (
		ops, errs, inflight int64
		pct                 = 1.0
		elapsed             time.Duration
		done                = true
	)
	for _, s := range sources {
		snap := s.Snapshot()
		ops += snap.Ops
		errs += snap.Errors
		inflight += snap.Inflight
		if p := snap.Progress(); p < pct {
			pct = p
		}
		if snap.Elapsed > elapsed {
			elapsed = snap.Elapsed
		}
		done = done && snap.Done
	}
	if len(sources) == 0 {
		pct = 0
	}

	rate := 0.0
	if elapsed > 0 {
		rate = float64(ops) / elapsed.Seconds()
	}
	status := fmt.Sprintf("Inf: %3d", inflight)
	if !done && pct >= 1 && inflight > 0 {
		status = fmt.Sprintf("Draining: %d cycles...", inflight)
	}
	return fmt.Sprintf("%s %3.0f%% | %s | %s | OPS: %.1f | Total: %d | Err: %d",
		progressBar(pct, 20), pct*100,
		elapsed.Round(time.Second),
		status, rate, ops, errs,
	), done
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}
