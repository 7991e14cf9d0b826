package runner

import (
	"time"

	"crudstress/internal/stats"
	"crudstress/internal/target"
)

// Config bounds one load driver.
type Config struct {
	Workers int
	// Duration stops claims at start+Duration. Ignored when Iterations > 0.
	Duration time.Duration
	// Iterations is the fixed total of cycles across all workers.
	Iterations  int64
	ClearBefore bool

	// RampUp staggers worker k by k*RampUp/Workers.
	RampUp    time.Duration
	ThinkTime time.Duration
	// RateLimit caps cycles per second across all workers. 0 is unlimited.
	RateLimit float64
	OpTimeout time.Duration

	PayloadWords int

	// SearchEvery makes each worker run one full-text search after every
	// SearchEvery of its cycles. 0 disables searching.
	SearchEvery   int
	SearchKeyword string
}

// Result is the immutable outcome of one run.
type Result struct {
	Target    string        `json:"target"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Ops       int64         `json:"ops"`
	Errors    int64         `json:"errors"`
	// Remaining is nil when the post-run count failed.
	Remaining     *int64 `json:"remaining"`
	Workers       int    `json:"workers"`
	FailedWorkers int    `json:"failed_workers"`

	Latency      stats.Summary                 `json:"latency"`
	Steps        map[target.Step]stats.Summary `json:"steps,omitempty"`
	ErrorSamples map[string]int64              `json:"error_samples,omitempty"`

	// Searches are tallied apart from Ops and Errors.
	Searches           int64            `json:"searches"`
	SearchErrors       int64            `json:"search_errors"`
	SearchLatency      stats.Summary    `json:"search_latency"`
	SearchErrorSamples map[string]int64 `json:"search_error_samples,omitempty"`

	// Err is set when the target could not run at all.
	Err error `json:"-"`
}

func (r Result) Failed() bool {
	return r.Err != nil || (r.Workers > 0 && r.FailedWorkers == r.Workers)
}

// SearchErrorRate is the percentage of failed searches.
func (r Result) SearchErrorRate() float64 {
	if r.Searches == 0 {
		return 0
	}
	return float64(r.SearchErrors) / float64(r.Searches) * 100
}

func (r Result) ErrorRate() float64 {
	if r.Ops == 0 {
		return 0
	}
	return float64(r.Errors) / float64(r.Ops) * 100
}

// StatsSnapshot is the live view pushed to progress displays
type StatsSnapshot struct {
	Target   string
	Ops      int64
	Errors   int64
	Inflight int64
	Workers  int64
	Elapsed  time.Duration

	// Pre-calculated percentiles for the UI (cheap copy)
	P50Ms float64
	P99Ms float64

	// Planned is the fixed iteration total, 0 for duration runs
	Planned  int64
	Duration time.Duration
	Done     bool
}

// Progress returns completion in [0,1].
func (s StatsSnapshot) Progress() float64 {
	var p float64
	switch {
	case s.Done:
		return 1
	case s.Planned > 0:
		p = float64(s.Ops) / float64(s.Planned)
	case s.Duration > 0:
		p = float64(s.Elapsed) / float64(s.Duration)
	}
	if p > 1 {
		p = 1
	}
	return p
}

// Observer receives every cycle outcome and search as it completes.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveOutcome(target string, o target.Outcome)
	ObserveSearch(target string, d time.Duration, err error)
	WorkerStarted(target string)
	WorkerStopped(target string)
}
