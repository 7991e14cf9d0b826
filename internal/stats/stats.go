// Package stats holds the live counters and latency histograms of one run.
package stats

import (
	"sync/atomic"
	"time"

	"crudstress/internal/target"
)

// Stats holds real-time aggregated metrics for one target
type Stats struct {
	Ops      atomic.Int64
	Errors   atomic.Int64
	Inflight atomic.Int64
	Workers  atomic.Int64

	// Full cycle latency, successful cycles only
	Cycle *SafeHistogram
	// Per-step latency, indexed like target.Steps
	Steps [len(target.Steps)]*SafeHistogram

	// Full-text searches run between cycles; not counted in Ops or Errors
	Searches     atomic.Int64
	SearchErrors atomic.Int64
	Search       *SafeHistogram
}

func New() *Stats {
	s := &Stats{Cycle: NewSafeHistogram(), Search: NewSafeHistogram()}
	for i := range s.Steps {
		s.Steps[i] = NewSafeHistogram()
	}
	return s
}

// Add records one finished cycle.
func (s *Stats) Add(o target.Outcome) {
	s.Ops.Add(1)
	if !o.OK {
		s.Errors.Add(1)
	} else {
		s.Cycle.Record(o.Total)
	}
	// steps after a failure never ran
	n := len(o.Steps)
	if !o.OK {
		if i := o.Step.Index(); i >= 0 {
			n = i + 1
		}
	}
	for i := 0; i < n; i++ {
		s.Steps[i].Record(o.Steps[i])
	}
}

// AddSearch records one search. Failed searches only count as errors.
func (s *Stats) AddSearch(d time.Duration, err error) {
	s.Searches.Add(1)
	if err != nil {
		s.SearchErrors.Add(1)
		return
	}
	s.Search.Record(d)
}

// Reset zeroes every counter and histogram in place, so readers holding s
// keep seeing the live values.
func (s *Stats) Reset() {
	for _, c := range []*atomic.Int64{&s.Ops, &s.Errors, &s.Inflight, &s.Workers, &s.Searches, &s.SearchErrors} {
		c.Store(0)
	}
	s.Cycle.Reset()
	s.Search.Reset()
	for _, h := range s.Steps {
		h.Reset()
	}
}

func (s *Stats) ErrorRate() float64 {
	ops := s.Ops.Load()
	if ops == 0 {
		return 0
	}
	return float64(s.Errors.Load()) / float64(ops) * 100
}

// StepSummaries snapshots every step histogram keyed by step name.
func (s *Stats) StepSummaries() map[target.Step]Summary {
	out := make(map[target.Step]Summary, len(s.Steps))
	for i, h := range s.Steps {
		if h.TotalCount() > 0 {
			out[target.Steps[i]] = h.Summary()
		}
	}
	return out
}
