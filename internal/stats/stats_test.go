package stats

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"crudstress/internal/target"
)

func TestSafeHistogram_Summary(t *testing.T) {
	h := NewSafeHistogram()
	assert.Equal(t, Summary{}, h.Summary())

	for i := 1; i <= 100; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}

	s := h.Summary()
	assert.Equal(t, int64(100), s.Count)
	assert.InDelta(t, float64(50*time.Millisecond), float64(s.P50), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(s.P99), float64(time.Millisecond))
	assert.InDelta(t, float64(100*time.Millisecond), float64(s.Max), float64(time.Millisecond))
}

func TestSafeHistogram_ClampsOutOfRange(t *testing.T) {
	h := NewSafeHistogram()
	h.Record(0)
	h.Record(time.Hour)
	assert.Equal(t, int64(2), h.TotalCount())
	assert.GreaterOrEqual(t, h.Max(), 9*time.Minute)
}

func TestStats_Add(t *testing.T) {
	s := New()
	ok := target.Outcome{OK: true, Total: 4 * time.Millisecond}
	for i := range ok.Steps {
		ok.Steps[i] = time.Millisecond
	}
	bad := target.Outcome{Step: target.StepRead, Err: errors.New("x"), Total: time.Millisecond}
	bad.Steps[0] = time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(ok)
			s.Add(bad)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), s.Ops.Load())
	assert.Equal(t, int64(10), s.Errors.Load())
	assert.InDelta(t, 50.0, s.ErrorRate(), 0.001)
	assert.Equal(t, int64(10), s.Cycle.TotalCount(), "only successful cycles feed the cycle histogram")

	steps := s.StepSummaries()
	assert.Equal(t, int64(20), steps[target.StepCreate].Count)
	assert.Equal(t, int64(10), steps[target.StepDelete].Count)
}

func TestStats_ErrorRateEmpty(t *testing.T) {
	assert.Zero(t, New().ErrorRate())
}

func TestStats_AddSearch(t *testing.T) {
	s := New()
	s.AddSearch(3*time.Millisecond, nil)
	s.AddSearch(time.Second, errors.New("no text index"))

	assert.Equal(t, int64(2), s.Searches.Load())
	assert.Equal(t, int64(1), s.SearchErrors.Load())
	assert.Equal(t, int64(1), s.Search.TotalCount(), "failed searches carry no latency")
	assert.Zero(t, s.Ops.Load())
}

func TestStats_Reset(t *testing.T) {
	s := New()
	s.Add(target.Outcome{OK: true, Total: time.Millisecond})
	s.Add(target.Outcome{Step: target.StepRead, Err: errors.New("x")})
	s.AddSearch(time.Millisecond, nil)
	cycle := s.Cycle

	s.Reset()

	assert.Zero(t, s.Ops.Load())
	assert.Zero(t, s.Errors.Load())
	assert.Zero(t, s.Searches.Load())
	assert.Zero(t, s.Cycle.TotalCount())
	assert.Zero(t, s.Search.TotalCount())
	assert.Empty(t, s.StepSummaries())
	assert.Same(t, cycle, s.Cycle)
}
