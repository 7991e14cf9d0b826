package target

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the explicit result of one CRUD cycle.
type Outcome struct {
	Seq   int64
	OK    bool
	Step  Step // failing step, empty on success
	Err   error
	Steps [len(Steps)]time.Duration
	Total time.Duration
}

// RunCycle performs create, read, update and delete of rec against s and
// returns the outcome. It stops at the first failing step. Panics raised by
// driver code are converted into a failed outcome.
func RunCycle(ctx context.Context, s Session, rec Record) (out Outcome) {
	out.Seq = rec.Seq
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.OK = false
			if out.Step == "" {
				out.Step = StepCreate
			}
			out.Err = &StepError{Step: out.Step, Err: fmt.Errorf("panic: %v", r)}
		}
		out.Total = time.Since(start)
	}()

	for i, step := range Steps {
		out.Step = step
		t0 := time.Now()
		var err error
		switch step {
		case StepCreate:
			err = s.Create(ctx, rec)
		case StepRead:
			err = s.Read(ctx, rec.Key)
		case StepUpdate:
			err = s.Update(ctx, rec.Key, time.Now().UTC())
		case StepDelete:
			err = s.Delete(ctx, rec.Key)
		}
		out.Steps[i] = time.Since(t0)
		if err != nil {
			out.Err = &StepError{Step: step, Err: err}
			return out
		}
	}

	out.Step = ""
	out.OK = true
	return out
}
