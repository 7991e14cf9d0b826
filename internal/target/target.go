// Package target defines the store-agnostic CRUD capability set driven by the
// load runner, plus the one-cycle fold every adapter shares.
package target

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Step names one phase of a CRUD cycle.
type Step string

const (
	StepCreate Step = "create"
	StepRead   Step = "read"
	StepUpdate Step = "update"
	StepDelete Step = "delete"

	// StepSearch is the full-text count run between cycles. It is not part
	// of Steps.
	StepSearch Step = "search_fts"
)

// Steps lists the cycle phases in execution order.
var Steps = [...]Step{StepCreate, StepRead, StepUpdate, StepDelete}

// Index returns the position of s in Steps, or -1.
func (s Step) Index() int {
	for i, st := range Steps {
		if st == s {
			return i
		}
	}
	return -1
}

// ErrNotFound is returned when a keyed read, update or delete matches nothing.
var ErrNotFound = errors.New("record not found")

// StepError ties a failure to the cycle phase that produced it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// WorkItem is one claimed sequence number within a run.
type WorkItem struct {
	Seq    int64
	RunTag string
}

// Key derives the record key. It is unique per sequence number within a run
// and per run tag across runs.
func (w WorkItem) Key() string {
	return w.RunTag + "-" + strconv.FormatInt(w.Seq, 10)
}

// RunTag renders a run start time as a compact key prefix.
func RunTag(start time.Time) string {
	return strconv.FormatInt(start.UnixNano(), 36)
}

// Record is the synthetic payload written by a cycle.
type Record struct {
	Key       string    `json:"key" bson:"_id"`
	Seq       int64     `json:"seq" bson:"seq"`
	Name      string    `json:"name" bson:"name"`
	Text      string    `json:"text,omitempty" bson:"text,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Session is a worker-owned client handle. Implementations need not be safe
// for concurrent use; the runner never shares a session between workers.
type Session interface {
	Create(ctx context.Context, rec Record) error
	Read(ctx context.Context, key string) error
	// Update merges updated=true and updated_at into the record.
	Update(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

// Searcher is implemented by sessions that can count records whose text
// matches a keyword.
type Searcher interface {
	Search(ctx context.Context, keyword string) (int64, error)
}

// Target is one store under test.
type Target interface {
	Name() string
	// Open returns a new session dedicated to the given worker.
	Open(ctx context.Context, worker int) (Session, error)
	// Reset clears the working storage before a run.
	Reset(ctx context.Context) error
	// Count reports how many records remain in the working storage.
	Count(ctx context.Context) (int64, error)
	Close() error
}
