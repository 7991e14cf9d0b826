// Package memory is an in-process target. It backs dry runs of the tool and
// lets tests inject latency and faults without a real store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"crudstress/internal/target"
)

// Fault decides whether the call-th invocation of step fails. call is
// 1-based and counted per step across all sessions of the store.
type Fault func(step target.Step, call int64) error

// FailNth fails exactly the n-th call of step with err.
func FailNth(step target.Step, n int64, err error) Fault {
	return func(s target.Step, call int64) error {
		if s == step && call == n {
			return err
		}
		return nil
	}
}

// FailRate fails each call with probability p.
func FailRate(p float64, err error) Fault {
	return func(_ target.Step, _ int64) error {
		if rand.Float64() < p {
			return err
		}
		return nil
	}
}

// Config shapes the simulated store.
type Config struct {
	Name    string
	Latency time.Duration // base latency per step
	Jitter  time.Duration // extra uniform [0, Jitter) per step
	Fault   Fault
	// OpenFault fails opening a session for the given worker.
	OpenFault func(worker int) error
}

// Store is a mutex-guarded map keyed by record key.
type Store struct {
	cfg Config

	mu      sync.Mutex
	records map[string]map[string]any
	created []int64

	calls    [len(target.Steps)]atomic.Int64
	searches atomic.Int64
	opened atomic.Int64
	closed atomic.Int64
	resets atomic.Int64
}

var _ target.Target = (*Store)(nil)

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.Name == "" {
		cfg.Name = "memory"
	}
	return &Store{
		cfg:     cfg,
		records: make(map[string]map[string]any),
	}
}

func (s *Store) Name() string { return s.cfg.Name }

func (s *Store) Open(_ context.Context, worker int) (target.Session, error) {
	if s.cfg.OpenFault != nil {
		if err := s.cfg.OpenFault(worker); err != nil {
			return nil, fmt.Errorf("memory: open worker %d: %w", worker, err)
		}
	}
	s.opened.Add(1)
	return &session{store: s, worker: worker}, nil
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]map[string]any)
	s.created = s.created[:0]
	s.resets.Add(1)
	return nil
}

func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (s *Store) Close() error { return nil }

// CreatedSeqs returns the sequence numbers of every successful create since
// the last reset, sorted.
func (s *Store) CreatedSeqs() []int64 {
	s.mu.Lock()
	out := make([]int64, len(s.created))
	copy(out, s.created)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Calls returns how many times step was invoked, target.StepSearch
// included.
func (s *Store) Calls(step target.Step) int64 {
	if i := step.Index(); i >= 0 {
		return s.calls[i].Load()
	}
	if step == target.StepSearch {
		return s.searches.Load()
	}
	return 0
}

// Sessions reports opened and closed session counts.
func (s *Store) Sessions() (opened, closed int64) {
	return s.opened.Load(), s.closed.Load()
}

// Resets reports how many times Reset ran.
func (s *Store) Resets() int64 { return s.resets.Load() }

func (s *Store) enter(ctx context.Context, step target.Step) error {
	var call int64
	if i := step.Index(); i >= 0 {
		call = s.calls[i].Add(1)
	} else {
		call = s.searches.Add(1)
	}

	if d := s.delay(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if s.cfg.Fault != nil {
		return s.cfg.Fault(step, call)
	}
	return nil
}

func (s *Store) delay() time.Duration {
	d := s.cfg.Latency
	if s.cfg.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(s.cfg.Jitter)))
	}
	return d
}

type session struct {
	store  *Store
	worker int
	closed bool
}

var errDuplicate = errors.New("duplicate key")

func (c *session) Create(ctx context.Context, rec target.Record) error {
	if err := c.store.enter(ctx, target.StepCreate); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if _, ok := c.store.records[rec.Key]; ok {
		return fmt.Errorf("%w: %s", errDuplicate, rec.Key)
	}
	c.store.records[rec.Key] = map[string]any{
		"seq":        rec.Seq,
		"name":       rec.Name,
		"text":       rec.Text,
		"created_at": rec.CreatedAt,
	}
	c.store.created = append(c.store.created, rec.Seq)
	return nil
}

func (c *session) Read(ctx context.Context, key string) error {
	if err := c.store.enter(ctx, target.StepRead); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if _, ok := c.store.records[key]; !ok {
		return target.ErrNotFound
	}
	return nil
}

func (c *session) Update(ctx context.Context, key string, at time.Time) error {
	if err := c.store.enter(ctx, target.StepUpdate); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	doc, ok := c.store.records[key]
	if !ok {
		return target.ErrNotFound
	}
	doc["updated"] = true
	doc["updated_at"] = at
	return nil
}

func (c *session) Delete(ctx context.Context, key string) error {
	if err := c.store.enter(ctx, target.StepDelete); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if _, ok := c.store.records[key]; !ok {
		return target.ErrNotFound
	}
	delete(c.store.records, key)
	return nil
}

// Search counts records whose text holds keyword as a whole word.
func (c *session) Search(ctx context.Context, keyword string) (int64, error) {
	if err := c.store.enter(ctx, target.StepSearch); err != nil {
		return 0, err
	}
	keyword = strings.ToLower(keyword)
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	var n int64
	for _, doc := range c.store.records {
		text, _ := doc["text"].(string)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			if w == keyword {
				n++
				break
			}
		}
	}
	return n, nil
}

func (c *session) Close(_ context.Context) error {
	if !c.closed {
		c.closed = true
		c.store.closed.Add(1)
	}
	return nil
}
