package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crudstress/internal/target"
)

func rec(key string, seq int64) target.Record {
	return target.Record{Key: key, Seq: seq, CreatedAt: time.Now()}
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	assert.Equal(t, "memory", s.Name())

	sess, err := s.Open(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, sess.Create(ctx, rec("a", 1)))
	assert.Error(t, sess.Create(ctx, rec("a", 1)), "duplicate keys are rejected")
	require.NoError(t, sess.Read(ctx, "a"))
	require.NoError(t, sess.Update(ctx, "a", time.Now()))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, sess.Delete(ctx, "a"))
	assert.ErrorIs(t, sess.Read(ctx, "a"), target.ErrNotFound)
	assert.ErrorIs(t, sess.Update(ctx, "a", time.Now()), target.ErrNotFound)
	assert.ErrorIs(t, sess.Delete(ctx, "a"), target.ErrNotFound)

	require.NoError(t, sess.Close(ctx))
	require.NoError(t, sess.Close(ctx))
	opened, closed := s.Sessions()
	assert.Equal(t, int64(1), opened)
	assert.Equal(t, int64(1), closed)
}

func TestStore_ResetClearsRecords(t *testing.T) {
	ctx := context.Background()
	s := New(Config{Name: "mem-a"})
	sess, _ := s.Open(ctx, 0)
	require.NoError(t, sess.Create(ctx, rec("k1", 1)))
	require.NoError(t, sess.Create(ctx, rec("k2", 2)))
	assert.Equal(t, []int64{1, 2}, s.CreatedSeqs())

	require.NoError(t, s.Reset(ctx))

	n, _ := s.Count(ctx)
	assert.Zero(t, n)
	assert.Empty(t, s.CreatedSeqs())
	assert.Equal(t, int64(1), s.Resets())
}

func TestFailNth(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("transient")
	s := New(Config{Fault: FailNth(target.StepCreate, 3, boom)})
	sess, _ := s.Open(ctx, 0)

	assert.NoError(t, sess.Create(ctx, rec("1", 1)))
	assert.NoError(t, sess.Create(ctx, rec("2", 2)))
	assert.ErrorIs(t, sess.Create(ctx, rec("3", 3)), boom)
	assert.NoError(t, sess.Create(ctx, rec("4", 4)))
	assert.Equal(t, int64(4), s.Calls(target.StepCreate))
}

func TestOpenFault(t *testing.T) {
	s := New(Config{OpenFault: func(worker int) error {
		if worker == 1 {
			return errors.New("refused")
		}
		return nil
	}})

	_, err := s.Open(context.Background(), 0)
	assert.NoError(t, err)
	_, err = s.Open(context.Background(), 1)
	assert.ErrorContains(t, err, "refused")
}

func TestLatencyHonoursContext(t *testing.T) {
	s := New(Config{Latency: time.Second})
	sess, _ := s.Open(context.Background(), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sess.Create(ctx, rec("slow", 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSearch_CountsWholeWords(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	sess, _ := s.Open(ctx, 0)

	docs := map[string]string{
		"a": "lorem mongodb ipsum",
		"b": "MongoDB dolor",
		"c": "mongodbx sit amet",
		"d": "",
	}
	for k, text := range docs {
		require.NoError(t, sess.Create(ctx, target.Record{Key: k, Text: text}))
	}

	n, err := sess.(target.Searcher).Search(ctx, "mongodb")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(1), s.Calls(target.StepSearch))
	assert.Equal(t, int64(4), s.Calls(target.StepCreate), "searches are counted apart from cycle steps")
}

func TestSearch_Fault(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("search unavailable")
	s := New(Config{Fault: FailNth(target.StepSearch, 1, boom)})
	sess, _ := s.Open(ctx, 0)

	_, err := sess.(target.Searcher).Search(ctx, "report")
	assert.ErrorIs(t, err, boom)
	_, err = sess.(target.Searcher).Search(ctx, "report")
	assert.NoError(t, err)
}
