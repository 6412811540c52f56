package revision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/ir"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type scriptedLog struct {
	ids []int64
	err error
	ts  []time.Time
}

func (l *scriptedLog) AppendRevision(_ context.Context, ts time.Time) (int64, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.ts = append(l.ts, ts)
	id := l.ids[0]
	l.ids = l.ids[1:]
	return id, nil
}

func TestSequencerNext(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	s := NewSequencer(fixedClock{now})
	log := &scriptedLog{ids: []int64{1, 4}}

	rev, err := s.Next(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev.ID)
	assert.Equal(t, now.Truncate(time.Millisecond), rev.Timestamp)
	assert.Equal(t, []time.Time{rev.Timestamp}, log.ts, "log receives the shared timestamp")

	rev, err = s.Next(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rev.ID, "gaps are allowed")
	assert.Equal(t, int64(4), s.Last())
}

func TestSequencerRejectsRegression(t *testing.T) {
	s := NewSequencer(fixedClock{time.Unix(0, 0)})
	log := &scriptedLog{ids: []int64{5, 3}}

	_, err := s.Next(context.Background(), log)
	require.NoError(t, err)

	_, err = s.Next(context.Background(), log)
	require.Error(t, err)
	assert.True(t, ir.IsConsistencyError(err))
}

func TestSequencerLogError(t *testing.T) {
	s := NewSequencer(nil)
	boom := errors.New("disk full")
	_, err := s.Next(context.Background(), &scriptedLog{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestCounter(t *testing.T) {
	c := NewCounterAt(10)
	assert.Equal(t, int64(10), c.Current())

	id, err := c.AppendRevision(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.AppendRevision(ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSequencerConcurrent(t *testing.T) {
	s := NewSequencer(nil)
	c := NewCounter()
	const goroutines = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rev, err := s.Next(context.Background(), c)
			if err != nil {
				// A later id may be published before an earlier one; that
				// is reported, never silently accepted.
				assert.True(t, ir.IsConsistencyError(err))
				return
			}
			mu.Lock()
			seen[rev.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.NotEmpty(t, seen)
	assert.LessOrEqual(t, len(seen), goroutines)
	assert.Equal(t, int64(goroutines), c.Current())
}
