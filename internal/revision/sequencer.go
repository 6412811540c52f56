// Package revision mints revision identifiers and timestamps.
package revision

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roach88/timeline/internal/ir"
)

// Clock supplies wall-clock time. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Log persists a revision entry and returns its identifier. The store's
// REVINFO table implements Log; Counter is an in-process implementation.
type Log interface {
	AppendRevision(ctx context.Context, timestamp time.Time) (int64, error)
}

// Sequencer assigns the revision of one flushing transaction.
//
// It is process-wide and safe for concurrent use. Identifiers obtained from
// the Log must be non-decreasing; gaps are allowed.
type Sequencer struct {
	clock Clock
	last  atomic.Int64
}

// NewSequencer creates a sequencer. A nil clock uses SystemClock.
func NewSequencer(clock Clock) *Sequencer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Sequencer{clock: clock}
}

// Next captures the flush timestamp once, records it in log and returns the
// revision every row of the flush is stamped with. Timestamps are truncated
// to millisecond precision.
func (s *Sequencer) Next(ctx context.Context, log Log) (ir.Revision, error) {
	ts := s.clock.Now().UTC().Truncate(time.Millisecond)
	id, err := log.AppendRevision(ctx, ts)
	if err != nil {
		return ir.Revision{}, fmt.Errorf("append revision: %w", err)
	}
	for {
		last := s.last.Load()
		if id < last {
			return ir.Revision{}, ir.NewConsistencyError("", nil,
				"revision %d issued after revision %d", id, last)
		}
		if s.last.CompareAndSwap(last, id) {
			break
		}
	}
	return ir.Revision{ID: id, Timestamp: ts}, nil
}

// Last returns the highest revision issued by this sequencer.
func (s *Sequencer) Last() int64 {
	return s.last.Load()
}

// Counter is a Log backed by an in-process atomic counter, for hosts that
// do not keep a revision table.
type Counter struct {
	seq atomic.Int64
}

// NewCounter creates a counter starting at 0.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterAt creates a counter resuming after start.
func NewCounterAt(start int64) *Counter {
	c := &Counter{}
	c.seq.Store(start)
	return c
}

// AppendRevision returns the next identifier. The timestamp is not kept.
func (c *Counter) AppendRevision(ctx context.Context, _ time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.seq.Add(1), nil
}

// Current returns the last identifier issued without incrementing.
func (c *Counter) Current() int64 {
	return c.seq.Load()
}
