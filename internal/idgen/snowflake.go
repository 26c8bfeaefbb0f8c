// Package idgen issues 64-bit reservation identifiers laid out as
// [sign:1][ms since epoch:41][worker:10][sequence:12].
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	workerBits    = 10
	sequenceBits  = 12
	timestampBits = 41

	MaxWorkerID  = 1<<workerBits - 1
	maxSequence  = 1<<sequenceBits - 1
	maxTimestamp = 1<<timestampBits - 1

	workerShift    = sequenceBits
	timestampShift = sequenceBits + workerBits
)

// Epoch is 2024-01-01T00:00:00Z in Unix milliseconds.
const Epoch int64 = 1704067200000

// DefaultDriftTolerance is how far the clock may step back before NextID fails.
const DefaultDriftTolerance = 5 * time.Millisecond

var (
	ErrInvalidWorkerID     = fmt.Errorf("worker id must be within 0..%d", MaxWorkerID)
	ErrClockMovedBackwards = errors.New("clock moved backwards")
	ErrTimestampOverflow   = errors.New("timestamp exceeds 41 bits")
)

type Generator struct {
	mu       sync.Mutex
	workerID int64
	lastMs   int64
	sequence int64

	now       func() time.Time
	tolerance time.Duration
	pause     func()
}

type Option func(*Generator)

// WithTimeSource replaces time.Now, mostly for tests.
func WithTimeSource(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithDriftTolerance sets how much clock regression is waited out instead of rejected.
func WithDriftTolerance(d time.Duration) Option {
	return func(g *Generator) {
		if d >= 0 {
			g.tolerance = d
		}
	}
}

func New(workerID int64, opts ...Option) (*Generator, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	g := &Generator{
		workerID:  workerID,
		lastMs:    -1,
		now:       time.Now,
		tolerance: DefaultDriftTolerance,
		pause:     func() { time.Sleep(50 * time.Microsecond) },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) WorkerID() int64 {
	return g.workerID
}

// NextID returns the next identifier. It spins into the next millisecond once
// the 4096 ids of the current one are used, and fails when the clock regressed
// by more than the drift tolerance.
func (g *Generator) NextID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.millis()
	if ts < g.lastMs {
		back := time.Duration(g.lastMs-ts) * time.Millisecond
		if back > g.tolerance {
			return 0, fmt.Errorf("%w by %s", ErrClockMovedBackwards, back)
		}
		ts = g.waitFor(g.lastMs)
	}

	if ts == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			ts = g.waitFor(g.lastMs + 1)
		}
	} else {
		g.sequence = 0
	}

	elapsed := ts - Epoch
	if elapsed < 0 || elapsed > maxTimestamp {
		return 0, ErrTimestampOverflow
	}
	g.lastMs = ts

	return uint64(elapsed)<<timestampShift | uint64(g.workerID)<<workerShift | uint64(g.sequence), nil
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli()
}

func (g *Generator) waitFor(target int64) int64 {
	ts := g.millis()
	for ts < target {
		g.pause()
		ts = g.millis()
	}
	return ts
}

// Parts is an id split back into its fields.
type Parts struct {
	Time     time.Time
	WorkerID int64
	Sequence int64
}

func Decompose(id uint64) Parts {
	return Parts{
		Time:     time.UnixMilli(int64(id>>timestampShift) + Epoch),
		WorkerID: int64(id>>workerShift) & MaxWorkerID,
		Sequence: int64(id) & maxSequence,
	}
}
