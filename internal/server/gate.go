package server

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of scene jobs running at once.
//
// Callers over the limit block in Acquire until a running job releases its slot.
// Nothing is ever rejected and there is no timeout.
type Gate struct {
	sem     *semaphore.Weighted
	max     int
	active  atomic.Int64
	waiting atomic.Int64
}

// NewGate creates a gate admitting limit concurrent jobs. limit < 1 is treated as 1.
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(limit)), max: limit}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return err
	}
	g.active.Add(1)
	return nil
}

// Release returns a slot taken by Acquire.
func (g *Gate) Release() {
	g.active.Add(-1)
	g.sem.Release(1)
}

// Active returns the number of jobs holding a slot.
func (g *Gate) Active() int {
	return int(g.active.Load())
}

// Waiting returns the number of callers blocked in Acquire.
func (g *Gate) Waiting() int {
	return int(g.waiting.Load())
}

// Max returns the slot count.
func (g *Gate) Max() int {
	return g.max
}
