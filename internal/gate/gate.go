// Package gate bounds how many backend-bound operations run at once.
// The generation backends are single-instance model servers; admission
// control happens here, once per pipeline invocation, rather than per
// individual backend call.
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const DefaultCapacity = 4

type Gate struct {
	sem *semaphore.Weighted
}

func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{sem: semaphore.NewWeighted(int64(capacity))}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *Gate) Release() {
	g.sem.Release(1)
}
