package pipeline

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds concurrent downloads across every fetcher in the process.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter allows at most limit concurrent runs. Values below 1 mean 1.
func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(limit))}
}

// Run waits for a slot, runs fn and releases the slot. A nil Limiter runs
// fn directly.
func (l *Limiter) Run(ctx context.Context, fn func() error) error {
	if l == nil || l.sem == nil {
		return fn()
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}
