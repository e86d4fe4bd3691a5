// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package sync2

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of concurrently in-flight goroutines spawned via
// Go, the shape §4.4's "bounded window" (20 for per-entry sync) and the LCE
// worker pool (N workers) take in this repository. The reshard copy step
// bounds its AIO flushes with its own completion window instead.
type Limiter struct {
	sem *semaphore.Weighted
	g   *errgroup.Group
}

// NewLimiter returns a Limiter allowing at most n concurrent tasks.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = 1
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(n)),
		g:   new(errgroup.Group),
	}
}

// Go runs fn in a new goroutine once a slot is free, blocking the caller
// until then unless ctx is canceled first.
func (limiter *Limiter) Go(ctx context.Context, fn func() error) bool {
	if err := limiter.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	limiter.g.Go(func() error {
		defer limiter.sem.Release(1)
		return fn()
	})
	return true
}

// Wait blocks until every spawned task has finished, returning the first
// error any of them returned.
func (limiter *Limiter) Wait() error {
	return limiter.g.Wait()
}
