// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sync2 collects the cooperative-suspension primitives the §5
// concurrency model relies on: a one-shot gate (Fence), a periodic waker
// (Cycle), and a bounded-concurrency window (Limiter). Every blocking call
// here takes a context so cancellation is observable at the suspension
// point, matching the spec's "no forced preemption, cooperative tasks poll
// at every loop iteration" rule.
package sync2

import (
	"context"
	"sync"
)

// Fence is a one-shot gate: goroutines calling Wait block until Release is
// called once, after which every past and future Wait returns immediately.
type Fence struct {
	initOnce    sync.Once
	releaseOnce sync.Once
	released    chan struct{}
}

// Wait blocks until Release is called or ctx is done, returning false in the
// latter case.
func (fence *Fence) Wait(ctx context.Context) bool {
	fence.init()
	select {
	case <-fence.released:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release opens the fence. Safe to call more than once.
func (fence *Fence) Release() {
	fence.init()
	fence.releaseOnce.Do(func() {
		close(fence.released)
	})
}

func (fence *Fence) init() {
	fence.initOnce.Do(func() {
		fence.released = make(chan struct{})
	})
}
