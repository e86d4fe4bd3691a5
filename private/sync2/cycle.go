// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"sync"
	"time"
)

// Cycle runs a function on a period, with an explicit TriggerWait to force an
// immediate run (used by the DCL renewal loop's "wake every ¾W" and the
// data-log trim loop).
type Cycle struct {
	interval time.Duration
	trigger  chan struct{}

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// NewCycle returns a Cycle that runs every interval until Stop is called.
func NewCycle(interval time.Duration) *Cycle {
	return &Cycle{
		interval: interval,
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// SetInterval changes the period for subsequent waits.
func (cycle *Cycle) SetInterval(interval time.Duration) {
	cycle.mu.Lock()
	defer cycle.mu.Unlock()
	cycle.interval = interval
}

// Trigger requests an immediate wakeup, without blocking if one is already
// pending.
func (cycle *Cycle) Trigger() {
	select {
	case cycle.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the cycle; Run returns on its next wakeup.
func (cycle *Cycle) Stop() {
	cycle.mu.Lock()
	defer cycle.mu.Unlock()
	if !cycle.stopped {
		cycle.stopped = true
		close(cycle.stopCh)
	}
}

// Run calls fn immediately, then again every interval or whenever Trigger is
// called, until ctx is done or Stop is called.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		if err := fn(ctx); err != nil {
			return err
		}
		cycle.mu.Lock()
		interval := cycle.interval
		cycle.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-cycle.stopCh:
			timer.Stop()
			return nil
		case <-cycle.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}
