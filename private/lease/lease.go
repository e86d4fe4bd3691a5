// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package lease wraps objstore.Client's exclusive lock slot into a
// self-renewing lease, the shape every engine's locking discipline in §5
// builds on: data-sync per-shard/per-bucket leases, the LCE per-shard lease,
// and the reshard lease all refresh at a fraction of their duration and
// stop on loss rather than being forcibly preempted.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

// Error is the lease package's error class.
var Error = errs.Class("lease")

// Lease is a held, self-renewing exclusive lock.
type Lease struct {
	client   objstore.Client
	ref      objstore.ObjectRef
	name     string
	cookie   string
	duration time.Duration

	cancel context.CancelFunc
	lost   chan struct{}
}

// Acquire takes an exclusive lease on ref under name for duration, refreshed
// automatically at renewFraction of the duration (spec: "typically ½ to ¾").
// Acquire returns gwerrs.Busy if another cookie already holds it.
func Acquire(ctx context.Context, client objstore.Client, ref objstore.ObjectRef, name string, duration time.Duration, renewFraction float64) (*Lease, error) {
	cookie := uuid.New().String()
	if err := client.LockExclusive(ctx, ref, name, cookie, duration, false); err != nil {
		return nil, Error.Wrap(err)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l := &Lease{
		client:   client,
		ref:      ref,
		name:     name,
		cookie:   cookie,
		duration: duration,
		cancel:   cancel,
		lost:     make(chan struct{}),
	}
	go l.renewLoop(renewCtx, duration, renewFraction)
	return l, nil
}

func (l *Lease) renewLoop(ctx context.Context, duration time.Duration, renewFraction float64) {
	if renewFraction <= 0 || renewFraction >= 1 {
		renewFraction = 0.5
	}
	interval := time.Duration(float64(duration) * renewFraction)
	if interval <= 0 {
		interval = duration / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := l.client.LockExclusive(ctx, l.ref, l.name, l.cookie, duration, true)
			if err != nil {
				close(l.lost)
				return
			}
		}
	}
}

// Lost returns a channel that closes when the lease fails to renew (lock
// contention, object removed, or transport error) — the §5 "lease dropping,
// detected at the next suspension point" signal. Callers should treat their
// in-flight work as canceled once this fires.
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

// Release stops renewal and drops the lock.
func (l *Lease) Release(ctx context.Context) error {
	l.cancel()
	err := l.client.Unlock(ctx, l.ref, l.name, l.cookie)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil
	}
	return Error.Wrap(err)
}
