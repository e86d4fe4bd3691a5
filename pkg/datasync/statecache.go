// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync

import (
	"context"
	"sync"
	"time"
)

// obligation is one bucket-shard's current sync commitment: "sync this key
// at least up through timestamp." A newer obligation supersedes and cancels
// an older in-flight one (§4.4.4).
type obligation struct {
	timestamp time.Time
	generation uint64
	epoch     uint64 // bumped every time a new obligation supersedes an in-flight one
	cancel    context.CancelFunc
	progress  time.Time // highest timestamp actually synced so far
}

// StateCache tracks in-flight sync obligations per bucket-shard key, so a
// newer write never waits behind a stale one and an older write never
// clobbers a newer result (§4.4.4).
type StateCache struct {
	mu      sync.Mutex
	entries map[string]*obligation
}

// NewStateCache returns an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{entries: map[string]*obligation{}}
}

// Admit decides whether a new sync request for key at timestamp should run.
// If an older in-flight obligation exists, it is canceled and replaced. If a
// newer or equal one is already in flight, the new request is refused. Once
// an obligation's done has been called its key is forgotten, so a later
// request for that key is admitted. On admission, it returns a child context and a done
// function the caller must invoke when the obligation is resolved, along
// with the obligation's epoch to detect later supersession.
func (c *StateCache) Admit(ctx context.Context, key string, timestamp time.Time, generation uint64) (admitted bool, runCtx context.Context, epoch uint64, done func(progress time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, exists := c.entries[key]
	if exists {
		if !timestamp.After(cur.timestamp) {
			return false, nil, 0, nil
		}
		// Newer obligation supersedes: cancel the in-flight sync.
		if cur.cancel != nil {
			cur.cancel()
		}
		cur.epoch++
	} else {
		cur = &obligation{}
		c.entries[key] = cur
	}

	childCtx, cancel := context.WithCancel(ctx)
	cur.timestamp = timestamp
	cur.generation = generation
	cur.cancel = cancel
	myEpoch := cur.epoch

	doneFn := func(progress time.Time) {
		c.mu.Lock()
		defer c.mu.Unlock()
		e, ok := c.entries[key]
		if !ok || e.epoch != myEpoch {
			return // superseded while we were running
		}
		e.progress = progress
		delete(c.entries, key)
	}
	return true, childCtx, myEpoch, doneFn
}

// Superseded reports whether the obligation identified by epoch has since
// been replaced by a newer one — used by the retry loop in
// DataSyncSingleEntry to stop retrying once someone else has taken over.
func (c *StateCache) Superseded(key string, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return true
	}
	return e.epoch != epoch
}

// Obligation returns the current timestamp/generation committed for key, if
// any is in flight.
func (c *StateCache) Obligation(key string) (timestamp time.Time, generation uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[key]
	if !exists {
		return time.Time{}, 0, false
	}
	return e.timestamp, e.generation, true
}
