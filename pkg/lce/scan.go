// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/private/gwlog"
	"github.com/rgwsync/gateway/private/lease"
)

var mon = monkit.Package()

// Shard lease defaults (§4.6 step 1, §5 "LC lease default 90s").
const (
	shardLeaseDuration  = 90 * time.Second
	shardRenewFraction  = 0.5
	leaseRetryInterval  = 5 * time.Second
	processingStaleMult = 2 // "older than 2*24h or 2*debug_interval"
)

// BucketBinder resolves the object-lister/deleter pair backing one bucket,
// so Engine stays oblivious to how a concrete deployment addresses bucket
// storage.
type BucketBinder interface {
	Bind(ctx context.Context, bucketKey string) (ObjectLister, ObjectDeleter, error)
}

// Engine drives every shard's §4.6 scan loop.
type Engine struct {
	client        objstore.Client
	leasePool     string
	queue         *Queue
	policies      PolicyStore
	binder        BucketBinder
	maxWorkers    int
	debugInterval time.Duration
	workWindow    WorkWindow
	log           *zap.Logger
}

// NewEngine wires an engine over queue, resolving bucket storage via binder
// and policies via policies. debugInterval, when > 0, substitutes for the
// daily window and the literal-24h day throughout scheduling and expiration
// math (§4.6 "Debug interval overrides").
func NewEngine(client objstore.Client, leasePool string, queue *Queue, policies PolicyStore, binder BucketBinder, maxWorkers int, workWindow WorkWindow, debugInterval time.Duration, log *zap.Logger) *Engine {
	return &Engine{
		client:        client,
		leasePool:     leasePool,
		queue:         queue,
		policies:      policies,
		binder:        binder,
		maxWorkers:    maxWorkers,
		debugInterval: debugInterval,
		workWindow:    workWindow,
		log:           log,
	}
}

func (e *Engine) leaseRef(shard int) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: e.leasePool, OID: "lc.lease." + strconv.Itoa(shard)}
}

// RunSweep processes every shard once, in a random permutation (§4.6 "The
// engine processes all shards in a random permutation on each wake").
func (e *Engine) RunSweep(ctx context.Context) error {
	order := rand.Perm(e.queue.NumShards())
	for _, shard := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.RunShard(ctx, shard); err != nil && e.log != nil {
			e.log.Warn("lce: shard sweep failed", zap.Int("shard", shard), zap.Error(err))
		}
	}
	return nil
}

// RunShard implements §4.6 steps 1-7 for one shard.
func (e *Engine) RunShard(ctx context.Context, shard int) (err error) {
	defer mon.Task()(&ctx)(&err)

	lse, err := e.acquireWithRetry(ctx, shard)
	if err != nil {
		return err
	}
	released := false
	release := func() {
		if !released {
			_ = lse.Release(ctx)
			released = true
		}
	}
	defer release()

	header, version, err := e.queue.ReadHeader(ctx, shard)
	if err != nil {
		return err
	}

	now := time.Now()
	staleDuration := processingStaleMult * debugDay(e.debugInterval)
	if header.CurrentBucket != "" && now.Sub(header.CurrentSince) < staleDuration {
		return nil // another processor still owns this shard's in-flight entry
	}

	if isSameDay(header.StartDate, now, e.debugInterval) {
		return nil // already ran this cycle
	}

	header.StartDate = now
	header.Marker = ""
	header.CurrentBucket = ""
	header.CurrentSince = time.Time{}
	if err := e.prepareAllEntries(ctx, shard, now); err != nil {
		return err
	}
	if err := e.queue.WriteHeaderCAS(ctx, shard, version, header); err != nil {
		return err
	}
	version++

	stopAt := now.Add(debugDay(e.debugInterval))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry, found, err := e.queue.NextEntryAfter(ctx, shard, header.Marker)
		if err != nil {
			return err
		}
		if !found {
			if header.CurrentBucket != "" {
				header.CurrentBucket = ""
				header.CurrentSince = time.Time{}
				if err := e.queue.WriteHeaderCAS(ctx, shard, version, header); err != nil {
					return err
				}
			}
			return nil
		}

		entry.Status = StatusProcessing
		header.Marker = entry.BucketKey
		header.CurrentBucket = entry.BucketKey
		header.CurrentSince = time.Now()
		if err := e.queue.PutEntry(ctx, shard, entry); err != nil {
			return err
		}
		if err := e.queue.WriteHeaderCAS(ctx, shard, version, header); err != nil {
			return err
		}
		version++
		release()

		result := e.processBucket(ctx, entry.BucketKey, stopAt)

		lse, err = e.acquireWithRetry(ctx, shard)
		if err != nil {
			return err
		}
		released = false

		switch {
		case gwerrs.Is(result, gwerrs.NotFound):
			if err := e.queue.RemoveEntry(ctx, shard, entry.BucketKey); err != nil {
				return err
			}
		case result != nil:
			entry.Status = StatusFailed
			if err := e.queue.PutEntry(ctx, shard, entry); err != nil {
				return err
			}
		default:
			entry.Status = StatusComplete
			if err := e.queue.PutEntry(ctx, shard, entry); err != nil {
				return err
			}
		}

		if time.Now().After(stopAt) {
			return nil
		}
	}
}

func (e *Engine) acquireWithRetry(ctx context.Context, shard int) (*lease.Lease, error) {
	deadline := time.Now().Add(shardLeaseDuration)
	for {
		lse, err := lease.Acquire(ctx, e.client, e.leaseRef(shard), "lc", shardLeaseDuration, shardRenewFraction)
		if err == nil {
			return lse, nil
		}
		if !gwerrs.Is(err, gwerrs.Busy) || time.Now().After(deadline) {
			return nil, err
		}
		timer := time.NewTimer(leaseRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *Engine) prepareAllEntries(ctx context.Context, shard int, now time.Time) error {
	marker := ""
	for {
		entries, next, truncated, err := e.queue.ListEntries(ctx, shard, marker, listPageSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			entry.Status = StatusUninitial
			entry.StartTime = now
			if err := e.queue.PutEntry(ctx, shard, entry); err != nil {
				return err
			}
		}
		if !truncated {
			return nil
		}
		marker = next
	}
}

func (e *Engine) processBucket(ctx context.Context, bucketKey string, stopAt time.Time) error {
	policy, err := e.policies.GetPolicy(ctx, bucketKey)
	if err != nil {
		return err
	}
	lister, deleter, err := e.binder.Bind(ctx, bucketKey)
	if err != nil {
		return err
	}
	proc := NewProcessor(lister, deleter, e.maxWorkers, e.debugInterval, e.log)
	if e.log != nil {
		e.log.Info("lce: processing bucket", gwlog.Bucket("", bucketKey))
	}
	return proc.Process(ctx, bucketKey, policy, stopAt)
}

func isSameDay(startDate, now time.Time, debugInterval time.Duration) bool {
	if startDate.IsZero() {
		return false
	}
	if debugInterval > 0 {
		return now.Sub(startDate) < debugInterval
	}
	y1, m1, d1 := startDate.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
