// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resharder

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/pkg/rgwkey"
	"github.com/rgwsync/gateway/private/gwlog"
	"github.com/rgwsync/gateway/private/lease"
)

// BucketIDLookup answers the worker's "does the queued bucket_id still
// match the bucket's current incarnation" check (§4.5 "Reshard queue":
// "verifies the bucket's current bucket_id still matches the queued
// value").
type BucketIDLookup interface {
	CurrentBucketID(ctx context.Context, tenant, name string) (string, error)
}

const (
	workerLeaseDuration = 30 * time.Second
	workerIdleInterval  = 10 * time.Second
)

// Worker drains one reshard queue logshard at a time, each behind its own
// lease so at most one process works a given logshard concurrently
// (§4.5 "Reshard queue").
type Worker struct {
	client    objstore.Client
	leasePool string
	queue     *Queue
	resharder *BucketResharder
	lookup    BucketIDLookup
	log       *zap.Logger
}

// NewWorker returns a worker draining queue via resharder.
func NewWorker(client objstore.Client, leasePool string, queue *Queue, resharder *BucketResharder, lookup BucketIDLookup, log *zap.Logger) *Worker {
	return &Worker{client: client, leasePool: leasePool, queue: queue, resharder: resharder, lookup: lookup, log: log}
}

func (w *Worker) leaseRef(logshard int) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: w.leasePool, OID: "reshard.queue-lease." + strconv.Itoa(logshard)}
}

// RunLogshard drains logshard until ctx is canceled, sleeping
// workerIdleInterval between empty polls.
func (w *Worker) RunLogshard(ctx context.Context, logshard int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		processed, err := w.RunOnce(ctx, logshard)
		if err != nil && w.log != nil {
			w.log.Warn("reshard worker: logshard pass failed", zap.Int("logshard", logshard), zap.Error(err))
		}
		if !processed {
			timer := time.NewTimer(workerIdleInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// RunOnce processes at most one queue entry on logshard, returning whether
// an entry was found (regardless of outcome).
func (w *Worker) RunOnce(ctx context.Context, logshard int) (bool, error) {
	lse, err := lease.Acquire(ctx, w.client, w.leaseRef(logshard), "reshard-worker", workerLeaseDuration, 0.5)
	if err != nil {
		return false, gwerrs.Busy // another worker already owns this logshard
	}
	defer func() { _ = lse.Release(ctx) }()

	entry, key, found, err := w.queue.Peek(ctx, logshard)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	currentID, err := w.lookup.CurrentBucketID(ctx, entry.Tenant, entry.BucketName)
	if err != nil || currentID != entry.BucketID {
		// Stale entry: bucket was recreated or already resharded under a
		// newer incarnation. Drop it — it no longer names anything real.
		if w.log != nil {
			w.log.Info("reshard worker: dropping stale queue entry", gwlog.Bucket(entry.Tenant, entry.BucketName))
		}
		return true, w.queue.Remove(ctx, logshard, key)
	}

	bucket := rgwkey.Bucket{Tenant: entry.Tenant, Name: entry.BucketName, BucketID: currentID, Marker: currentID}
	reshardErr := w.resharder.Reshard(ctx, bucket, entry.NewNumShards)
	if reshardErr != nil {
		if w.log != nil {
			w.log.Warn("reshard worker: reshard failed, leaving entry queued", gwlog.Bucket(entry.Tenant, entry.BucketName), zap.Error(reshardErr))
		}
		return true, reshardErr
	}
	return true, w.queue.Remove(ctx, logshard, key)
}
