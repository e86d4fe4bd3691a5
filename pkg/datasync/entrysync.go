// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync

import (
	"context"
	"sync"
	"time"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/rgwkey"
	"github.com/rgwsync/gateway/private/sync2"
)

// maxObligationAttempts bounds DataSyncSingleEntry's retry loop against a
// single obligation (§4.4.4's "loop while progress < obligation.timestamp").
const maxObligationAttempts = 20

// BucketShardSyncer drives one (pipe, dest shard) sync attempt, returning
// the timestamp synced up through. Implemented by bucketsync.go's
// SyncBucketShard state machine.
type BucketShardSyncer interface {
	SyncBucketShard(ctx context.Context, pipe Pipe, shard int, gen *uint64) (progress time.Time, err error)
}

// RunBucketSourcesSync implements §4.4.5: resolve every replication pipe
// whose source is sourceBS, and for each, fan out across its shards,
// returning the minimum progress timestamp across everything spawned so a
// caller never marks a log position done until every fan-out target has
// caught up past it.
func RunBucketSourcesSync(ctx context.Context, resolver PolicyResolver, syncer BucketShardSyncer, sourceBS string, sourceNumShards int, gen *uint64) (time.Time, error) {
	shard, err := rgwkey.ParseShardKey(sourceBS)
	if err != nil {
		return time.Time{}, Error.Wrap(err)
	}
	pipes, err := resolver.ResolvePipes(BucketRef{Tenant: shard.Bucket.Tenant, Name: shard.Bucket.Name})
	if err != nil {
		return time.Time{}, err
	}
	if len(pipes) == 0 {
		return time.Time{}, nil // nothing replicates this bucket: success
	}

	numShards := sourceNumShards
	if numShards < 1 {
		numShards = 1
	}

	var mu sync.Mutex
	var minProgress time.Time
	haveProgress := false
	var firstErr error

	limiter := sync2.NewLimiter(20)
	for _, pipe := range pipes {
		pipe := pipe
		for s := 0; s < numShards; s++ {
			s := s
			limiter.Go(ctx, func() error {
				progress, err := syncer.SyncBucketShard(ctx, pipe, s, gen)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return nil
				}
				if !haveProgress || progress.Before(minProgress) {
					minProgress = progress
					haveProgress = true
				}
				return nil
			})
		}
	}
	_ = limiter.Wait()
	return minProgress, firstErr
}

// DataSyncSingleEntry implements §4.4.4 for one bucket-shard sync
// obligation. marker/pos/tracker are zero-valued (tracker nil) for the
// "modified shards" wakeup path and retry path, which carry no log marker
// (§4.4.3 step 1).
func DataSyncSingleEntry(
	ctx context.Context,
	cache *StateCache,
	resolver PolicyResolver,
	syncer BucketShardSyncer,
	errorRepo *ErrorRepo,
	errLog *SyncErrorLog,
	bucketShard string,
	sourceNumShards int,
	gen *uint64,
	timestamp time.Time,
	isRetry bool,
	tracker *MarkerTracker,
	pos int64,
	marker string,
) error {
	// Callers that pass a tracker must have already called tracker.Start
	// for (marker, pos) in position order before invoking this function —
	// MarkerTracker requires Start calls to arrive in order, which a
	// concurrently-spawned goroutine cannot guarantee on its own.
	if tracker != nil && marker != "" {
		defer tracker.Finish(pos)
	}

	var genVal uint64
	if gen != nil {
		genVal = *gen
	}

	admitted, runCtx, epoch, done := cache.Admit(ctx, bucketShard, timestamp, genVal)
	if !admitted {
		return nil // strictly-older or duplicate request: superseded, nothing to do
	}

	var progress time.Time
	var syncErr error
	for attempt := 0; attempt < maxObligationAttempts; attempt++ {
		if cache.Superseded(bucketShard, epoch) {
			break
		}
		progress, syncErr = RunBucketSourcesSync(runCtx, resolver, syncer, bucketShard, sourceNumShards, gen)
		if syncErr == nil {
			if !progress.Before(timestamp) {
				break
			}
			continue // progress hasn't yet reached the obligation; retry
		}
		if gwerrs.Is(syncErr, gwerrs.Busy) || gwerrs.Is(syncErr, gwerrs.Again) {
			continue
		}
		break
	}
	done(progress)

	switch {
	case syncErr == nil:
		if isRetry {
			return errorRepo.Remove(ctx, bucketShard, genVal, timestamp)
		}
		return nil
	case gwerrs.Is(syncErr, gwerrs.NotFound):
		// Stale entry for a removed bucket: treat as success.
		if isRetry {
			return errorRepo.Remove(ctx, bucketShard, genVal, timestamp)
		}
		return nil
	case gwerrs.Is(syncErr, gwerrs.Busy), gwerrs.Is(syncErr, gwerrs.Again):
		return syncErr
	default:
		if errLog != nil {
			errLog.Append(SyncErrorEntry{BucketShard: bucketShard, Generation: genVal, Timestamp: timestamp, Err: syncErr.Error(), At: time.Now()})
		}
		if gwerrs.ShouldRepo(syncErr) && errorRepo != nil {
			if putErr := errorRepo.Put(ctx, bucketShard, genVal, timestamp); putErr != nil {
				return putErr
			}
		}
		return syncErr
	}
}
