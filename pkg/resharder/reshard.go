// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resharder

import (
	"context"
	"time"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/pkg/rgwkey"
	"github.com/rgwsync/gateway/private/gwlog"
	"github.com/rgwsync/gateway/private/lease"
)

var mon = monkit.Package()

// reshardLeaseDuration and its renew fraction implement §4.5 step 1
// ("default 360s, refreshed every ~½ duration").
const (
	reshardLeaseDuration = 360 * time.Second
	reshardRenewFraction = 0.5
	biListPageSize       = 1000
	copyAIOWindow        = 8
	copyBatchSize        = 2048
)

// RetiredShardNotifier is told about each source shard of a generation the
// commit step just retired, so peers still syncing from it learn to drain
// it (§4.5 step 5a: "add one DCL entry per old shard of the now-retired
// generation"). Wired to datalog.ChangeLog.AddEntry in production; nil
// disables the notification (data-logging turned off globally).
type RetiredShardNotifier interface {
	NotifyShardRetired(ctx context.Context, bucket rgwkey.Bucket, shard int32, gen uint64) error
}

// BucketResharder runs the §4.5 online-split protocol for one bucket at a
// time.
type BucketResharder struct {
	client  objstore.Client
	leases  string // pool holding reshard lease objects
	layouts *LayoutStore
	shards  ShardStore
	fault   FaultInjector
	retired RetiredShardNotifier
	log     *zap.Logger
}

// NewBucketResharder wires client for leases, layouts/shards for bucket
// metadata, fault for test breakpoints (use NoFaults{} in production).
// retired may be nil when data-logging is disabled globally (§4.5 step 5a).
func NewBucketResharder(client objstore.Client, leasePool string, layouts *LayoutStore, shards ShardStore, fault FaultInjector, retired RetiredShardNotifier, log *zap.Logger) *BucketResharder {
	if fault == nil {
		fault = NoFaults{}
	}
	return &BucketResharder{client: client, leases: leasePool, layouts: layouts, shards: shards, fault: fault, retired: retired, log: log}
}

func (r *BucketResharder) leaseRef(bucket rgwkey.Bucket) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: r.leases, OID: "bucket.reshard-lease." + bucket.InstanceKey()}
}

// Reshard drives bucket's index from its current shard count to
// newNumShards (§4.5 "Protocol (reshard)").
func (r *BucketResharder) Reshard(ctx context.Context, bucket rgwkey.Bucket, newNumShards uint32) (err error) {
	defer mon.Task()(&ctx)(&err)

	// 1. Lock.
	lse, err := lease.Acquire(ctx, r.client, r.leaseRef(bucket), "reshard", reshardLeaseDuration, reshardRenewFraction)
	if err != nil {
		return gwerrs.Busy
	}
	defer func() { _ = lse.Release(ctx) }()

	layout, version, err := r.layouts.Read(ctx, bucket)
	if err != nil {
		return err
	}
	if err := CanReshard(layout); err != nil {
		return err
	}

	// 2. Init target layout.
	target, err := r.initTargetLayout(ctx, bucket, layout, version, newNumShards)
	if err != nil {
		return err
	}

	if r.log != nil {
		r.log.Info("reshard: target layout ready", gwlog.Bucket(bucket.Tenant, bucket.Name), zap.Uint32("new_num_shards", newNumShards))
	}

	// 3. Block writes.
	if err := r.fault.Check(FaultBlockWrites); err != nil {
		return r.cancelReshard(ctx, bucket, target, err)
	}
	if err := r.shards.SetBlockWrites(ctx, bucket, layout.Current, true); err != nil {
		return r.cancelReshard(ctx, bucket, target, err)
	}

	// 4. Copy.
	if err := r.fault.Check(FaultDoReshard); err != nil {
		return r.cancelReshard(ctx, bucket, target, err)
	}
	if err := r.copy(ctx, bucket, layout.Current, target, lse); err != nil {
		return r.cancelReshard(ctx, bucket, target, err)
	}

	// 5. Commit.
	return r.commitReshard(ctx, bucket, layout, target)
}

func (r *BucketResharder) initTargetLayout(ctx context.Context, bucket rgwkey.Bucket, layout rgwkey.Layout, version uint64, newNumShards uint32) (rgwkey.IndexLayout, error) {
	gen := layout.Current.Gen
	if layout.Target != nil && layout.Target.Gen > gen {
		gen = layout.Target.Gen
	}
	target := rgwkey.IndexLayout{Gen: gen + 1, NumShards: newNumShards, Type: layout.Current.Type}

	if err := r.fault.Check(FaultSetTargetLayout); err != nil {
		return rgwkey.IndexLayout{}, err
	}
	if err := r.shards.AllocateShards(ctx, bucket, target); err != nil {
		return rgwkey.IndexLayout{}, err
	}

	layout.Target = &target
	layout.Resharding = rgwkey.ReshardInProgress
	if err := r.layouts.WriteCAS(ctx, bucket, version, layout); err != nil {
		_ = r.shards.DeleteShards(ctx, bucket, target)
		return rgwkey.IndexLayout{}, err
	}
	return target, nil
}

// copy implements §4.5 step 4: page every source shard, place each entry on
// its target shard, flush batches through a bounded AIO window, and keep
// the reshard lease renewed across long-running copies (renewal is
// automatic via lease.Lease's background renewLoop; copy only has to
// notice if that renewal has failed, via lse.Lost()).
func (r *BucketResharder) copy(ctx context.Context, bucket rgwkey.Bucket, current, target rgwkey.IndexLayout, lse *lease.Lease) error {
	batches := make([][]BiEntry, target.NumShards)
	stats := make([]ShardStats, target.NumShards)
	inFlight := make([]objstore.Completion, 0, copyAIOWindow)

	waitOne := func() error {
		if len(inFlight) == 0 {
			return nil
		}
		c := inFlight[0]
		inFlight = inFlight[1:]
		return c.Wait(ctx)
	}

	flush := func(shard uint32) error {
		if len(batches[shard]) == 0 {
			return nil
		}
		if len(inFlight) >= copyAIOWindow {
			if err := waitOne(); err != nil {
				return err
			}
		}
		completion, err := r.shards.WriteBatchAsync(ctx, bucket, target, shard, batches[shard], stats[shard])
		if err != nil {
			return err
		}
		inFlight = append(inFlight, completion)
		batches[shard] = nil
		stats[shard] = ShardStats{}
		return nil
	}

	for shard := uint32(0); shard < current.NumShards; shard++ {
		marker := ""
		for {
			select {
			case <-lse.Lost():
				return gwerrs.Busy
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			entries, next, truncated, err := r.shards.ListBiEntries(ctx, bucket, current, shard, marker, biListPageSize)
			if err != nil {
				return err
			}
			for _, e := range entries {
				targetShard := GetTargetShardID(target.NumShards, e)
				batches[targetShard] = append(batches[targetShard], e)
				stats[targetShard].Add(e)
				if len(batches[targetShard]) >= copyBatchSize {
					if err := flush(targetShard); err != nil {
						return err
					}
				}
			}
			if !truncated {
				break
			}
			marker = next
		}
	}

	for shard := uint32(0); shard < target.NumShards; shard++ {
		if err := flush(shard); err != nil {
			return err
		}
	}
	for len(inFlight) > 0 {
		if err := waitOne(); err != nil {
			return err
		}
	}
	return nil
}

// commitReshard implements §4.5 step 5a.
func (r *BucketResharder) commitReshard(ctx context.Context, bucket rgwkey.Bucket, layout rgwkey.Layout, target rgwkey.IndexLayout) error {
	if err := r.fault.Check(FaultCommitTargetLayout); err != nil {
		_ = r.shards.SetBlockWrites(ctx, bucket, layout.Current, false)
		return err
	}

	old := layout.Current
	retiredGen := old.Gen
	dataLoggingEnabled := r.retired != nil

	newLayout := layout
	newLayout.Current = target
	newLayout.Target = nil
	newLayout.Resharding = rgwkey.ReshardNone

	var oldShardsNeeded bool
	if !dataLoggingEnabled {
		newLayout.Logs = nil // data-logging disabled: no peer can depend on any historical log
	} else {
		for _, l := range layout.Logs {
			if l.InIndex.Gen == retiredGen {
				oldShardsNeeded = true
				break
			}
		}
		newLayout.Logs = append(newLayout.Logs, rgwkey.LogGenRef{
			Gen:     lastLogGen(layout.Logs) + 1,
			InIndex: struct{ Gen uint64 }{Gen: retiredGen},
		})
	}

	_, version, err := r.layouts.Read(ctx, bucket)
	if err != nil {
		_ = r.shards.SetBlockWrites(ctx, bucket, old, false)
		return err
	}
	if err := r.layouts.WriteCAS(ctx, bucket, version, newLayout); err != nil {
		_ = r.shards.SetBlockWrites(ctx, bucket, old, false)
		return err
	}

	if dataLoggingEnabled {
		for shard := int32(0); uint32(shard) < old.NumShards; shard++ {
			if err := r.retired.NotifyShardRetired(ctx, bucket, shard, retiredGen); err != nil && r.log != nil {
				r.log.Warn("reshard: failed to notify retired shard", gwlog.Bucket(bucket.Tenant, bucket.Name), zap.Int32("shard", shard), zap.Error(err))
			}
		}
	}

	if !oldShardsNeeded {
		_ = r.shards.DeleteShards(ctx, bucket, old)
	}
	return nil
}

// cancelReshard implements §4.5 step 5b.
func (r *BucketResharder) cancelReshard(ctx context.Context, bucket rgwkey.Bucket, target rgwkey.IndexLayout, cause error) error {
	_ = r.fault.Check(FaultRevertTargetLayout)

	layout, version, err := r.layouts.Read(ctx, bucket)
	if err == nil {
		_ = r.shards.SetBlockWrites(ctx, bucket, layout.Current, false)
		layout.Target = nil
		layout.Resharding = rgwkey.ReshardNone
		_ = r.layouts.WriteCAS(ctx, bucket, version, layout)
	}
	_ = r.shards.DeleteShards(ctx, bucket, target)
	return cause
}

func lastLogGen(logs []rgwkey.LogGenRef) uint64 {
	var max uint64
	for _, l := range logs {
		if l.Gen > max {
			max = l.Gen
		}
	}
	return max
}
