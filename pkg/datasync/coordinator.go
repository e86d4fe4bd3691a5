// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/gwhttp"
	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/private/lease"
	"github.com/rgwsync/gateway/private/sync2"
)

// SyncInfoState is the top-level bootstrap state for one source zone
// (§4.4.1).
type SyncInfoState int

// Sync-info states.
const (
	SyncInfoInit SyncInfoState = iota
	SyncInfoBuildingFullSyncMaps
	SyncInfoSync
)

type syncInfo struct {
	State     SyncInfoState `json:"state"`
	NumShards int           `json:"num_shards"`
}

// RemoteDataLogClient is the subset of gwhttp.Client the coordinator needs.
type RemoteDataLogClient interface {
	DataLogNumShards(ctx context.Context) (int, error)
	DataLogShardInfo(ctx context.Context, shard int) (gwhttp.DataLogShardInfoResponse, error)
	DataLogList(ctx context.Context, shard int, marker string) (gwhttp.DataLogListResponse, error)
	BucketInstanceList(ctx context.Context, maxEntries int, marker string) (gwhttp.BucketInstanceListResponse, error)
	BucketInstanceGet(ctx context.Context, key string) (gwhttp.BucketInstanceGetResponse, error)
}

// fullSyncIndexBuildWindow bounds parallel OMAP appends while building the
// full-sync map (§4.4.2 "bounded parallelism").
const fullSyncIndexBuildWindow = 20

// bucketInstanceListPage is the page size for /admin/metadata/bucket.instance.
const bucketInstanceListPage = 1000

// Coordinator runs the IDSE for one source zone: bootstrap, full-sync map
// build, and the per-shard controllers (§4.4).
type Coordinator struct {
	client       objstore.Client
	logPool      string
	sourceZone   string
	remote       RemoteDataLogClient
	resolver     PolicyResolver
	syncer       BucketShardSyncer
	log          *zap.Logger

	stateCache *StateCache
	errLog     *SyncErrorLog
}

// NewCoordinator returns a coordinator for sourceZone, persisting status
// objects in logPool.
func NewCoordinator(client objstore.Client, logPool, sourceZone string, remote RemoteDataLogClient, resolver PolicyResolver, syncer BucketShardSyncer, log *zap.Logger) *Coordinator {
	return &Coordinator{
		client:     client,
		logPool:    logPool,
		sourceZone: sourceZone,
		remote:     remote,
		resolver:   resolver,
		syncer:     syncer,
		log:        log,
		stateCache: NewStateCache(),
		errLog:     NewSyncErrorLog(1000),
	}
}

func (c *Coordinator) syncInfoRef() objstore.ObjectRef {
	return objstore.ObjectRef{Pool: c.logPool, OID: "datalog.sync-status." + c.sourceZone}
}

func (c *Coordinator) shardMarkerRef(shard int) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: c.logPool, OID: "datalog.sync-status.shard." + c.sourceZone + "." + strconv.Itoa(shard)}
}

func (c *Coordinator) retryRef(shard int) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: c.logPool, OID: "datalog.sync-status.shard." + c.sourceZone + "." + strconv.Itoa(shard) + ".retry"}
}

func (c *Coordinator) fullSyncIndexRef(shard int) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: c.logPool, OID: "data.full-sync.index." + c.sourceZone + "." + strconv.Itoa(shard)}
}

// Bootstrap implements §4.4.1: on first start for a source zone, acquire
// the sync-status lease, record initial per-shard markers from the
// remote's current heads, and hand off to BuildFullSyncMaps.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	ref := c.syncInfoRef()
	lse, err := lease.Acquire(ctx, c.client, ref, "sync-info", 30*time.Second, 0.5)
	if err != nil {
		return gwerrs.Wrap(&Error, gwerrs.Busy)
	}
	defer func() { _ = lse.Release(ctx) }()

	numShards, err := c.remote.DataLogNumShards(ctx)
	if err != nil {
		return err
	}

	info := syncInfo{State: SyncInfoInit, NumShards: numShards}
	if err := c.writeSyncInfo(ctx, ref, info); err != nil {
		return err
	}

	for i := 0; i < numShards; i++ {
		shardInfo, err := c.remote.DataLogShardInfo(ctx, i)
		if err != nil {
			return err
		}
		marker := shardSyncStatus{
			Marker:    shardInfo.Marker,
			Timestamp: shardInfo.LastUpdate,
		}
		raw, err := json.Marshal(markerWithState{shardSyncStatus: marker, State: gwhttp.SyncMarkerFullSync, NextStepMarker: shardInfo.Marker})
		if err != nil {
			return Error.Wrap(err)
		}
		if err := c.client.Operate(ctx, c.shardMarkerRef(i), objstore.WriteOp{SetBytes: raw}); err != nil {
			return Error.Wrap(err)
		}
	}

	info.State = SyncInfoBuildingFullSyncMaps
	return c.writeSyncInfo(ctx, ref, info)
}

// markerWithState is the persisted per-shard marker record (§4.4.1 step 4).
type markerWithState struct {
	shardSyncStatus
	State          gwhttp.SyncMarkerState `json:"sync_state"`
	NextStepMarker string                 `json:"next_step_marker"`
}

func (c *Coordinator) writeSyncInfo(ctx context.Context, ref objstore.ObjectRef, info syncInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return Error.Wrap(err)
	}
	return c.client.Operate(ctx, ref, objstore.WriteOp{SetBytes: raw})
}

func (c *Coordinator) readSyncInfo(ctx context.Context, ref objstore.ObjectRef) (syncInfo, error) {
	raw, err := c.client.ReadBytes(ctx, ref)
	if err != nil {
		return syncInfo{}, Error.Wrap(err)
	}
	var info syncInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return syncInfo{}, Error.Wrap(err)
	}
	return info, nil
}

// BuildFullSyncMaps implements §4.4.2: list every remote bucket instance,
// and for each, append (bucket_shard_key, dcl_log_shard_id) into the
// sharded full-sync OMAP index.
func (c *Coordinator) BuildFullSyncMaps(ctx context.Context, numLogShards int) error {
	ref := c.syncInfoRef()
	limiter := sync2.NewLimiter(fullSyncIndexBuildWindow)

	marker := ""
	for {
		page, err := c.remote.BucketInstanceList(ctx, bucketInstanceListPage, marker)
		if err != nil {
			return err
		}
		for _, key := range page.Keys {
			key := key
			limiter.Go(ctx, func() error {
				return c.indexOneBucketInstance(ctx, key, numLogShards)
			})
		}
		if !page.Truncated {
			break
		}
		marker = page.Marker
	}
	if err := limiter.Wait(); err != nil {
		return Error.Wrap(err)
	}

	info, err := c.readSyncInfo(ctx, ref)
	if err != nil {
		return err
	}
	info.State = SyncInfoSync
	return c.writeSyncInfo(ctx, ref, info)
}

func (c *Coordinator) indexOneBucketInstance(ctx context.Context, key string, numLogShards int) error {
	bucketInst, err := c.remote.BucketInstanceGet(ctx, key)
	if err != nil {
		if gwerrs.Is(err, gwerrs.NotFound) {
			return nil
		}
		return err
	}
	info := bucketInst.Data.BucketInfo
	numShards := info.NumShards
	if numShards <= 0 {
		numShards = 1
	}
	for shard := 0; shard < numShards; shard++ {
		bsKey := info.Name + ":" + strconv.Itoa(shard)
		logShard := logShardHash(info.Name, shard, numLogShards)
		if err := c.client.Operate(ctx, c.fullSyncIndexRef(logShard), objstore.WriteOp{
			AppendOMap: []objstore.OMapEntry{{Key: bsKey, Value: []byte(strconv.Itoa(logShard))}},
		}); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// logShardHash mirrors rgwkey.LogShard's hashing without requiring a
// bucket-level shard id wider than what BuildFullSyncMaps already knows.
func logShardHash(bucketName string, shardID int, numLogShards int) int {
	if numLogShards <= 0 {
		return 0
	}
	h := uint32(2166136261)
	for i := 0; i < len(bucketName); i++ {
		h *= 16777619
		h ^= uint32(bucketName[i])
	}
	effective := shardID
	if effective < 0 {
		effective = 0
	}
	return int((uint64(h) + uint64(effective)) % uint64(numLogShards))
}

// RunShardController implements §4.4.3: a backoff-retry loop that runs
// full_sync() or incremental_sync() depending on the shard's persisted
// state, until ctx is canceled.
func (c *Coordinator) RunShardController(ctx context.Context, shard int) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		st, err := c.readShardMarker(ctx, shard)
		if err != nil {
			if c.log != nil {
				c.log.Warn("read shard marker failed", zap.Int("shard", shard), zap.Error(err))
			}
			if !sleepBackoff(ctx, &backoff, maxBackoff) {
				return ctx.Err()
			}
			continue
		}

		if st.State == gwhttp.SyncMarkerFullSync {
			err = c.fullSync(ctx, shard)
		} else {
			err = c.incrementalSync(ctx, shard)
		}
		if err != nil && gwerrs.IsFatal(err) {
			if c.log != nil {
				c.log.Warn("shard sync failed, backing off", zap.Int("shard", shard), zap.Error(err))
			}
			if !sleepBackoff(ctx, &backoff, maxBackoff) {
				return ctx.Err()
			}
			continue
		}
		backoff = time.Second
	}
}

func sleepBackoff(ctx context.Context, backoff *time.Duration, max time.Duration) bool {
	timer := time.NewTimer(*backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	*backoff *= 2
	if *backoff > max {
		*backoff = max
	}
	return true
}

func (c *Coordinator) readShardMarker(ctx context.Context, shard int) (markerWithState, error) {
	raw, err := c.client.ReadBytes(ctx, c.shardMarkerRef(shard))
	if err != nil {
		return markerWithState{}, Error.Wrap(err)
	}
	var st markerWithState
	if err := json.Unmarshal(raw, &st); err != nil {
		return markerWithState{}, Error.Wrap(err)
	}
	return st, nil
}

// fullSync implements §4.4.3's full_sync(): list the full-sync index page
// by page, spawning a bounded-window DataSyncSingleEntry per key, then
// transition to IncrementalSync.
func (c *Coordinator) fullSync(ctx context.Context, shard int) error {
	ref := c.shardMarkerRef(shard)
	lse, err := lease.Acquire(ctx, c.client, ref, "shard-full-sync", 30*time.Second, 0.5)
	if err != nil {
		return gwerrs.Busy
	}
	defer func() { _ = lse.Release(ctx) }()

	errorRepo := NewErrorRepo(c.client, c.retryRef(shard))
	limiter := sync2.NewLimiter(20)

	marker := ""
	for {
		indexRef := c.fullSyncIndexRef(shard)
		entries, more, err := c.client.ListOMap(ctx, indexRef, objstore.OMapRange{Start: marker}, 100)
		if err != nil && !gwerrs.Is(err, gwerrs.NotFound) {
			return Error.Wrap(err)
		}
		for _, e := range entries {
			if e.Key == marker {
				continue
			}
			key := e.Key
			limiter.Go(ctx, func() error {
				return DataSyncSingleEntry(ctx, c.stateCache, c.resolver, c.syncer, errorRepo, c.errLog, key, 1, nil, time.Now(), false, nil, 0, "")
			})
			marker = key
		}
		if !more {
			break
		}
	}
	if err := limiter.Wait(); err != nil {
		return Error.Wrap(err)
	}

	st, err := c.readShardMarker(ctx, shard)
	if err != nil {
		return err
	}
	st.State = gwhttp.SyncMarkerIncrementalSync
	st.Marker = st.NextStepMarker
	st.NextStepMarker = ""
	raw, err := json.Marshal(st)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(c.client.Operate(ctx, ref, objstore.WriteOp{SetBytes: raw}))
}

// incrementalIntervalDefault is INCREMENTAL_INTERVAL (§4.4.3 step 5).
const incrementalIntervalDefault = 20 * time.Second

// ModifiedShardsSource drains the DCL's wakeup signal (§4.4.3 step 1).
type ModifiedShardsSource interface {
	ReadClearModified() map[int]map[string]struct{}
}

// incrementalSync implements §4.4.3's incremental_sync().
func (c *Coordinator) incrementalSync(ctx context.Context, shard int) error {
	ref := c.shardMarkerRef(shard)
	lse, err := lease.Acquire(ctx, c.client, ref, "shard-incremental", 30*time.Second, 0.5)
	if err != nil {
		return gwerrs.Busy
	}
	defer func() { _ = lse.Release(ctx) }()

	errorRepo := NewErrorRepo(c.client, c.retryRef(shard))

	st, err := c.readShardMarker(ctx, shard)
	if err != nil {
		return err
	}

	retries, err := errorRepo.List(ctx, 10)
	if err != nil {
		return err
	}
	for _, r := range retries {
		gen := r.Generation
		_ = DataSyncSingleEntry(ctx, c.stateCache, c.resolver, c.syncer, errorRepo, c.errLog, r.BucketShard, 1, &gen, r.Timestamp, true, nil, 0, "")
	}

	page, err := c.remote.DataLogList(ctx, shard, st.Marker)
	if err != nil {
		return err
	}

	var persistMu sync.Mutex
	var persistErr error
	tracker := NewMarkerTracker(1, func(marker string, pos int64, ts time.Time) {
		persistMu.Lock()
		defer persistMu.Unlock()
		persisted := st
		persisted.Marker = marker
		raw, err := json.Marshal(persisted)
		if err != nil {
			persistErr = Error.Wrap(err)
			return
		}
		if err := c.client.Operate(ctx, ref, objstore.WriteOp{SetBytes: raw}); err != nil {
			persistErr = Error.Wrap(err)
		}
	})

	var wg sync.WaitGroup
	for i, e := range page.Entries {
		if e.Entry.Key == "" {
			continue
		}
		pos := int64(i)
		// Start must run in position order, from this sequential loop.
		tracker.Start(e.LogID, pos, e.Entry.Timestamp)
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = DataSyncSingleEntry(ctx, c.stateCache, c.resolver, c.syncer, errorRepo, c.errLog, e.Entry.Key, 1, nil, e.Entry.Timestamp, false, tracker, pos, e.LogID)
		}()
	}
	wg.Wait()
	if persistErr != nil {
		return persistErr
	}

	if hm, _ := tracker.HighMark(); hm != "" {
		st.Marker = hm
	} else if page.Marker != "" {
		st.Marker = page.Marker
	} else if len(page.Entries) > 0 {
		st.Marker = page.Entries[len(page.Entries)-1].LogID
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := c.client.Operate(ctx, ref, objstore.WriteOp{SetBytes: raw}); err != nil {
		return Error.Wrap(err)
	}

	if !page.Truncated {
		timer := time.NewTimer(incrementalIntervalDefault)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// DrainModified implements §4.4.3 step 1: sync bucket-shards signaled via
// the wakeup path with an empty marker and zero timestamp, so no
// marker-tracker update occurs for them.
func (c *Coordinator) DrainModified(ctx context.Context, shard int, src ModifiedShardsSource) {
	modified := src.ReadClearModified()
	keys, ok := modified[shard]
	if !ok {
		return
	}
	errorRepo := NewErrorRepo(c.client, c.retryRef(shard))
	for key := range keys {
		_ = DataSyncSingleEntry(ctx, c.stateCache, c.resolver, c.syncer, errorRepo, c.errLog, key, 1, nil, time.Time{}, false, nil, 0, "")
	}
}

// SyncErrors returns the recent sync-error log (§7).
func (c *Coordinator) SyncErrors() []SyncErrorEntry {
	return c.errLog.Recent()
}
