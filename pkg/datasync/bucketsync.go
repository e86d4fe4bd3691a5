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
)

// BucketSyncState is the top-level per-(source_bs, dest_bucket) status
// discriminator (§4.4.7).
type BucketSyncState int

// Bucket sync states.
const (
	BucketSyncInit BucketSyncState = iota
	BucketSyncFull
	BucketSyncIncremental
	BucketSyncStopped
)

// bucketSyncStatus is the persisted status object for one (source_bs,
// dest_bucket) pair (§4.4.7, §6.3 "bucket.full-sync-status...").
type bucketSyncStatus struct {
	State          BucketSyncState `json:"state"`
	IncrementalGen uint64          `json:"incremental_gen"`
	ShardsDone     map[int]bool    `json:"shards_done_with_gen,omitempty"`
}

// shardSyncStatus is the persisted per-shard marker
// ("bucket.sync-status...<bucket_shard_key>").
type shardSyncStatus struct {
	Position  int64     `json:"position"`
	Marker    string    `json:"marker"`
	Timestamp time.Time `json:"timestamp"`
}

// RemoteBucketClient is the subset of gwhttp.Client bucket sync needs,
// narrowed to an interface so tests can fake it.
type RemoteBucketClient interface {
	BucketIndexInfo(ctx context.Context, bucketInstance string) (gwhttp.BucketIndexInfoResponse, error)
	BucketIndexList(ctx context.Context, bucketInstance string, gen uint64, marker string) (gwhttp.BucketIndexListResponse, error)
	ListVersions(ctx context.Context, bucket, keyMarker, versionIDMarker string) (gwhttp.VersionsListResponse, error)
}

// ObjectFetcher fetches or deletes one object version as directed by a
// post-squash bilog entry (§4.4.9). Implementations apply policy filters,
// ACL translation, tag filters, and storage-class selection.
type ObjectFetcher interface {
	// FetchObject replicates object/instance from the remote source into
	// dest, honoring pipe's filters.
	FetchObject(ctx context.Context, pipe Pipe, object, instance string) error
	// DeleteObject removes object/instance from dest.
	DeleteObject(ctx context.Context, pipe Pipe, object, instance string) error
	// CreateDeleteMarker writes a delete-marker for object in dest.
	CreateDeleteMarker(ctx context.Context, pipe Pipe, object, instance string) error
}

// objFetchRetries bounds the ECANCELED retry of a single object fetch
// (§4.4.9: "Retry up to 10 times on ECANCELED").
const objFetchRetries = 10

// BucketSyncer runs the §4.4.7-4.4.9 state machine for one
// (pipe, dest shard) pair.
type BucketSyncer struct {
	client     objstore.Client
	statusPool string
	remote     RemoteBucketClient
	fetcher    ObjectFetcher
	archive    *ArchiveObjectFetcher // non-nil enables §4.4.10 overrides on Pipe.Archive pipes
	tracker    *MarkerTracker        // bucket-inc marker tracker, window 10
	log        *zap.Logger

	perKeyMu   sync.Mutex
	perKeyLock map[string]*sync.Mutex // per (object,instance) serialization
}

// NewBucketSyncer constructs a syncer backed by client for status objects
// in statusPool, calling remote for metadata and fetcher to move object
// bytes.
func NewBucketSyncer(client objstore.Client, statusPool string, remote RemoteBucketClient, fetcher ObjectFetcher, tracker *MarkerTracker, log *zap.Logger) *BucketSyncer {
	return &BucketSyncer{
		client:     client,
		statusPool: statusPool,
		remote:     remote,
		fetcher:    fetcher,
		tracker:    tracker,
		log:        log,
		perKeyLock: map[string]*sync.Mutex{},
	}
}

// WithArchiveFetcher attaches the archive-zone fetcher used for pipes
// where Pipe.Archive is set (§4.4.10).
func (s *BucketSyncer) WithArchiveFetcher(archive *ArchiveObjectFetcher) *BucketSyncer {
	s.archive = archive
	return s
}

func (s *BucketSyncer) fetcherFor(pipe Pipe) ObjectFetcher {
	return FetcherFor(pipe, s.fetcher, s.archive)
}

func (s *BucketSyncer) statusRef(pipe Pipe) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: s.statusPool, OID: "bucket.full-sync-status." + pipe.Source.Zone + ":" + pipe.Dest.Name + ":" + pipe.Source.Name}
}

func (s *BucketSyncer) shardStatusRef(pipe Pipe, shard int) objstore.ObjectRef {
	bsKey := pipe.Source.Name + ":" + itoaShard(shard)
	return objstore.ObjectRef{Pool: s.statusPool, OID: "bucket.sync-status." + pipe.Source.Zone + ":" + pipe.Dest.Name + ":" + pipe.Source.Name + ":" + bsKey}
}

func itoaShard(shard int) string {
	if shard < 0 {
		return "unsharded"
	}
	return strconv.Itoa(shard)
}

func (s *BucketSyncer) readStatus(ctx context.Context, ref objstore.ObjectRef) (bucketSyncStatus, uint64, error) {
	raw, err := s.client.ReadBytes(ctx, ref)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return bucketSyncStatus{}, 0, gwerrs.NotFound
	}
	if err != nil {
		return bucketSyncStatus{}, 0, Error.Wrap(err)
	}
	var st bucketSyncStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return bucketSyncStatus{}, 0, Error.Wrap(err)
	}
	ver, err := s.client.ObjVersion(ctx, ref)
	if err != nil {
		return bucketSyncStatus{}, 0, Error.Wrap(err)
	}
	return st, ver, nil
}

func (s *BucketSyncer) writeStatus(ctx context.Context, ref objstore.ObjectRef, version uint64, st bucketSyncStatus) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return Error.Wrap(err)
	}
	return s.client.OperateCAS(ctx, ref, version, objstore.WriteOp{SetBytes: raw})
}

// SyncBucketShard implements BucketShardSyncer, driving §4.4.7's state
// machine for this pipe/shard/gen.
func (s *BucketSyncer) SyncBucketShard(ctx context.Context, pipe Pipe, shard int, gen *uint64) (time.Time, error) {
	ref := s.statusRef(pipe)
	st, version, err := s.readStatus(ctx, ref)
	if gwerrs.Is(err, gwerrs.NotFound) {
		st = bucketSyncStatus{State: BucketSyncInit}
		if createErr := s.client.Operate(ctx, ref, objstore.WriteOp{CreateExclusive: true, SetBytes: mustMarshal(st)}); createErr != nil && !gwerrs.Is(createErr, gwerrs.Canceled) {
			return time.Time{}, Error.Wrap(createErr)
		}
		st, version, err = s.readStatus(ctx, ref)
	}
	if err != nil {
		return time.Time{}, err
	}

	if st.State != BucketSyncIncremental {
		lse, lerr := lease.Acquire(ctx, s.client, ref, "bucket-sync-init", 30*time.Second, 0.5)
		if lerr != nil {
			return time.Time{}, gwerrs.Busy
		}
		defer func() { _ = lse.Release(ctx) }()
		st, version, err = s.readStatus(ctx, ref)
		if err != nil {
			return time.Time{}, err
		}
	}

	switch st.State {
	case BucketSyncInit, BucketSyncStopped:
		if err := s.initBucketFullSyncStatus(ctx, pipe, ref, version, &st); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, gwerrs.Again
	case BucketSyncFull:
		if err := s.bucketFullSync(ctx, pipe, ref, version, &st); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, gwerrs.Again
	case BucketSyncIncremental:
		if gen != nil && *gen > st.IncrementalGen {
			return time.Time{}, gwerrs.Again
		}
		if gen != nil && *gen < st.IncrementalGen {
			return time.Now(), nil // already past this generation
		}
		return s.bucketShardIncrementalSync(ctx, pipe, shard, st.IncrementalGen)
	default:
		return time.Time{}, Error.New("unknown bucket sync state %d", st.State)
	}
}

func mustMarshal(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err) // only ever called with this package's own serializable types
	}
	return raw
}

// initBucketFullSyncStatus implements the Init|Stopped -> Full transition
// (§4.4.7): it fetches remote bilog info and writes the remote's whole
// max_marker as the marker of shard 0 only; no other shard's status is
// seeded. The bucket always moves to Full, never straight to Incremental.
func (s *BucketSyncer) initBucketFullSyncStatus(ctx context.Context, pipe Pipe, ref objstore.ObjectRef, version uint64, st *bucketSyncStatus) error {
	info, err := s.remote.BucketIndexInfo(ctx, pipe.Source.Name)
	if err != nil {
		return err
	}

	shardStatus := shardSyncStatus{Marker: info.MaxMarker}
	raw, err := json.Marshal(shardStatus)
	if err != nil {
		return Error.Wrap(err)
	}
	shardRef := s.shardStatusRef(pipe, 0)
	if err := s.client.Operate(ctx, shardRef, objstore.WriteOp{SetBytes: raw}); err != nil {
		return Error.Wrap(err)
	}

	st.IncrementalGen = info.LatestGen
	st.State = BucketSyncFull
	return s.writeStatus(ctx, ref, version, *st)
}

// bucketFullSync implements the Full state: lists the remote bucket
// (versions) and fetches each surviving object (§4.4.7 "Full").
func (s *BucketSyncer) bucketFullSync(ctx context.Context, pipe Pipe, ref objstore.ObjectRef, version uint64, st *bucketSyncStatus) error {
	keyMarker, versionMarker := "", ""
	for {
		page, err := s.remote.ListVersions(ctx, pipe.Source.Name, keyMarker, versionMarker)
		if err != nil {
			return err
		}
		for _, e := range page.Entries {
			if !matchesFilter(pipe, e.Key) {
				continue
			}
			if err := s.fetchWithRetry(ctx, pipe, e.Key, e.VersionID); err != nil && !gwerrs.Is(err, gwerrs.PreconditionFailed) {
				return err
			}
		}
		if !page.IsTruncated {
			break
		}
		keyMarker, versionMarker = page.KeyMarker, page.VersionIDMarker
	}

	st.State = BucketSyncIncremental
	return s.writeStatus(ctx, ref, version, *st)
}

func matchesFilter(pipe Pipe, key string) bool {
	if pipe.PrefixFilter == "" {
		return true
	}
	return len(key) >= len(pipe.PrefixFilter) && key[:len(pipe.PrefixFilter)] == pipe.PrefixFilter
}

func (s *BucketSyncer) fetchWithRetry(ctx context.Context, pipe Pipe, object, instance string) error {
	var err error
	for attempt := 0; attempt < objFetchRetries; attempt++ {
		err = s.fetcherFor(pipe).FetchObject(ctx, pipe, object, instance)
		if err == nil || !gwerrs.Is(err, gwerrs.Canceled) {
			return err
		}
	}
	return err
}

// bucketShardIncrementalSync implements §4.4.8.
func (s *BucketSyncer) bucketShardIncrementalSync(ctx context.Context, pipe Pipe, shard int, gen uint64) (time.Time, error) {
	shardRef := s.shardStatusRef(pipe, shard)
	raw, err := s.client.ReadBytes(ctx, shardRef)
	var shardSt shardSyncStatus
	if err == nil {
		if jerr := json.Unmarshal(raw, &shardSt); jerr != nil {
			return time.Time{}, Error.Wrap(jerr)
		}
	} else if !gwerrs.Is(err, gwerrs.NotFound) {
		return time.Time{}, Error.Wrap(err)
	}

	bucketInstance := pipe.Source.Name
	page, err := s.remote.BucketIndexList(ctx, bucketInstance, gen, shardSt.Marker)
	if err != nil {
		return time.Time{}, err
	}

	squashed := squashBilog(page.Entries)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	highMarker := shardSt.Marker

	for i, entry := range page.Entries {
		entry := entry
		pos := int64(i)
		highMarker = entry.LogID
		if !squashed[i] {
			continue // superseded within this page's squash map
		}
		if skipBilogEntry(entry) {
			continue
		}
		if s.tracker != nil {
			// Start must be called in position order, from this
			// sequential loop — not from inside the goroutine below,
			// whose scheduling order is not guaranteed.
			s.tracker.Start(entry.LogID, pos, entry.Timestamp)
		}
		lk := s.lockFor(bilogKey(entry))
		var objLk *sync.Mutex
		if isOLHOp(entry.Op) {
			// OLH ops must also serialize per object name, not just per
			// (object, instance): a LINK_OLH on one instance can race an
			// UNLINK_INSTANCE/LINK_OLH_DM on a different instance of the
			// same object, and squashBilog only squashes within one
			// (object, instance) key (§4.4.8 step 4, §5).
			objLk = s.lockFor(entry.Object)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if objLk != nil {
				objLk.Lock()
				defer objLk.Unlock()
			}
			lk.Lock()
			defer lk.Unlock()
			if err := s.bucketSyncSingleEntry(ctx, pipe, entry); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			if s.tracker != nil {
				s.tracker.Finish(pos)
			}
		}()
	}
	wg.Wait()

	newSt := shardSyncStatus{Marker: highMarker, Timestamp: time.Now()}
	if s.tracker != nil {
		if hm, _ := s.tracker.HighMark(); hm != "" {
			newSt.Marker = hm
		}
	}
	if raw, merr := json.Marshal(newSt); merr == nil {
		_ = s.client.Operate(ctx, shardRef, objstore.WriteOp{SetBytes: raw})
	}

	if !page.Truncated && page.NextLog != nil {
		done, derr := s.bucketShardIsDone(ctx, pipe, shard, gen, page.NextLog)
		if derr != nil {
			return time.Time{}, derr
		}
		if done {
			return time.Now(), nil
		}
	}
	return newSt.Timestamp, firstErr
}

// bilogKey identifies the (object, instance) pair an entry's serialization
// and squashing keys off.
func bilogKey(e gwhttp.BilogEntry) string { return e.Object + "\x00" + e.Instance }

// squashBilog computes, within one bilog page, which entries carry the
// single newest op for their (object, instance), preferring
// OLH-epoch-bearing ops over non-OLH ones at equal timestamps (§4.4.8 step
// 2). The returned slice is indexed by entries' position.
func squashBilog(entries []gwhttp.BilogEntry) []bool {
	type best struct {
		idx      int
		ts       time.Time
		hasEpoch bool
	}
	bestByKey := map[string]best{}
	for i, e := range entries {
		key := bilogKey(e)
		cur, ok := bestByKey[key]
		if !ok || e.Timestamp.After(cur.ts) || (e.Timestamp.Equal(cur.ts) && e.OLHEpoch != 0 && !cur.hasEpoch) {
			bestByKey[key] = best{idx: i, ts: e.Timestamp, hasEpoch: e.OLHEpoch != 0}
		}
	}
	survive := make([]bool, len(entries))
	for _, b := range bestByKey {
		survive[b.idx] = true
	}
	return survive
}

// skipBilogEntry implements §4.4.8 step 3's skip list.
func skipBilogEntry(e gwhttp.BilogEntry) bool {
	switch e.Op {
	case gwhttp.BilogSyncStop, gwhttp.BilogSyncResync, gwhttp.BilogCancel:
		return true
	}
	if e.State != "" && e.State != "complete" {
		return true
	}
	for _, z := range e.ZoneTrace {
		if z == e.Instance {
			return true // zone-trace self-loop
		}
	}
	return false
}

// isOLHOp reports whether op affects an object's OLH (object-link-head)
// linkage, the class of ops §4.4.8 step 4 requires to serialize per object
// name in addition to per (object, instance).
func isOLHOp(op gwhttp.BilogOp) bool {
	switch op {
	case gwhttp.BilogLinkOLH, gwhttp.BilogLinkOLHDeleteMarker, gwhttp.BilogUnlinkInstance:
		return true
	}
	return false
}

func (s *BucketSyncer) lockFor(key string) *sync.Mutex {
	s.perKeyMu.Lock()
	defer s.perKeyMu.Unlock()
	lk, ok := s.perKeyLock[key]
	if !ok {
		lk = &sync.Mutex{}
		s.perKeyLock[key] = lk
	}
	return lk
}

// bucketShardIsDone implements §4.4.8 step 5.
func (s *BucketSyncer) bucketShardIsDone(ctx context.Context, pipe Pipe, shard int, gen uint64, next *gwhttp.NextLog) (bool, error) {
	ref := s.statusRef(pipe)
	st, version, err := s.readStatus(ctx, ref)
	if err != nil {
		return false, err
	}
	if st.ShardsDone == nil {
		st.ShardsDone = map[int]bool{}
	}
	st.ShardsDone[shard] = true

	allDone := len(st.ShardsDone) >= next.NumShards
	for i := 0; i < next.NumShards && allDone; i++ {
		if !st.ShardsDone[i] {
			allDone = false
		}
	}
	if allDone {
		st.ShardsDone = map[int]bool{}
		st.IncrementalGen = next.Generation
	}
	if err := s.writeStatus(ctx, ref, version, st); err != nil {
		return false, err
	}
	return allDone, nil
}

// bucketSyncSingleEntry implements §4.4.9 for one post-squash bilog entry.
func (s *BucketSyncer) bucketSyncSingleEntry(ctx context.Context, pipe Pipe, e gwhttp.BilogEntry) error {
	var err error
	fetcher := s.fetcherFor(pipe)
	switch e.Op {
	case gwhttp.BilogAdd, gwhttp.BilogLinkOLH:
		for attempt := 0; attempt < objFetchRetries; attempt++ {
			err = fetcher.FetchObject(ctx, pipe, e.Object, e.Instance)
			if err == nil || !gwerrs.Is(err, gwerrs.Canceled) {
				break
			}
		}
	case gwhttp.BilogDel, gwhttp.BilogUnlinkInstance:
		err = fetcher.DeleteObject(ctx, pipe, e.Object, e.Instance)
	case gwhttp.BilogLinkOLHDeleteMarker:
		err = fetcher.CreateDeleteMarker(ctx, pipe, e.Object, e.Instance)
	default:
		return nil
	}

	switch {
	case err == nil:
		return nil
	case gwerrs.Is(err, gwerrs.PreconditionFailed):
		return nil // soft skip: newer local change
	case gwerrs.Is(err, gwerrs.NotFound), gwerrs.Is(err, gwerrs.PermissionDenied):
		return nil // swallowed and not repo'd; no count is kept
	default:
		return err
	}
}
