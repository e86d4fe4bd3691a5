// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datalog

import (
	"context"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/pkg/rgwkey"
	"github.com/rgwsync/gateway/private/sync2"
)

var mon = monkit.Package()

// DefaultWindow is W, the default per-bucket-shard coalescing window (§4.3).
const DefaultWindow = 30 * time.Second

// maxCoalesceRetries bounds add_entry's retry loop for the "push failed but
// the window elapsed while it was in flight" case (§4.3 step 8).
const maxCoalesceRetries = 5

// changeStatus is the coalescing record for one bucket-shard (§4.3).
type changeStatus struct {
	mu            sync.Mutex
	cond          *sync.Cond
	curExpiration time.Time
	curSent       time.Time
	pending       bool
	lastErr       error
}

// ChangeLog is the data-change log: it coalesces a storm of per-bucket-shard
// add_entry calls into at most one push per bucket-shard per window, and
// runs a renewal loop that keeps active bucket-shards covered without a
// caller present to trigger the push (§4.3).
type ChangeLog struct {
	client      objstore.Client
	generations *Generations
	numShards   int
	window      time.Duration
	log         *zap.Logger

	cacheMu sync.Mutex
	cache   *lru.Cache // key -> *changeStatus

	modMu    sync.RWMutex
	modified map[int]map[string]struct{} // log shard -> modified bucket-shard keys

	renewMu  sync.Mutex
	renewSet map[int]map[string]struct{} // log shard -> bucket-shard keys due for renewal

	cycle *sync2.Cycle
}

// NewChangeLog constructs a DCL fronting generations, hashing bucket-shards
// across numShards log shards and coalescing within window.
func NewChangeLog(client objstore.Client, generations *Generations, numShards int, window time.Duration, cacheSize int, log *zap.Logger) (*ChangeLog, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &ChangeLog{
		client:      client,
		generations: generations,
		numShards:   numShards,
		window:      window,
		log:         log,
		cache:       cache,
		modified:    map[int]map[string]struct{}{},
		renewSet:    map[int]map[string]struct{}{},
	}, nil
}

func entryKey(bucket string, shardID int32) string {
	return bucket + ":" + strconv.FormatInt(int64(shardID), 10)
}

// AddEntry implements add_entry (§4.3): at most one log push per
// bucket-shard per window, with concurrent callers for the same
// bucket-shard sharing the one in-flight push's result.
func (d *ChangeLog) AddEntry(ctx context.Context, bucket string, shardID int32) (err error) {
	defer mon.Task()(&ctx)(&err)

	logShard := rgwkey.LogShard(bucket, shardID, d.numShards)
	key := entryKey(bucket, shardID)
	d.markModified(logShard, key)
	cs := d.statusFor(key)

	for attempt := 0; attempt < maxCoalesceRetries; attempt++ {
		done, err := d.tryAddEntry(ctx, cs, logShard, key)
		if done {
			return err
		}
	}
	return Error.New("add_entry: exceeded %d coalescing retries for %s", maxCoalesceRetries, key)
}

// tryAddEntry runs one pass of the add_entry algorithm. done is false only
// when the window elapsed while a push (ours or another caller's) was in
// flight and the caller should re-evaluate from the top (§4.3 step 8).
func (d *ChangeLog) tryAddEntry(ctx context.Context, cs *changeStatus, logShard int, key string) (done bool, err error) {
	cs.mu.Lock()
	now := time.Now()
	if now.Before(cs.curExpiration) {
		cs.mu.Unlock()
		d.enqueueRenewal(logShard, key)
		return true, nil
	}
	if cs.pending {
		for cs.pending {
			cs.cond.Wait()
		}
		waitErr := cs.lastErr
		stillCovered := time.Now().Before(cs.curExpiration)
		cs.mu.Unlock()
		if waitErr == nil {
			return true, nil
		}
		if stillCovered {
			return true, waitErr
		}
		return false, nil
	}

	cs.pending = true
	sent := now
	cs.curSent = sent
	cs.curExpiration = sent.Add(d.window) // tentative, firmed up below
	cs.mu.Unlock()

	_, backend, ok := d.generations.Current()
	if !ok {
		genErr := Error.New("add_entry: no current log generation")
		cs.mu.Lock()
		cs.pending = false
		cs.lastErr = genErr
		cs.cond.Broadcast()
		cs.mu.Unlock()
		return true, genErr
	}

	change := DataChange{EntityType: EntityBucket, Key: key, Timestamp: sent}
	prepared := backend.Prepare(sent, key, change)
	pushErr := backend.Push(ctx, logShard, []PreparedEntry{prepared})

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pending = false
	if pushErr == nil {
		cs.curExpiration = sent.Add(d.window)
		cs.lastErr = nil
		cs.cond.Broadcast()
		return true, nil
	}
	cs.lastErr = pushErr
	windowElapsed := time.Now().After(cs.curExpiration)
	cs.cond.Broadcast()
	if windowElapsed {
		return false, nil
	}
	return true, pushErr
}

func (d *ChangeLog) statusFor(key string) *changeStatus {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if v, ok := d.cache.Get(key); ok {
		return v.(*changeStatus)
	}
	cs := &changeStatus{}
	cs.cond = sync.NewCond(&cs.mu)
	d.cache.Add(key, cs)
	return cs
}

// markModified records key as touched on logShard, using a read check
// before taking the write lock so the common repeat-write case never
// blocks on the exclusive lock (§4.3 step 2).
func (d *ChangeLog) markModified(logShard int, key string) {
	d.modMu.RLock()
	if set, ok := d.modified[logShard]; ok {
		if _, exists := set[key]; exists {
			d.modMu.RUnlock()
			return
		}
	}
	d.modMu.RUnlock()

	d.modMu.Lock()
	if d.modified[logShard] == nil {
		d.modified[logShard] = map[string]struct{}{}
	}
	d.modified[logShard][key] = struct{}{}
	d.modMu.Unlock()
}

// ReadClearModified implements read_clear_modified (§4.3): returns the
// accumulated modified set and atomically resets it, for the IDSE wakeup
// path to consume.
func (d *ChangeLog) ReadClearModified() map[int]map[string]struct{} {
	d.modMu.Lock()
	out := d.modified
	d.modified = map[int]map[string]struct{}{}
	d.modMu.Unlock()
	return out
}

func (d *ChangeLog) enqueueRenewal(logShard int, key string) {
	d.renewMu.Lock()
	if d.renewSet[logShard] == nil {
		d.renewSet[logShard] = map[string]struct{}{}
	}
	d.renewSet[logShard][key] = struct{}{}
	d.renewMu.Unlock()
}

// RunRenewalLoop runs the ¾W renewal worker until ctx is canceled or Stop
// is called (§4.3 "Renewal loop").
func (d *ChangeLog) RunRenewalLoop(ctx context.Context) error {
	d.cycle = sync2.NewCycle(d.window * 3 / 4)
	return d.cycle.Run(ctx, d.renewOnce)
}

// Stop notifies the renewal worker to exit, per §4.3 "Shutdown notifies
// this worker."
func (d *ChangeLog) Stop() {
	if d.cycle != nil {
		d.cycle.Stop()
	}
}

func (d *ChangeLog) renewOnce(ctx context.Context) error {
	d.renewMu.Lock()
	pending := d.renewSet
	d.renewSet = map[int]map[string]struct{}{}
	d.renewMu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	_, backend, ok := d.generations.Current()
	if !ok {
		return nil
	}

	now := time.Now()
	for logShard, keys := range pending {
		entries := make([]PreparedEntry, 0, len(keys))
		for key := range keys {
			change := DataChange{EntityType: EntityBucket, Key: key, Timestamp: now}
			entries = append(entries, backend.Prepare(now, key, change))
		}
		if err := backend.Push(ctx, logShard, entries); err != nil {
			if d.log != nil {
				d.log.Warn("renewal push failed", zap.Int("log_shard", logShard), zap.Error(err))
			}
			continue
		}
		for key := range keys {
			cs := d.statusFor(key)
			cs.mu.Lock()
			if newExp := now.Add(d.window); newExp.After(cs.curExpiration) {
				cs.curExpiration = newExp
			}
			cs.mu.Unlock()
		}
	}
	return nil
}

// ListEntries implements list_entries against the current generation's
// backend.
func (d *ChangeLog) ListEntries(ctx context.Context, shard int, max int, fromMarker string) ([]LogEntry, string, bool, error) {
	_, backend, ok := d.generations.Current()
	if !ok {
		return nil, "", false, Error.New("list_entries: no current log generation")
	}
	return backend.List(ctx, shard, max, fromMarker)
}

// TrimEntries implements trim_entries. Failures are reported but are never
// fatal to write paths (§4.3 "Failure semantics").
func (d *ChangeLog) TrimEntries(ctx context.Context, shard int, marker string) error {
	_, backend, ok := d.generations.Current()
	if !ok {
		return Error.New("trim_entries: no current log generation")
	}
	return backend.Trim(ctx, shard, marker)
}

// GetInfo implements get_info against the current generation's backend.
func (d *ChangeLog) GetInfo(ctx context.Context, shard int) (string, time.Time, error) {
	_, backend, ok := d.generations.Current()
	if !ok {
		return "", time.Time{}, Error.New("get_info: no current log generation")
	}
	return backend.GetInfo(ctx, shard)
}

// MaxMarker implements max_marker against the current generation's backend.
func (d *ChangeLog) MaxMarker() string {
	_, backend, ok := d.generations.Current()
	if !ok {
		return maxMarkerOMap
	}
	return backend.MaxMarker()
}
