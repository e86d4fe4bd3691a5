// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/private/gwlog"
)

// ErrorRepo persists sync obligations that failed with a repo-worthy error,
// for retry on a later poll (§4.4.4, §6.3 "...shard.<source_zone>.<i>.retry").
type ErrorRepo struct {
	client objstore.Client
	ref    objstore.ObjectRef
}

// NewErrorRepo returns a repo backed by ref, one per (source zone, shard).
func NewErrorRepo(client objstore.Client, ref objstore.ObjectRef) *ErrorRepo {
	return &ErrorRepo{client: client, ref: ref}
}

// errorRepoKey encodes (bucket_shard, gen) as the omap key.
type errorRepoKey struct {
	BucketShard string `json:"bs"`
	Generation  uint64 `json:"gen"`
}

func (k errorRepoKey) encode() string {
	raw, _ := json.Marshal(k)
	return string(raw)
}

type errorRepoValue struct {
	Timestamp time.Time `json:"ts"`
}

// Put records a retry obligation for (bucketShard, gen) with timestamp ts,
// overwriting any existing entry for the same key (§4.4.4 "write
// (bucket_shard, gen) -> timestamp into the error-repo").
func (r *ErrorRepo) Put(ctx context.Context, bucketShard string, gen uint64, ts time.Time) error {
	key := errorRepoKey{BucketShard: bucketShard, Generation: gen}.encode()
	value, err := json.Marshal(errorRepoValue{Timestamp: ts})
	if err != nil {
		return Error.Wrap(err)
	}
	return r.client.Operate(ctx, r.ref, objstore.WriteOp{
		AppendOMap: []objstore.OMapEntry{{Key: key, Value: value}},
	})
}

// Remove deletes the (bucketShard, gen) entry, but only if its stored
// timestamp still equals ts — the "conditional on timestamp match" clause
// of §4.4.4/Scenario 5. A mismatch (someone else recorded a newer failure
// since) is not an error; the entry is simply left for that newer retry.
func (r *ErrorRepo) Remove(ctx context.Context, bucketShard string, gen uint64, ts time.Time) error {
	key := errorRepoKey{BucketShard: bucketShard, Generation: gen}.encode()
	entries, _, err := r.client.ListOMap(ctx, r.ref, objstore.OMapRange{Start: key, End: key + "\x00"}, 1)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil
	}
	if err != nil {
		return Error.Wrap(err)
	}
	if len(entries) == 0 || entries[0].Key != key {
		return nil
	}
	var stored errorRepoValue
	if err := json.Unmarshal(entries[0].Value, &stored); err != nil {
		return Error.Wrap(err)
	}
	if !stored.Timestamp.Equal(ts) {
		return nil
	}
	return r.client.Operate(ctx, r.ref, objstore.WriteOp{
		RemoveOMapRange: &objstore.OMapRange{Start: key, End: key + "\x00"},
	})
}

// RetryEntry is one due error-repo obligation.
type RetryEntry struct {
	BucketShard string
	Generation  uint64
	Timestamp   time.Time
}

// List returns up to max pending retry obligations (§4.4.3 step 2: "list
// the error-repo omap (up to 10 keys)").
func (r *ErrorRepo) List(ctx context.Context, max int) ([]RetryEntry, error) {
	entries, _, err := r.client.ListOMap(ctx, r.ref, objstore.OMapRange{}, max)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]RetryEntry, 0, len(entries))
	for _, e := range entries {
		var key errorRepoKey
		if err := json.Unmarshal([]byte(e.Key), &key); err != nil {
			continue
		}
		var value errorRepoValue
		if err := json.Unmarshal(e.Value, &value); err != nil {
			continue
		}
		out = append(out, RetryEntry{BucketShard: key.BucketShard, Generation: key.Generation, Timestamp: value.Timestamp})
	}
	return out, nil
}

// SyncErrorEntry is one entry of the user-visible sync-error log (§7).
type SyncErrorEntry struct {
	BucketShard string
	Generation  uint64
	Timestamp   time.Time
	Err         string
	At          time.Time
}

// SyncErrorLog is a fixed-capacity ring buffer of recent sync failures,
// inspectable via admin CLI (§7 "sync errors are appended to a
// ring-buffered sync-error log").
type SyncErrorLog struct {
	mu  sync.Mutex
	buf *gwlog.RingBuffer[SyncErrorEntry]
}

// NewSyncErrorLog returns a ring buffer holding up to capacity entries.
func NewSyncErrorLog(capacity int) *SyncErrorLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &SyncErrorLog{buf: gwlog.NewRingBuffer[SyncErrorEntry](capacity)}
}

// Append records e, overwriting the oldest entry once capacity is reached.
func (l *SyncErrorLog) Append(e SyncErrorEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Append(e)
}

// Recent returns the buffered entries, oldest first.
func (l *SyncErrorLog) Recent() []SyncErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Recent()
}
