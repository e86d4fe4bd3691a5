// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

// MaxShards bounds a deployment's LC shard count (§6.3 "lc.<n> (n ∈ [0,
// max_objs ∧ 7877))").
const MaxShards = 7877

// DefaultShards is the shard count a fresh deployment starts with.
const DefaultShards = 32

// EntryStatus is one queue entry's lifecycle processing state.
type EntryStatus int

// Entry statuses (§3 "Lifecycle queue entry").
const (
	StatusUninitial EntryStatus = iota
	StatusProcessing
	StatusFailed
	StatusComplete
)

// Entry is one bucket's queue slot within a shard (§3 "Lifecycle queue
// entry").
type Entry struct {
	BucketKey string // "tenant:name:marker", rgwkey.Bucket.LifecycleKey()
	StartTime time.Time
	Status    EntryStatus
}

type entryValue struct {
	StartTime time.Time   `json:"start_time"`
	Status    EntryStatus `json:"status"`
}

// Header is a shard's small out-of-band state: when this shard's daily
// sweep last started, how far bucket_lc_process has walked through the
// shard's omap, and which entry (if any) is currently dispatched to a
// worker (§4.6 steps 2-5).
type Header struct {
	StartDate time.Time `json:"start_date"`
	Marker    string    `json:"marker"`

	// CurrentBucket/CurrentSince cache the entry currently marked
	// Processing, so a second scanner racing this shard can tell it's
	// still owned (step 2: "its cached processing-entry is Processing
	// and not expired") without a full omap scan.
	CurrentBucket string    `json:"current_bucket,omitempty"`
	CurrentSince  time.Time `json:"current_since,omitempty"`
}

// ShardRef names shard n's object (§6.3 "lc.<n>").
func ShardRef(pool string, n int) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: pool, OID: fmt.Sprintf("lc.%d", n)}
}

// Queue is the persistent, shard-partitioned lifecycle queue.
type Queue struct {
	client    objstore.Client
	pool      string
	numShards int
}

// NewQueue returns a queue with numShards shards (falls back to
// DefaultShards if numShards <= 0), capped at MaxShards.
func NewQueue(client objstore.Client, pool string, numShards int) *Queue {
	if numShards <= 0 {
		numShards = DefaultShards
	}
	if numShards > MaxShards {
		numShards = MaxShards
	}
	return &Queue{client: client, pool: pool, numShards: numShards}
}

// NumShards returns the queue's shard count.
func (q *Queue) NumShards() int {
	return q.numShards
}

// ShardRef returns shard n's ref within q's pool.
func (q *Queue) ShardRef(n int) objstore.ObjectRef {
	return ShardRef(q.pool, n)
}

// ReadHeader reads shard n's header, returning a zero Header if the shard
// object doesn't exist yet.
func (q *Queue) ReadHeader(ctx context.Context, n int) (Header, uint64, error) {
	ref := q.ShardRef(n)
	raw, err := q.client.GetAttr(ctx, ref, "header")
	if gwerrs.Is(err, gwerrs.NotFound) {
		return Header{}, 0, nil
	}
	if err != nil {
		return Header{}, 0, Error.Wrap(err)
	}
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return Header{}, 0, Error.Wrap(err)
	}
	version, err := q.client.ObjVersion(ctx, ref)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return h, 0, nil
	}
	if err != nil {
		return Header{}, 0, Error.Wrap(err)
	}
	return h, version, nil
}

// WriteHeaderCAS persists header on shard n iff still at expectVersion.
func (q *Queue) WriteHeaderCAS(ctx context.Context, n int, expectVersion uint64, header Header) error {
	raw, err := json.Marshal(header)
	if err != nil {
		return Error.Wrap(err)
	}
	return q.client.OperateCAS(ctx, q.ShardRef(n), expectVersion, objstore.WriteOp{
		SetAttr: map[string][]byte{"header": raw},
	})
}

// PutEntry writes (or overwrites) bucketKey's queue entry on shard n.
func (q *Queue) PutEntry(ctx context.Context, n int, entry Entry) error {
	raw, err := json.Marshal(entryValue{StartTime: entry.StartTime, Status: entry.Status})
	if err != nil {
		return Error.Wrap(err)
	}
	return q.client.Operate(ctx, q.ShardRef(n), objstore.WriteOp{
		AppendOMap: []objstore.OMapEntry{{Key: entry.BucketKey, Value: raw}},
	})
}

// RemoveEntry deletes bucketKey's queue entry on shard n. Idempotent.
func (q *Queue) RemoveEntry(ctx context.Context, n int, bucketKey string) error {
	err := q.client.Operate(ctx, q.ShardRef(n), objstore.WriteOp{
		RemoveOMapRange: &objstore.OMapRange{Start: bucketKey, End: bucketKey + "\x00"},
	})
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil
	}
	return Error.Wrap(err)
}

// ListEntries lists shard n's queue entries, paged from marker.
func (q *Queue) ListEntries(ctx context.Context, n int, marker string, max int) ([]Entry, string, bool, error) {
	entries, more, err := q.client.ListOMap(ctx, q.ShardRef(n), objstore.OMapRange{Start: marker}, max)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, Error.Wrap(err)
	}
	out := make([]Entry, 0, len(entries))
	var next string
	for _, e := range entries {
		var v entryValue
		if err := json.Unmarshal(e.Value, &v); err != nil {
			continue
		}
		out = append(out, Entry{BucketKey: e.Key, StartTime: v.StartTime, Status: v.Status})
		next = e.Key
	}
	return out, next, more, nil
}

// NextEntryAfter returns the first queue entry with key strictly greater
// than marker (§4.6 step 5: "get the next entry after header.marker"), and
// whether one was found.
func (q *Queue) NextEntryAfter(ctx context.Context, n int, marker string) (Entry, bool, error) {
	entries, more, err := q.client.ListOMap(ctx, q.ShardRef(n), objstore.OMapRange{Start: marker + "\x00"}, 1)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, Error.Wrap(err)
	}
	_ = more
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	var v entryValue
	if err := json.Unmarshal(entries[0].Value, &v); err != nil {
		return Entry{}, false, Error.Wrap(err)
	}
	return Entry{BucketKey: entries[0].Key, StartTime: v.StartTime, Status: v.Status}, true, nil
}
