// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

// maxMarkerOMap is a fixed string of eight nines, guaranteed to compare
// greater than any marker OrderedOMapBackend synthesizes (§4.1).
const maxMarkerOMap = "99999999"

// OrderedOMapBackend stores each shard's entries in an object's ordered
// key-value map, keyed by a synthesized monotonic marker.
type OrderedOMapBackend struct {
	client objstore.Client
	pool   string
	prefix string
	gen    uint64
}

// maxCASRetries bounds the counter-allocation CAS loop in Push (§7: CAS
// loops retry up to a cap, 10 for most).
const maxCASRetries = 10

// NewOrderedOMapBackend returns a backend whose per-shard objects are named
// from prefix/gen (§4.1).
func NewOrderedOMapBackend(client objstore.Client, pool, prefix string, gen uint64) *OrderedOMapBackend {
	return &OrderedOMapBackend{client: client, pool: pool, prefix: prefix, gen: gen}
}

func (b *OrderedOMapBackend) ref(shard int) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: b.pool, OID: ShardObjectName(b.prefix, b.gen, shard)}
}

// Prepare implements LogBackend.
func (b *OrderedOMapBackend) Prepare(now time.Time, key string, change DataChange) PreparedEntry {
	return PreparedEntry{Now: now, Key: key, Payload: change}
}

type omapValue struct {
	Timestamp time.Time  `json:"ts"`
	Entity    EntityType `json:"entity"`
	Key       string     `json:"key"`
}

// Push implements LogBackend. Markers are allocated from a counter kept in
// the shard object's own attributes, advanced atomically with the same CAS
// that appends the batch — the per-shard object is the only coordination
// point, matching a real compound "add many" op against one object.
func (b *OrderedOMapBackend) Push(ctx context.Context, shard int, entries []PreparedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ref := b.ref(shard)
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		version, err := b.client.ObjVersion(ctx, ref)
		if err != nil && !gwerrs.Is(err, gwerrs.NotFound) {
			return Error.Wrap(err)
		}
		counter, err := b.readCounter(ctx, ref)
		if err != nil {
			return Error.Wrap(err)
		}

		op := objstore.WriteOp{}
		next := counter
		for _, e := range entries {
			next++
			marker := fmt.Sprintf("%016d", next)
			v, err := json.Marshal(omapValue{Timestamp: e.Payload.Timestamp, Entity: e.Payload.EntityType, Key: e.Payload.Key})
			if err != nil {
				return Error.Wrap(err)
			}
			op.AppendOMap = append(op.AppendOMap, objstore.OMapEntry{Key: marker, Value: v})
		}
		op.SetAttr = map[string][]byte{"seq": []byte(fmt.Sprintf("%d", next))}

		err = b.client.OperateCAS(ctx, ref, version, op)
		if err == nil {
			return nil
		}
		if !gwerrs.Is(err, gwerrs.Canceled) {
			return Error.Wrap(err)
		}
	}
	return Error.New("push: exceeded %d CAS retries on shard %d", maxCASRetries, shard)
}

func (b *OrderedOMapBackend) readCounter(ctx context.Context, ref objstore.ObjectRef) (uint64, error) {
	raw, err := b.client.GetAttr(ctx, ref, "seq")
	if gwerrs.Is(err, gwerrs.NotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	if _, err := fmt.Sscanf(string(raw), "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

// PushOne implements LogBackend.
func (b *OrderedOMapBackend) PushOne(ctx context.Context, shard int, now time.Time, key string, change DataChange) error {
	return b.Push(ctx, shard, []PreparedEntry{b.Prepare(now, key, change)})
}

// List implements LogBackend.
func (b *OrderedOMapBackend) List(ctx context.Context, shard int, max int, fromMarker string) ([]LogEntry, string, bool, error) {
	entries, more, err := b.client.ListOMap(ctx, b.ref(shard), objstore.OMapRange{Start: fromMarker}, max)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, Error.Wrap(err)
	}
	out := make([]LogEntry, 0, len(entries))
	next := fromMarker
	for _, e := range entries {
		if e.Key == fromMarker {
			continue // Start is inclusive; skip the resume point itself
		}
		var v omapValue
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, "", false, Error.Wrap(err)
		}
		out = append(out, LogEntry{
			LogID:     e.Key,
			Timestamp: v.Timestamp,
			Entry:     DataChange{EntityType: v.Entity, Key: v.Key, Timestamp: v.Timestamp},
		})
		next = e.Key
	}
	return out, next, more, nil
}

// GetInfo implements LogBackend.
func (b *OrderedOMapBackend) GetInfo(ctx context.Context, shard int) (string, time.Time, error) {
	entries, _, err := b.client.ListOMap(ctx, b.ref(shard), objstore.OMapRange{}, 0)
	if gwerrs.Is(err, gwerrs.NotFound) || len(entries) == 0 {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, Error.Wrap(err)
	}
	last := entries[len(entries)-1]
	var v omapValue
	if err := json.Unmarshal(last.Value, &v); err != nil {
		return "", time.Time{}, Error.Wrap(err)
	}
	return last.Key, v.Timestamp, nil
}

// Trim implements LogBackend.
func (b *OrderedOMapBackend) Trim(ctx context.Context, shard int, upToMarker string) error {
	err := b.client.Operate(ctx, b.ref(shard), objstore.WriteOp{
		RemoveOMapRange: &objstore.OMapRange{Start: "", End: nextAfter(upToMarker)},
	})
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil
	}
	return Error.Wrap(err)
}

// MaxMarker implements LogBackend.
func (b *OrderedOMapBackend) MaxMarker() string {
	return maxMarkerOMap
}

// nextAfter returns the lexically-smallest string strictly greater than
// marker with the same prefix structure, so RemoveOMapRange's exclusive End
// covers markers <= upToMarker.
func nextAfter(marker string) string {
	return marker + "\x00"
}
