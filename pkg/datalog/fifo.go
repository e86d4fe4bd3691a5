// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

// maxMarkerFIFO is the FIFO backend's canonical max marker.
const maxMarkerFIFO = "fifo:max"

// fifoZeroMarker is the special trim target the FIFO backend must not
// actually send to the underlying FIFO trim op (§4.1): trimming part 0 at
// offset 0 would fail against a real FIFO (nothing precedes the head), so
// it is synthesized as a successful no-op instead.
const fifoZeroMarker = "0:0"

// FIFOBackend stores each shard's entries in a FIFO data structure spread
// across multiple object parts, addressed by {part_no, offset} markers.
type FIFOBackend struct {
	client objstore.Client
	pool   string
	prefix string
	gen    uint64

	maxPartEntries int
}

// NewFIFOBackend returns a FIFO-backed log. maxPartEntries bounds how many
// entries live in one part object before the backend rolls to a new part.
func NewFIFOBackend(client objstore.Client, pool, prefix string, gen uint64, maxPartEntries int) *FIFOBackend {
	if maxPartEntries <= 0 {
		maxPartEntries = 10000
	}
	return &FIFOBackend{client: client, pool: pool, prefix: prefix, gen: gen, maxPartEntries: maxPartEntries}
}

func (b *FIFOBackend) ref(shard int) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: b.pool, OID: ShardObjectName(b.prefix, b.gen, shard)}
}

type fifoMarker struct {
	Part   uint64
	Offset uint64
}

func (m fifoMarker) String() string { return fmt.Sprintf("%020d:%020d", m.Part, m.Offset) }

func parseFIFOMarker(s string) (fifoMarker, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return fifoMarker{}, Error.New("malformed FIFO marker %q", s)
	}
	part, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return fifoMarker{}, Error.Wrap(err)
	}
	off, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return fifoMarker{}, Error.Wrap(err)
	}
	return fifoMarker{Part: part, Offset: off}, nil
}

// Prepare implements LogBackend.
func (b *FIFOBackend) Prepare(now time.Time, key string, change DataChange) PreparedEntry {
	return PreparedEntry{Now: now, Key: key, Payload: change}
}

type fifoEntryValue struct {
	Timestamp time.Time  `json:"ts"`
	Entity    EntityType `json:"entity"`
	Key       string     `json:"key"`
}

// Push implements LogBackend. Entries are appended behind a CAS loop on the
// shard's single backing object, which models "the FIFO backend handles
// part creation, trimming, and tail advancement" (§4.1) internally rather
// than exposing a compound op to the caller.
func (b *FIFOBackend) Push(ctx context.Context, shard int, entries []PreparedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ref := b.ref(shard)
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		version, err := b.client.ObjVersion(ctx, ref)
		if err != nil && !gwerrs.Is(err, gwerrs.NotFound) {
			return Error.Wrap(err)
		}
		tail, err := b.readTail(ctx, ref)
		if err != nil {
			return Error.Wrap(err)
		}

		op := objstore.WriteOp{}
		next := tail
		for _, e := range entries {
			if next.Offset >= uint64(b.maxPartEntries) {
				next.Part++
				next.Offset = 0
			}
			v, err := json.Marshal(fifoEntryValue{Timestamp: e.Payload.Timestamp, Entity: e.Payload.EntityType, Key: e.Payload.Key})
			if err != nil {
				return Error.Wrap(err)
			}
			op.AppendOMap = append(op.AppendOMap, objstore.OMapEntry{Key: next.String(), Value: v})
			next.Offset++
		}
		op.SetAttr = map[string][]byte{"tail": []byte(next.String())}

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

func (b *FIFOBackend) readTail(ctx context.Context, ref objstore.ObjectRef) (fifoMarker, error) {
	raw, err := b.client.GetAttr(ctx, ref, "tail")
	if gwerrs.Is(err, gwerrs.NotFound) {
		return fifoMarker{}, nil
	}
	if err != nil {
		return fifoMarker{}, err
	}
	return parseFIFOMarker(string(raw))
}

// PushOne implements LogBackend.
func (b *FIFOBackend) PushOne(ctx context.Context, shard int, now time.Time, key string, change DataChange) error {
	return b.Push(ctx, shard, []PreparedEntry{b.Prepare(now, key, change)})
}

// List implements LogBackend.
func (b *FIFOBackend) List(ctx context.Context, shard int, max int, fromMarker string) ([]LogEntry, string, bool, error) {
	start := fromMarker
	entries, more, err := b.client.ListOMap(ctx, b.ref(shard), objstore.OMapRange{Start: start}, max)
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
			continue
		}
		var v fifoEntryValue
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
func (b *FIFOBackend) GetInfo(ctx context.Context, shard int) (string, time.Time, error) {
	entries, _, err := b.client.ListOMap(ctx, b.ref(shard), objstore.OMapRange{}, 0)
	if gwerrs.Is(err, gwerrs.NotFound) || len(entries) == 0 {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, Error.Wrap(err)
	}
	last := entries[len(entries)-1]
	var v fifoEntryValue
	if err := json.Unmarshal(last.Value, &v); err != nil {
		return "", time.Time{}, Error.Wrap(err)
	}
	return last.Key, v.Timestamp, nil
}

// Trim implements LogBackend. Trimming exactly "0:0" must not be sent to
// the underlying FIFO trim — it would fail since nothing precedes the
// head — so it's synthesized as an immediate success instead (§4.1).
func (b *FIFOBackend) Trim(ctx context.Context, shard int, upToMarker string) error {
	if upToMarker == fifoZeroMarker {
		return nil
	}
	err := b.client.Operate(ctx, b.ref(shard), objstore.WriteOp{
		RemoveOMapRange: &objstore.OMapRange{Start: "", End: upToMarker + "\x00"},
	})
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil
	}
	return Error.Wrap(err)
}

// MaxMarker implements LogBackend.
func (b *FIFOBackend) MaxMarker() string {
	return maxMarkerFIFO
}
