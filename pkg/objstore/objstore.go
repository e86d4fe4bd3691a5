// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objstore defines the inbound contract this module needs from the
// raw content-addressed object store (component A, §6.1 of the spec). The
// object store itself — its replication, erasure coding, and on-disk format —
// is an external collaborator; this package only states the shape every
// engine in this repository programs against, plus two implementations
// (memstore, boltstore) used as test/dev doubles.
package objstore

import (
	"context"
	"time"
)

// ObjectRef names an object within a pool.
type ObjectRef struct {
	Pool string
	OID  string
}

// OMapEntry is one key/value pair of an object's ordered key-value map.
type OMapEntry struct {
	Key   string
	Value []byte
}

// WriteOp is one operation within a compound read-modify-write (§6.1
// "atomic compound operations").
type WriteOp struct {
	SetAttr   map[string][]byte
	AppendOMap []OMapEntry
	RemoveOMapRange *OMapRange // keys in [Start, End) removed, End exclusive; empty End means open-ended
	SetBytes  []byte
	CreateExclusive bool
}

// OMapRange bounds a key range for listing/removal. End == "" means open-ended.
type OMapRange struct {
	Start string
	End   string
}

// Completion is an asynchronous write handle (§6.1 "asynchronous completions
// for batching"/AIO). Callers that need ordering wait on it explicitly;
// callers that only need throughput can fire a bounded window of these and
// wait at the end.
type Completion interface {
	Wait(ctx context.Context) error
}

// NotifyHandler receives watch/notify callbacks (§6.1).
type NotifyHandler func(notifyID uint64, cookie uint64, notifierID string, payload []byte)

// Client is the object-store contract every engine in this repository is
// built against. Implementations must be safe for concurrent use.
type Client interface {
	// Operate applies a compound WriteOp atomically to ref.
	Operate(ctx context.Context, ref ObjectRef, op WriteOp) error

	// OperateAsync is the AIO variant of Operate, returning immediately
	// with a Completion.
	OperateAsync(ctx context.Context, ref ObjectRef, op WriteOp) (Completion, error)

	// GetAttr reads one attribute. Returns gwerrs.NotFound if the object
	// or key is absent.
	GetAttr(ctx context.Context, ref ObjectRef, key string) ([]byte, error)

	// ReadBytes reads the full byte payload. Returns gwerrs.NotFound if
	// absent.
	ReadBytes(ctx context.Context, ref ObjectRef) ([]byte, error)

	// ListOMap lists ordered key-value entries in rng, up to max entries,
	// returning the entries and whether more remain.
	ListOMap(ctx context.Context, ref ObjectRef, rng OMapRange, max int) (entries []OMapEntry, more bool, err error)

	// Remove deletes the named object. ENOENT is success (idempotent).
	Remove(ctx context.Context, ref ObjectRef) error

	// ListRawObjects enumerates object names in a pool from a marker
	// (§6.1 list_raw_objects).
	ListRawObjects(ctx context.Context, pool string, fromMarker string, max int) (keys []string, nextMarker string, err error)

	// LockExclusive acquires (or renews, if mustRenew) an exclusive lock
	// slot on ref under name, held by cookie for duration. Returns
	// gwerrs.Busy if held by a different cookie.
	LockExclusive(ctx context.Context, ref ObjectRef, name, cookie string, duration time.Duration, mustRenew bool) error

	// Unlock releases a lock previously acquired with the same cookie.
	Unlock(ctx context.Context, ref ObjectRef, name, cookie string) error

	// Watch installs a notify handler on ref, returning a watch handle
	// that must be closed to stop receiving callbacks. Implementations
	// must internally re-establish the watch after a transient
	// disconnect (§6.1).
	Watch(ctx context.Context, ref ObjectRef, handler NotifyHandler) (Watch, error)

	// Notify broadcasts payload to all current watchers of ref.
	Notify(ctx context.Context, ref ObjectRef, payload []byte) error

	// ObjVersion returns the current optimistic-concurrency version of
	// ref, used for CAS-style updates on shared metadata objects (e.g.
	// the log-generations metadata object, §4.2).
	ObjVersion(ctx context.Context, ref ObjectRef) (uint64, error)

	// OperateCAS applies op only if ref's current version equals
	// expectVersion; returns gwerrs.Canceled on mismatch.
	OperateCAS(ctx context.Context, ref ObjectRef, expectVersion uint64, op WriteOp) error
}

// Watch is a live watch/notify subscription.
type Watch interface {
	Close() error
}
