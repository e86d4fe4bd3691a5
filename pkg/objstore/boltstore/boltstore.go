// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package boltstore is a persisted objstore.Client backed by
// github.com/boltdb/bolt — the teacher's own embedded-KV dependency. It is
// used by cmd/gatewayd's single-node/dev mode and by cmd/reshardctl, where
// state has to survive a process restart (e.g. the log generations
// manager's "read metadata object on startup" path, §4.2). Its own test
// runs the shared objstoretest conformance suite.
//
// Bolt has no native TTL lock or pub/sub primitive, so LockExclusive is
// modeled as a small record (owner, expiry) in a dedicated bucket, and
// Watch/Notify are served in-process the same way memstore does — bolt
// durably persists the data an engine reads back after a restart, which is
// the property this store needs to provide; cross-process notify fan-out
// is explicitly an objstore.Client implementation detail the real backend
// supplies (§6.1) and is out of scope for this single-process dev store.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

// Error is the boltstore error class.
var Error = errs.Class("boltstore")

var (
	bucketAttrs = []byte("attrs")
	bucketOMap  = []byte("omap")
	bucketBytes = []byte("bytes")
	bucketVers  = []byte("version")
	bucketLocks = []byte("locks")
)

type lockRecord struct {
	Name   string    `json:"name"`
	Owner  string    `json:"owner"`
	Expiry time.Time `json:"expiry"`
}

// Store is a bolt-backed objstore.Client.
type Store struct {
	db *bolt.DB

	mu       sync.Mutex
	watchers map[objstore.ObjectRef]map[uint64]objstore.NotifyHandler
	watchSeq uint64
}

// Open creates/opens a bolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{db: db, watchers: map[objstore.ObjectRef]map[uint64]objstore.NotifyHandler{}}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return Error.Wrap(s.db.Close())
}

func objectKey(ref objstore.ObjectRef) []byte {
	return []byte(ref.Pool + "\x00" + ref.OID)
}

func (s *Store) withObjectBuckets(tx *bolt.Tx, ref objstore.ObjectRef, create bool) (attrs, omap, bts, vers *bolt.Bucket, err error) {
	root := tx.Bucket(objectKey(ref))
	if root == nil {
		if !create {
			return nil, nil, nil, nil, gwerrs.NotFound
		}
		root, err = tx.CreateBucket(objectKey(ref))
		if err != nil {
			return nil, nil, nil, nil, Error.Wrap(err)
		}
	}
	get := func(name []byte) (*bolt.Bucket, error) {
		b := root.Bucket(name)
		if b == nil {
			if !create {
				return nil, nil
			}
			return root.CreateBucket(name)
		}
		return b, nil
	}
	if attrs, err = get(bucketAttrs); err != nil {
		return nil, nil, nil, nil, Error.Wrap(err)
	}
	if omap, err = get(bucketOMap); err != nil {
		return nil, nil, nil, nil, Error.Wrap(err)
	}
	if bts, err = get(bucketBytes); err != nil {
		return nil, nil, nil, nil, Error.Wrap(err)
	}
	if vers, err = get(bucketVers); err != nil {
		return nil, nil, nil, nil, Error.Wrap(err)
	}
	return attrs, omap, bts, vers, nil
}

func readVersion(vers *bolt.Bucket) uint64 {
	if vers == nil {
		return 0
	}
	v := vers.Get([]byte("v"))
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func writeVersion(vers *bolt.Bucket, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return vers.Put([]byte("v"), buf)
}

// Operate implements objstore.Client.
func (s *Store) Operate(ctx context.Context, ref objstore.ObjectRef, op objstore.WriteOp) error {
	return Error.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		return s.applyTx(tx, ref, op, nil)
	}))
}

func (s *Store) applyTx(tx *bolt.Tx, ref objstore.ObjectRef, op objstore.WriteOp, expectVersion *uint64) error {
	existed := tx.Bucket(objectKey(ref)) != nil
	if op.CreateExclusive && existed {
		return gwerrs.Canceled
	}
	attrs, omap, bts, vers, err := s.withObjectBuckets(tx, ref, true)
	if err != nil {
		return err
	}
	if expectVersion != nil {
		cur := readVersion(vers)
		if existed && cur != *expectVersion {
			return gwerrs.Canceled
		}
		if !existed && *expectVersion != 0 {
			return gwerrs.Canceled
		}
	}
	for k, v := range op.SetAttr {
		if err := attrs.Put([]byte(k), v); err != nil {
			return err
		}
	}
	for _, e := range op.AppendOMap {
		if err := omap.Put([]byte(e.Key), e.Value); err != nil {
			return err
		}
	}
	if op.RemoveOMapRange != nil {
		c := omap.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek([]byte(op.RemoveOMapRange.Start)); k != nil; k, _ = c.Next() {
			if op.RemoveOMapRange.End != "" && string(k) >= op.RemoveOMapRange.End {
				break
			}
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := omap.Delete(k); err != nil {
				return err
			}
		}
	}
	if op.SetBytes != nil {
		if err := bts.Put([]byte("b"), op.SetBytes); err != nil {
			return err
		}
	}
	return writeVersion(vers, readVersion(vers)+1)
}

type boltCompletion struct{ err error }

func (c boltCompletion) Wait(ctx context.Context) error { return c.err }

// OperateAsync implements objstore.Client.
func (s *Store) OperateAsync(ctx context.Context, ref objstore.ObjectRef, op objstore.WriteOp) (objstore.Completion, error) {
	return boltCompletion{err: s.Operate(ctx, ref, op)}, nil
}

// GetAttr implements objstore.Client.
func (s *Store) GetAttr(ctx context.Context, ref objstore.ObjectRef, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		attrs, _, _, _, err := s.withObjectBuckets(tx, ref, false)
		if err != nil {
			return err
		}
		v := attrs.Get([]byte(key))
		if v == nil {
			return gwerrs.NotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, Error.Wrap(err)
}

// ReadBytes implements objstore.Client.
func (s *Store) ReadBytes(ctx context.Context, ref objstore.ObjectRef) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		_, _, bts, _, err := s.withObjectBuckets(tx, ref, false)
		if err != nil {
			return err
		}
		out = append([]byte(nil), bts.Get([]byte("b"))...)
		return nil
	})
	return out, Error.Wrap(err)
}

// ListOMap implements objstore.Client.
func (s *Store) ListOMap(ctx context.Context, ref objstore.ObjectRef, rng objstore.OMapRange, max int) ([]objstore.OMapEntry, bool, error) {
	var entries []objstore.OMapEntry
	more := false
	err := s.db.View(func(tx *bolt.Tx) error {
		_, omap, _, _, err := s.withObjectBuckets(tx, ref, false)
		if gwerrs.Is(err, gwerrs.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		c := omap.Cursor()
		for k, v := c.Seek([]byte(rng.Start)); k != nil; k, v = c.Next() {
			if rng.End != "" && string(k) >= rng.End {
				break
			}
			if max > 0 && len(entries) >= max {
				more = true
				break
			}
			entries = append(entries, objstore.OMapEntry{Key: string(k), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, more, Error.Wrap(err)
}

// Remove implements objstore.Client.
func (s *Store) Remove(ctx context.Context, ref objstore.ObjectRef) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(objectKey(ref)) == nil {
			return nil
		}
		return tx.DeleteBucket(objectKey(ref))
	})
	return Error.Wrap(err)
}

// ListRawObjects implements objstore.Client.
func (s *Store) ListRawObjects(ctx context.Context, pool string, fromMarker string, max int) ([]string, string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			parts := splitObjectKey(name)
			if parts.pool == pool && parts.oid > fromMarker {
				keys = append(keys, parts.oid)
			}
			return nil
		})
	})
	if err != nil {
		return nil, "", Error.Wrap(err)
	}
	sort.Strings(keys)
	next := ""
	if max > 0 && len(keys) > max {
		next = keys[max-1]
		keys = keys[:max]
	}
	return keys, next, nil
}

type splitKey struct{ pool, oid string }

func splitObjectKey(name []byte) splitKey {
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return splitKey{pool: string(name[:i]), oid: string(name[i+1:])}
		}
	}
	return splitKey{}
}

// LockExclusive implements objstore.Client.
func (s *Store) LockExclusive(ctx context.Context, ref objstore.ObjectRef, name, cookie string, duration time.Duration, mustRenew bool) error {
	return Error.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		locks, err := tx.CreateBucketIfNotExists(bucketLocks)
		if err != nil {
			return err
		}
		key := objectKey(ref)
		now := time.Now()
		var rec lockRecord
		if raw := locks.Get(key); raw != nil {
			_ = json.Unmarshal(raw, &rec)
		}
		held := rec.Name == name && rec.Owner != "" && rec.Expiry.After(now)
		if held && rec.Owner != cookie {
			return gwerrs.Busy
		}
		if mustRenew && !held {
			return gwerrs.Busy
		}
		rec = lockRecord{Name: name, Owner: cookie, Expiry: now.Add(duration)}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return locks.Put(key, raw)
	}))
}

// Unlock implements objstore.Client.
func (s *Store) Unlock(ctx context.Context, ref objstore.ObjectRef, name, cookie string) error {
	return Error.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		locks := tx.Bucket(bucketLocks)
		if locks == nil {
			return nil
		}
		key := objectKey(ref)
		raw := locks.Get(key)
		if raw == nil {
			return nil
		}
		var rec lockRecord
		_ = json.Unmarshal(raw, &rec)
		if rec.Name == name && rec.Owner == cookie {
			return locks.Delete(key)
		}
		return nil
	}))
}

type boltWatch struct {
	store *Store
	ref   objstore.ObjectRef
	id    uint64
}

func (w *boltWatch) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if m := w.store.watchers[w.ref]; m != nil {
		delete(m, w.id)
	}
	return nil
}

// Watch implements objstore.Client.
func (s *Store) Watch(ctx context.Context, ref objstore.ObjectRef, handler objstore.NotifyHandler) (objstore.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers[ref] == nil {
		s.watchers[ref] = map[uint64]objstore.NotifyHandler{}
	}
	s.watchSeq++
	id := s.watchSeq
	s.watchers[ref][id] = handler
	return &boltWatch{store: s, ref: ref, id: id}, nil
}

// Notify implements objstore.Client.
func (s *Store) Notify(ctx context.Context, ref objstore.ObjectRef, payload []byte) error {
	s.mu.Lock()
	var handlers []objstore.NotifyHandler
	for _, h := range s.watchers[ref] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for i, h := range handlers {
		h(uint64(i), 0, "boltstore", payload)
	}
	return nil
}

// ObjVersion implements objstore.Client.
func (s *Store) ObjVersion(ctx context.Context, ref objstore.ObjectRef) (uint64, error) {
	var v uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		_, _, _, vers, err := s.withObjectBuckets(tx, ref, false)
		if err != nil {
			return err
		}
		v = readVersion(vers)
		return nil
	})
	return v, Error.Wrap(err)
}

// OperateCAS implements objstore.Client.
func (s *Store) OperateCAS(ctx context.Context, ref objstore.ObjectRef, expectVersion uint64, op objstore.WriteOp) error {
	return Error.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		return s.applyTx(tx, ref, op, &expectVersion)
	}))
}
