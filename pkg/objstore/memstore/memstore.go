// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package memstore is an in-memory objstore.Client double used by unit
// tests across every engine package. It implements the full contract
// (attrs, omap, locks, watch/notify, CAS) with no persistence.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

type object struct {
	attrs   map[string][]byte
	omap    map[string][]byte
	bytes   []byte
	version uint64
	exists  bool

	lockName  string
	lockOwner string
	lockUntil time.Time

	watchers map[uint64]objstore.NotifyHandler
}

func newObject() *object {
	return &object{
		attrs:    map[string][]byte{},
		omap:     map[string][]byte{},
		watchers: map[uint64]objstore.NotifyHandler{},
	}
}

// Store is the in-memory Client.
type Store struct {
	mu       sync.Mutex
	objects  map[objstore.ObjectRef]*object
	watchSeq uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: map[objstore.ObjectRef]*object{}}
}

func (s *Store) get(ref objstore.ObjectRef, create bool) *object {
	obj, ok := s.objects[ref]
	if !ok {
		if !create {
			return nil
		}
		obj = newObject()
		s.objects[ref] = obj
	}
	return obj
}

// Operate implements objstore.Client.
func (s *Store) Operate(ctx context.Context, ref objstore.ObjectRef, op objstore.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ref, op)
}

func (s *Store) applyLocked(ref objstore.ObjectRef, op objstore.WriteOp) error {
	obj := s.get(ref, true)
	if op.CreateExclusive && obj.exists {
		return gwerrs.Canceled
	}
	obj.exists = true
	for k, v := range op.SetAttr {
		obj.attrs[k] = v
	}
	for _, e := range op.AppendOMap {
		obj.omap[e.Key] = e.Value
	}
	if op.RemoveOMapRange != nil {
		for k := range obj.omap {
			if inRange(k, *op.RemoveOMapRange) {
				delete(obj.omap, k)
			}
		}
	}
	if op.SetBytes != nil {
		obj.bytes = op.SetBytes
	}
	obj.version++
	return nil
}

func inRange(k string, rng objstore.OMapRange) bool {
	if k < rng.Start {
		return false
	}
	if rng.End != "" && k >= rng.End {
		return false
	}
	return true
}

type memCompletion struct {
	err error
}

func (c memCompletion) Wait(ctx context.Context) error { return c.err }

// OperateAsync implements objstore.Client.
func (s *Store) OperateAsync(ctx context.Context, ref objstore.ObjectRef, op objstore.WriteOp) (objstore.Completion, error) {
	err := s.Operate(ctx, ref, op)
	return memCompletion{err: err}, nil
}

// GetAttr implements objstore.Client.
func (s *Store) GetAttr(ctx context.Context, ref objstore.ObjectRef, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.get(ref, false)
	if obj == nil || !obj.exists {
		return nil, gwerrs.NotFound
	}
	v, ok := obj.attrs[key]
	if !ok {
		return nil, gwerrs.NotFound
	}
	return v, nil
}

// ReadBytes implements objstore.Client.
func (s *Store) ReadBytes(ctx context.Context, ref objstore.ObjectRef) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.get(ref, false)
	if obj == nil || !obj.exists {
		return nil, gwerrs.NotFound
	}
	return obj.bytes, nil
}

// ListOMap implements objstore.Client.
func (s *Store) ListOMap(ctx context.Context, ref objstore.ObjectRef, rng objstore.OMapRange, max int) ([]objstore.OMapEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.get(ref, false)
	if obj == nil || !obj.exists {
		return nil, false, nil
	}
	keys := make([]string, 0, len(obj.omap))
	for k := range obj.omap {
		if inRange(k, rng) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	more := false
	if max > 0 && len(keys) > max {
		keys = keys[:max]
		more = true
	}
	entries := make([]objstore.OMapEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, objstore.OMapEntry{Key: k, Value: obj.omap[k]})
	}
	return entries, more, nil
}

// Remove implements objstore.Client.
func (s *Store) Remove(ctx context.Context, ref objstore.ObjectRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, ref)
	return nil
}

// ListRawObjects implements objstore.Client.
func (s *Store) ListRawObjects(ctx context.Context, pool string, fromMarker string, max int) ([]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for ref, obj := range s.objects {
		if ref.Pool == pool && obj.exists && ref.OID > fromMarker {
			keys = append(keys, ref.OID)
		}
	}
	sort.Strings(keys)
	next := ""
	if max > 0 && len(keys) > max {
		next = keys[max-1]
		keys = keys[:max]
	}
	return keys, next, nil
}

// LockExclusive implements objstore.Client.
func (s *Store) LockExclusive(ctx context.Context, ref objstore.ObjectRef, name, cookie string, duration time.Duration, mustRenew bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.get(ref, true)
	obj.exists = true
	now := time.Now()
	held := obj.lockName == name && obj.lockOwner != "" && obj.lockUntil.After(now)
	if held && obj.lockOwner != cookie {
		return gwerrs.Busy
	}
	if mustRenew && !held {
		return gwerrs.Busy
	}
	obj.lockName = name
	obj.lockOwner = cookie
	obj.lockUntil = now.Add(duration)
	return nil
}

// Unlock implements objstore.Client.
func (s *Store) Unlock(ctx context.Context, ref objstore.ObjectRef, name, cookie string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.get(ref, false)
	if obj == nil {
		return nil
	}
	if obj.lockName == name && obj.lockOwner == cookie {
		obj.lockOwner = ""
		obj.lockName = ""
	}
	return nil
}

type memWatch struct {
	store *Store
	ref   objstore.ObjectRef
	id    uint64
}

func (w *memWatch) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if obj := w.store.get(w.ref, false); obj != nil {
		delete(obj.watchers, w.id)
	}
	return nil
}

// Watch implements objstore.Client.
func (s *Store) Watch(ctx context.Context, ref objstore.ObjectRef, handler objstore.NotifyHandler) (objstore.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.get(ref, true)
	obj.exists = true
	s.watchSeq++
	id := s.watchSeq
	obj.watchers[id] = handler
	return &memWatch{store: s, ref: ref, id: id}, nil
}

// Notify implements objstore.Client.
func (s *Store) Notify(ctx context.Context, ref objstore.ObjectRef, payload []byte) error {
	s.mu.Lock()
	obj := s.get(ref, false)
	var handlers []objstore.NotifyHandler
	if obj != nil {
		for _, h := range obj.watchers {
			handlers = append(handlers, h)
		}
	}
	s.mu.Unlock()
	for i, h := range handlers {
		h(uint64(i), 0, "memstore", payload)
	}
	return nil
}

// ObjVersion implements objstore.Client.
func (s *Store) ObjVersion(ctx context.Context, ref objstore.ObjectRef) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.get(ref, false)
	if obj == nil || !obj.exists {
		return 0, gwerrs.NotFound
	}
	return obj.version, nil
}

// OperateCAS implements objstore.Client.
func (s *Store) OperateCAS(ctx context.Context, ref objstore.ObjectRef, expectVersion uint64, op objstore.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.get(ref, true)
	if obj.exists && obj.version != expectVersion {
		return gwerrs.Canceled
	}
	if !obj.exists && expectVersion != 0 {
		return gwerrs.Canceled
	}
	return s.applyLocked(ref, op)
}
