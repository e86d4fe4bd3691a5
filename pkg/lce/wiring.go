// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

func unixNanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func nowUnixNano() int64 {
	return time.Now().UnixNano()
}

func newDeleteMarkerInstance() string {
	return "dm-" + uuid.New().String()
}

// ObjstoreBucketIndex is the production ObjectLister/ObjectDeleter,
// modeling one bucket's listable state as an omap of encoded entries the
// same way pkg/resharder's objstoreShardStore models a bucket-index shard:
// one object per bucket, one omap key per (object key, instance) pair.
type ObjstoreBucketIndex struct {
	client objstore.Client
	pool   string
	bucket string
}

// NewObjstoreBucketIndex returns a bucket index backed by client, storing
// bucket's entries under pool.
func NewObjstoreBucketIndex(client objstore.Client, pool, bucket string) *ObjstoreBucketIndex {
	return &ObjstoreBucketIndex{client: client, pool: pool, bucket: bucket}
}

func (x *ObjstoreBucketIndex) ref() objstore.ObjectRef {
	return objstore.ObjectRef{Pool: x.pool, OID: "bucket.index." + x.bucket}
}

func (x *ObjstoreBucketIndex) mpRef() objstore.ObjectRef {
	return objstore.ObjectRef{Pool: x.pool, OID: "bucket.mp." + x.bucket}
}

// omapKey joins a key/instance pair the same way rgwkey joins compound
// identifiers: NUL-separated so a plain key (instance == "") always sorts
// immediately before any of its versions.
func omapKey(key, instance string) string {
	return key + "\x00" + instance
}

func splitOMapKey(k string) (key, instance string) {
	i := strings.IndexByte(k, '\x00')
	if i < 0 {
		return k, ""
	}
	return k[:i], k[i+1:]
}

type indexEntry struct {
	IsCurrent      bool              `json:"is_current"`
	IsDeleteMarker bool              `json:"is_delete_marker"`
	MTime          int64             `json:"mtime_unix_nano"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// PutEntry ingests (or overwrites) one object/instance's listable state.
// Whatever mirrors live bucket-index data into this store calls this as
// objects are written — the same "keep a parallel index" approach
// pkg/resharder's ShardStore takes for its own bucket-index shards.
func (x *ObjstoreBucketIndex) PutEntry(ctx context.Context, entry ObjectEntry) error {
	v := indexEntry{IsCurrent: entry.IsCurrent, IsDeleteMarker: entry.IsDeleteMarker, MTime: entry.MTime.UnixNano(), Tags: entry.Tags}
	raw, err := json.Marshal(v)
	if err != nil {
		return Error.Wrap(err)
	}
	return x.client.Operate(ctx, x.ref(), objstore.WriteOp{
		AppendOMap: []objstore.OMapEntry{{Key: omapKey(entry.Key, entry.Instance), Value: raw}},
	})
}

// ListObjects implements ObjectLister.
func (x *ObjstoreBucketIndex) ListObjects(ctx context.Context, bucket, prefix, marker string, max int) ([]ObjectEntry, string, bool, error) {
	return x.list(ctx, prefix, marker, max, false)
}

// ListVersions implements ObjectLister.
func (x *ObjstoreBucketIndex) ListVersions(ctx context.Context, bucket, prefix, marker string, max int) ([]ObjectEntry, string, bool, error) {
	return x.list(ctx, prefix, marker, max, true)
}

func (x *ObjstoreBucketIndex) list(ctx context.Context, prefix, marker string, max int, versioned bool) ([]ObjectEntry, string, bool, error) {
	entries, more, err := x.client.ListOMap(ctx, x.ref(), objstore.OMapRange{Start: marker}, 0)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, Error.Wrap(err)
	}
	_ = more // this store never paginates server-side; max is applied below

	byKey := map[string][]ObjectEntry{}
	var order []string
	for _, e := range entries {
		key, instance := splitOMapKey(e.Key)
		if prefix != "" && !hasPrefix(key, prefix) {
			continue
		}
		var v indexEntry
		if err := json.Unmarshal(e.Value, &v); err != nil {
			continue
		}
		if !versioned && instance != "" {
			continue
		}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], ObjectEntry{
			Key: key, Instance: instance, IsCurrent: v.IsCurrent,
			IsDeleteMarker: v.IsDeleteMarker, MTime: unixNanoTime(v.MTime), Tags: v.Tags,
		})
	}
	sort.Strings(order)

	var out []ObjectEntry
	for _, key := range order {
		versions := byKey[key]
		sort.Slice(versions, func(i, j int) bool { return versions[i].MTime.After(versions[j].MTime) })
		out = append(out, versions...)
	}

	if max > 0 && len(out) > max {
		next := omapKey(out[max-1].Key, out[max-1].Instance)
		return out[:max], next, true, nil
	}
	return out, "", false, nil
}

type mpEntry struct {
	UploadID string `json:"upload_id"`
	MTime    int64  `json:"mtime_unix_nano"`
}

// ListMultipartUploads implements ObjectLister.
func (x *ObjstoreBucketIndex) ListMultipartUploads(ctx context.Context, bucket, prefix, marker string, max int) ([]MultipartEntry, string, bool, error) {
	entries, truncated, err := x.client.ListOMap(ctx, x.mpRef(), objstore.OMapRange{Start: marker}, max)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, Error.Wrap(err)
	}
	out := make([]MultipartEntry, 0, len(entries))
	var next string
	for _, e := range entries {
		if prefix != "" && !hasPrefix(e.Key, prefix) {
			continue
		}
		var v mpEntry
		if err := json.Unmarshal(e.Value, &v); err != nil {
			continue
		}
		out = append(out, MultipartEntry{Key: e.Key, UploadID: v.UploadID, MTime: unixNanoTime(v.MTime)})
		next = e.Key
	}
	return out, next, truncated, nil
}

// StatObject implements ObjectDeleter.
func (x *ObjstoreBucketIndex) StatObject(ctx context.Context, bucket, key, instance string) (ObjectEntry, error) {
	k := omapKey(key, instance)
	entries, _, err := x.client.ListOMap(ctx, x.ref(), objstore.OMapRange{Start: k, End: k + "\x00"}, 1)
	if err != nil && !gwerrs.Is(err, gwerrs.NotFound) {
		return ObjectEntry{}, Error.Wrap(err)
	}
	if len(entries) == 0 {
		return ObjectEntry{}, gwerrs.NotFound
	}
	var v indexEntry
	if err := json.Unmarshal(entries[0].Value, &v); err != nil {
		return ObjectEntry{}, Error.Wrap(err)
	}
	return ObjectEntry{Key: key, Instance: instance, IsCurrent: v.IsCurrent, IsDeleteMarker: v.IsDeleteMarker, MTime: unixNanoTime(v.MTime), Tags: v.Tags}, nil
}

// DeleteObject implements ObjectDeleter. removeIndeed is honored insofar as
// this store never leaves a tombstone behind either way: a hard delete and
// an OLH unlink both simply drop the omap key, the distinction production
// RGW's object layer makes between the two having no bearing on this
// index's bookkeeping.
func (x *ObjstoreBucketIndex) DeleteObject(ctx context.Context, bucket, key, instance string, removeIndeed bool) error {
	k := omapKey(key, instance)
	return x.client.Operate(ctx, x.ref(), objstore.WriteOp{
		RemoveOMapRange: &objstore.OMapRange{Start: k, End: k + "\x00"},
	})
}

// CreateDeleteMarker implements ObjectDeleter.
func (x *ObjstoreBucketIndex) CreateDeleteMarker(ctx context.Context, bucket, key string) error {
	entries, _, err := x.client.ListOMap(ctx, x.ref(), objstore.OMapRange{Start: omapKey(key, ""), End: omapKey(key, "") + "\xff"}, 0)
	if err != nil && !gwerrs.Is(err, gwerrs.NotFound) {
		return Error.Wrap(err)
	}
	for _, e := range entries {
		curKey, curInstance := splitOMapKey(e.Key)
		if curKey != key {
			continue
		}
		var v indexEntry
		if err := json.Unmarshal(e.Value, &v); err != nil {
			continue
		}
		if v.IsCurrent {
			v.IsCurrent = false
			raw, err := json.Marshal(v)
			if err != nil {
				return Error.Wrap(err)
			}
			if err := x.client.Operate(ctx, x.ref(), objstore.WriteOp{
				AppendOMap: []objstore.OMapEntry{{Key: omapKey(curKey, curInstance), Value: raw}},
			}); err != nil {
				return Error.Wrap(err)
			}
		}
	}

	marker := indexEntry{IsCurrent: true, IsDeleteMarker: true, MTime: nowUnixNano()}
	raw, err := json.Marshal(marker)
	if err != nil {
		return Error.Wrap(err)
	}
	return x.client.Operate(ctx, x.ref(), objstore.WriteOp{
		AppendOMap: []objstore.OMapEntry{{Key: omapKey(key, newDeleteMarkerInstance()), Value: raw}},
	})
}

// AbortMultipartUpload implements ObjectDeleter.
func (x *ObjstoreBucketIndex) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	return x.client.Operate(ctx, x.mpRef(), objstore.WriteOp{
		RemoveOMapRange: &objstore.OMapRange{Start: key, End: key + "\x00"},
	})
}

// ObjstorePolicyStore is the production PolicyStore: one JSON-encoded
// Policy per bucket, the same small-blob-under-a-single-key convention
// pkg/resharder/layout.go's LayoutStore uses for a bucket's layout.
type ObjstorePolicyStore struct {
	client objstore.Client
	pool   string
}

// NewObjstorePolicyStore returns a policy store backed by client, keeping
// policy blobs in pool.
func NewObjstorePolicyStore(client objstore.Client, pool string) *ObjstorePolicyStore {
	return &ObjstorePolicyStore{client: client, pool: pool}
}

func (s *ObjstorePolicyStore) ref(bucket string) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: s.pool, OID: "bucket.lc." + bucket}
}

// GetPolicy implements PolicyStore. A bucket with no configured policy has
// an empty one, not an error: lifecycle configuration is optional.
func (s *ObjstorePolicyStore) GetPolicy(ctx context.Context, bucket string) (Policy, error) {
	raw, err := s.client.ReadBytes(ctx, s.ref(bucket))
	if gwerrs.Is(err, gwerrs.NotFound) {
		return Policy{}, nil
	}
	if err != nil {
		return Policy{}, Error.Wrap(err)
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, Error.Wrap(err)
	}
	return p, nil
}

// PutPolicy persists bucket's lifecycle policy, overwriting any prior one.
func (s *ObjstorePolicyStore) PutPolicy(ctx context.Context, bucket string, policy Policy) error {
	raw, err := json.Marshal(policy)
	if err != nil {
		return Error.Wrap(err)
	}
	return s.client.Operate(ctx, s.ref(bucket), objstore.WriteOp{SetBytes: raw})
}

// ObjstoreBucketBinder implements BucketBinder over a single objstore.Client
// and pool, handing the scan engine a fresh ObjstoreBucketIndex per
// bucket key.
type ObjstoreBucketBinder struct {
	client objstore.Client
	pool   string
}

// NewObjstoreBucketBinder returns a binder backed by client and pool.
func NewObjstoreBucketBinder(client objstore.Client, pool string) ObjstoreBucketBinder {
	return ObjstoreBucketBinder{client: client, pool: pool}
}

// Bind implements BucketBinder.
func (b ObjstoreBucketBinder) Bind(ctx context.Context, bucketKey string) (ObjectLister, ObjectDeleter, error) {
	idx := NewObjstoreBucketIndex(b.client, b.pool, bucketKey)
	return idx, idx, nil
}
