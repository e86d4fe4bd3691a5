// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resharder

import (
	"context"
	"encoding/json"

	"github.com/rgwsync/gateway/pkg/datalog"
	"github.com/rgwsync/gateway/pkg/gwhttp"
	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/pkg/rgwkey"
)

// DatalogNotifier adapts a datalog.ChangeLog into a RetiredShardNotifier,
// the production wiring for "add one DCL entry per old shard of the
// now-retired generation" (§4.5 step 5a).
type DatalogNotifier struct {
	Log *datalog.ChangeLog
}

// NotifyShardRetired implements RetiredShardNotifier.
func (n DatalogNotifier) NotifyShardRetired(ctx context.Context, bucket rgwkey.Bucket, shard int32, gen uint64) error {
	return n.Log.AddEntry(ctx, bucket.InstanceKey(), shard)
}

// AdminBucketIDLookup adapts an admin HTTP client into a BucketIDLookup,
// resolving a bucket's current instance via the "bucket" (not
// "bucket.instance") metadata type, which maps a name straight to its
// live bucket_id.
type AdminBucketIDLookup struct {
	Admin *gwhttp.Client
}

// CurrentBucketID implements BucketIDLookup.
func (l AdminBucketIDLookup) CurrentBucketID(ctx context.Context, tenant, name string) (string, error) {
	key := name
	if tenant != "" {
		key = tenant + "/" + name
	}
	resp, err := l.Admin.BucketGet(ctx, key)
	if err != nil {
		return "", err
	}
	return resp.Data.Bucket.BucketID, nil
}

type bucketMetaRecord struct {
	BucketID string `json:"bucket_id"`
}

// ObjstoreBucketIDLookup is the production local BucketIDLookup: queued
// reshard entries belong to this gateway's own buckets, so the worker's
// "has the queued bucket_id gone stale" check (§4.5) reads the bucket-name
// -> current-instance mapping directly out of local metadata rather than
// round-tripping through the admin API AdminBucketIDLookup exists for.
type ObjstoreBucketIDLookup struct {
	client objstore.Client
	pool   string
}

// NewObjstoreBucketIDLookup returns a lookup keeping bucket-name records in
// pool.
func NewObjstoreBucketIDLookup(client objstore.Client, pool string) ObjstoreBucketIDLookup {
	return ObjstoreBucketIDLookup{client: client, pool: pool}
}

func (l ObjstoreBucketIDLookup) ref(tenant, name string) objstore.ObjectRef {
	key := name
	if tenant != "" {
		key = tenant + "/" + name
	}
	return objstore.ObjectRef{Pool: l.pool, OID: "bucket.meta." + key}
}

// CurrentBucketID implements BucketIDLookup.
func (l ObjstoreBucketIDLookup) CurrentBucketID(ctx context.Context, tenant, name string) (string, error) {
	raw, err := l.client.ReadBytes(ctx, l.ref(tenant, name))
	if err != nil {
		return "", err
	}
	var rec bucketMetaRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", Error.Wrap(err)
	}
	return rec.BucketID, nil
}

// PutBucketID records name's current bucket_id, the same "bucket" metadata
// record BucketGetResponse mirrors for a remote peer (§6.2).
func (l ObjstoreBucketIDLookup) PutBucketID(ctx context.Context, tenant, name, bucketID string) error {
	raw, err := json.Marshal(bucketMetaRecord{BucketID: bucketID})
	if err != nil {
		return Error.Wrap(err)
	}
	return l.client.Operate(ctx, l.ref(tenant, name), objstore.WriteOp{SetBytes: raw})
}
