// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync

import (
	"context"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

// RemoteObjectGetter fetches one object version's raw bytes from a peer
// zone — the data-plane counterpart to RemoteBucketClient's metadata-only
// calls. Implemented by *gwhttp.Client in production.
type RemoteObjectGetter interface {
	GetObject(ctx context.Context, bucket, key, instance string) ([]byte, error)
}

// DataObjectFetcher is the production ObjectFetcher: it pulls an object's
// bytes from the source zone over HTTP and lands them in the destination
// bucket's local objstore.Client state, the same "objstore.Client as the
// durable local data plane" approach pkg/resharder and pkg/lce take for
// their own object metadata.
type DataObjectFetcher struct {
	client objstore.Client
	pool   string
	remote RemoteObjectGetter
}

// NewDataObjectFetcher returns a fetcher storing object bytes under pool
// via client, reading source bytes through remote.
func NewDataObjectFetcher(client objstore.Client, pool string, remote RemoteObjectGetter) *DataObjectFetcher {
	return &DataObjectFetcher{client: client, pool: pool, remote: remote}
}

func (f *DataObjectFetcher) ref(dest BucketRef, object, instance string) objstore.ObjectRef {
	oid := dest.Tenant + "/" + dest.Name + "/" + object
	if instance != "" {
		oid += "\x00" + instance
	}
	return objstore.ObjectRef{Pool: f.pool, OID: oid}
}

// FetchObject implements ObjectFetcher.
func (f *DataObjectFetcher) FetchObject(ctx context.Context, pipe Pipe, object, instance string) error {
	body, err := f.remote.GetObject(ctx, pipe.Source.Name, object, instance)
	if err != nil {
		return err
	}
	return f.client.Operate(ctx, f.ref(pipe.Dest, object, instance), objstore.WriteOp{SetBytes: body})
}

// DeleteObject implements ObjectFetcher.
func (f *DataObjectFetcher) DeleteObject(ctx context.Context, pipe Pipe, object, instance string) error {
	err := f.client.Remove(ctx, f.ref(pipe.Dest, object, instance))
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil
	}
	return err
}

// CreateDeleteMarker implements ObjectFetcher: a delete-marker is modeled
// as a zero-length instance object carrying a "delete-marker" attribute.
func (f *DataObjectFetcher) CreateDeleteMarker(ctx context.Context, pipe Pipe, object, instance string) error {
	return f.client.Operate(ctx, f.ref(pipe.Dest, object, instance), objstore.WriteOp{
		SetBytes: []byte{},
		SetAttr:  map[string][]byte{"delete-marker": []byte("1")},
	})
}

// ObjstoreVersioningEnabler is the production BucketVersioningEnabler: a
// single "enabled" attribute on a per-bucket marker object, written
// without CAS.
type ObjstoreVersioningEnabler struct {
	client objstore.Client
	pool   string
}

// NewObjstoreVersioningEnabler returns an enabler backed by client, keeping
// flags in pool.
func NewObjstoreVersioningEnabler(client objstore.Client, pool string) *ObjstoreVersioningEnabler {
	return &ObjstoreVersioningEnabler{client: client, pool: pool}
}

func (e *ObjstoreVersioningEnabler) ref(dest BucketRef) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: e.pool, OID: "bucket.versioning." + dest.Tenant + "/" + dest.Name}
}

// EnableVersioning implements BucketVersioningEnabler.
func (e *ObjstoreVersioningEnabler) EnableVersioning(ctx context.Context, dest BucketRef) error {
	return e.client.Operate(ctx, e.ref(dest), objstore.WriteOp{SetAttr: map[string][]byte{"enabled": []byte("1")}})
}

// IsVersioned implements BucketVersioningEnabler.
func (e *ObjstoreVersioningEnabler) IsVersioned(ctx context.Context, dest BucketRef) (bool, error) {
	_, err := e.client.GetAttr(ctx, e.ref(dest), "enabled")
	if gwerrs.Is(err, gwerrs.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
