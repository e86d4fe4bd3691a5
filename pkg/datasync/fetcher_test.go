// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/datasync"
	"github.com/rgwsync/gateway/pkg/objstore/memstore"
)

type fakeRemoteObjectGetter struct {
	body []byte
	err  error
}

func (g fakeRemoteObjectGetter) GetObject(ctx context.Context, bucket, key, instance string) ([]byte, error) {
	return g.body, g.err
}

func TestDataObjectFetcherFetchAndDelete(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	remote := fakeRemoteObjectGetter{body: []byte("hello")}
	fetcher := datasync.NewDataObjectFetcher(client, "data-pool", remote)
	pipe := datasync.Pipe{
		Source: datasync.BucketRef{Zone: "src", Tenant: "t", Name: "bucket"},
		Dest:   datasync.BucketRef{Zone: "dst", Tenant: "t", Name: "bucket"},
	}

	require.NoError(t, fetcher.FetchObject(ctx, pipe, "a.txt", ""))
	require.NoError(t, fetcher.DeleteObject(ctx, pipe, "a.txt", ""))
	// Deleting again is a no-op, not an error.
	require.NoError(t, fetcher.DeleteObject(ctx, pipe, "a.txt", ""))
}

func TestDataObjectFetcherCreateDeleteMarker(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	fetcher := datasync.NewDataObjectFetcher(client, "data-pool", fakeRemoteObjectGetter{})
	pipe := datasync.Pipe{Dest: datasync.BucketRef{Tenant: "t", Name: "bucket"}}
	require.NoError(t, fetcher.CreateDeleteMarker(ctx, pipe, "a.txt", "dm-1"))
}

func TestObjstoreVersioningEnabler(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	enabler := datasync.NewObjstoreVersioningEnabler(client, "data-pool")
	dest := datasync.BucketRef{Tenant: "t", Name: "bucket"}

	versioned, err := enabler.IsVersioned(ctx, dest)
	require.NoError(t, err)
	require.False(t, versioned)

	require.NoError(t, enabler.EnableVersioning(ctx, dest))

	versioned, err = enabler.IsVersioned(ctx, dest)
	require.NoError(t, err)
	require.True(t, versioned)
}
