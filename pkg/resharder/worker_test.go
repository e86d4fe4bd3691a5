// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resharder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rgwsync/gateway/pkg/objstore/memstore"
	"github.com/rgwsync/gateway/pkg/resharder"
	"github.com/rgwsync/gateway/pkg/rgwkey"
)

type staticLookup map[string]string

func (l staticLookup) CurrentBucketID(ctx context.Context, tenant, name string) (string, error) {
	return l[tenant+"/"+name], nil
}

func TestWorkerRunOnceProcessesQueuedReshard(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	layouts := resharder.NewLayoutStore(client, "metadata")
	shards := resharder.NewObjstoreShardStore(client, "index")
	bucket := rgwkey.Bucket{Tenant: "t", Name: "b", BucketID: "bid-1", Marker: "bid-1"}
	layout := rgwkey.Layout{Current: rgwkey.IndexLayout{Gen: 1, NumShards: 4}}
	require.NoError(t, layouts.WriteCAS(ctx, bucket, 0, layout))
	require.NoError(t, shards.AllocateShards(ctx, bucket, layout.Current))

	r := resharder.NewBucketResharder(client, "leases", layouts, shards, nil, nil, zaptest.NewLogger(t))
	q := resharder.NewQueue(client, "metadata", 1)
	require.NoError(t, q.Push(ctx, resharder.QueueEntry{Tenant: "t", BucketName: "b", BucketID: "bid-1", NewNumShards: 8}))

	lookup := staticLookup{"t/b": "bid-1"}
	w := resharder.NewWorker(client, "worker-leases", q, r, lookup, zaptest.NewLogger(t))

	processed, err := w.RunOnce(ctx, 0)
	require.NoError(t, err)
	require.True(t, processed)

	got, _, err := layouts.Read(ctx, bucket)
	require.NoError(t, err)
	require.EqualValues(t, 8, got.Current.NumShards)

	_, _, found, err := q.Peek(ctx, 0)
	require.NoError(t, err)
	require.False(t, found)
}

func TestWorkerRunOnceDropsStaleEntry(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	layouts := resharder.NewLayoutStore(client, "metadata")
	shards := resharder.NewObjstoreShardStore(client, "index")
	r := resharder.NewBucketResharder(client, "leases", layouts, shards, nil, nil, zaptest.NewLogger(t))
	q := resharder.NewQueue(client, "metadata", 1)
	require.NoError(t, q.Push(ctx, resharder.QueueEntry{Tenant: "t", BucketName: "b", BucketID: "stale-bid", NewNumShards: 8}))

	lookup := staticLookup{"t/b": "current-bid"}
	w := resharder.NewWorker(client, "worker-leases", q, r, lookup, zaptest.NewLogger(t))

	processed, err := w.RunOnce(ctx, 0)
	require.NoError(t, err)
	require.True(t, processed)

	_, _, found, err := q.Peek(ctx, 0)
	require.NoError(t, err)
	require.False(t, found)
}

func TestWorkerRunOnceEmptyQueue(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	layouts := resharder.NewLayoutStore(client, "metadata")
	shards := resharder.NewObjstoreShardStore(client, "index")
	r := resharder.NewBucketResharder(client, "leases", layouts, shards, nil, nil, zaptest.NewLogger(t))
	q := resharder.NewQueue(client, "metadata", 1)
	w := resharder.NewWorker(client, "worker-leases", q, r, staticLookup{}, zaptest.NewLogger(t))

	processed, err := w.RunOnce(ctx, 0)
	require.NoError(t, err)
	require.False(t, processed)
}
