// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resharder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore/memstore"
	"github.com/rgwsync/gateway/pkg/resharder"
	"github.com/rgwsync/gateway/pkg/rgwkey"
)

func testBucket() rgwkey.Bucket {
	return rgwkey.Bucket{Tenant: "t", Name: "b", BucketID: "bid-1", Marker: "bid-1"}
}

func TestLayoutStoreReadWriteCAS(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	store := resharder.NewLayoutStore(client, "metadata")
	bucket := testBucket()

	_, _, err := store.Read(ctx, bucket)
	require.Error(t, err)

	layout := rgwkey.Layout{Current: rgwkey.IndexLayout{Gen: 1, NumShards: 4}}
	require.NoError(t, store.WriteCAS(ctx, bucket, 0, layout))

	got, version, err := store.Read(ctx, bucket)
	require.NoError(t, err)
	require.Equal(t, layout, got)
	require.EqualValues(t, 1, version)

	// stale version is rejected
	err = store.WriteCAS(ctx, bucket, 0, layout)
	require.True(t, gwerrs.Is(err, gwerrs.Canceled))

	got.Target = &rgwkey.IndexLayout{Gen: 2, NumShards: 8}
	got.Resharding = rgwkey.ReshardInProgress
	require.NoError(t, store.WriteCAS(ctx, bucket, version, got))

	reread, _, err := store.Read(ctx, bucket)
	require.NoError(t, err)
	require.Equal(t, rgwkey.ReshardInProgress, reread.Resharding)
}

func TestLayoutStoreWriteCASRejectsInvalidLayout(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	store := resharder.NewLayoutStore(client, "metadata")
	bucket := testBucket()

	bad := rgwkey.Layout{
		Current:    rgwkey.IndexLayout{Gen: 1, NumShards: 4},
		Resharding: rgwkey.ReshardInProgress, // no target set
	}
	require.Error(t, store.WriteCAS(ctx, bucket, 0, bad))
}

func TestObjstoreShardStoreAllocateDeleteBlockWrites(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	shards := resharder.NewObjstoreShardStore(client, "index")
	bucket := testBucket()
	layout := rgwkey.IndexLayout{Gen: 1, NumShards: 4}

	require.NoError(t, shards.AllocateShards(ctx, bucket, layout))
	// allocating again is idempotent
	require.NoError(t, shards.AllocateShards(ctx, bucket, layout))

	require.NoError(t, shards.SetBlockWrites(ctx, bucket, layout, true))
	require.NoError(t, shards.SetBlockWrites(ctx, bucket, layout, false))

	require.NoError(t, shards.DeleteShards(ctx, bucket, layout))
}

func TestObjstoreShardStoreWriteBatchAsyncAndListBiEntries(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	shards := resharder.NewObjstoreShardStore(client, "index")
	bucket := testBucket()
	layout := rgwkey.IndexLayout{Gen: 1, NumShards: 4}
	require.NoError(t, shards.AllocateShards(ctx, bucket, layout))

	entries := []resharder.BiEntry{
		{Object: "a", Instance: "", Category: resharder.CategoryNormal, Size: 10, SizeRounded: 16, ActualSize: 10},
		{Object: "b", Instance: "", Category: resharder.CategoryNormal, Size: 20, SizeRounded: 32, ActualSize: 20},
	}
	var stats resharder.ShardStats
	for _, e := range entries {
		stats.Add(e)
	}

	completion, err := shards.WriteBatchAsync(ctx, bucket, layout, 0, entries, stats)
	require.NoError(t, err)
	require.NoError(t, completion.Wait(ctx))

	listed, _, more, err := shards.ListBiEntries(ctx, bucket, layout, 0, "", 10)
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, listed, 2)
}

func TestObjstoreShardStoreListBiEntriesMissingShardIsEmpty(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	shards := resharder.NewObjstoreShardStore(client, "index")
	bucket := testBucket()
	layout := rgwkey.IndexLayout{Gen: 1, NumShards: 1}

	listed, _, more, err := shards.ListBiEntries(ctx, bucket, layout, 0, "", 10)
	require.NoError(t, err)
	require.False(t, more)
	require.Empty(t, listed)
}
