// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resharder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/objstore/memstore"
	"github.com/rgwsync/gateway/pkg/resharder"
)

func TestQueueDefaultShards(t *testing.T) {
	client := memstore.New()
	q := resharder.NewQueue(client, "metadata", 0)
	require.Equal(t, resharder.DefaultQueueShards, q.NumShards())
}

func TestQueueShardForIsStable(t *testing.T) {
	client := memstore.New()
	q := resharder.NewQueue(client, "metadata", 4)
	shard := q.ShardFor("tenant-a", "bucket-a")
	require.Equal(t, shard, q.ShardFor("tenant-a", "bucket-a"))
	require.GreaterOrEqual(t, shard, 0)
	require.Less(t, shard, 4)
}

func TestQueuePushPeekRemoveFIFO(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	q := resharder.NewQueue(client, "metadata", 1)

	_, _, found, err := q.Peek(ctx, 0)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, q.Push(ctx, resharder.QueueEntry{Tenant: "t", BucketName: "first", BucketID: "bid-1", NewNumShards: 8}))
	require.NoError(t, q.Push(ctx, resharder.QueueEntry{Tenant: "t", BucketName: "second", BucketID: "bid-2", NewNumShards: 16}))

	entry, key, found, err := q.Peek(ctx, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "first", entry.BucketName)

	require.NoError(t, q.Remove(ctx, 0, key))

	entry, _, found, err = q.Peek(ctx, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "second", entry.BucketName)
}

func TestQueueRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	q := resharder.NewQueue(client, "metadata", 1)
	require.NoError(t, q.Remove(ctx, 0, "0000000000000001"))
}
