// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/datasync"
	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/pkg/objstore/memstore"
)

func errorRepoRef() objstore.ObjectRef {
	return objstore.ObjectRef{Pool: "sync-errors", OID: "shard.zone-a.0.retry"}
}

func TestErrorRepoPutAndList(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	repo := datasync.NewErrorRepo(client, errorRepoRef())

	ts := time.Now().Truncate(time.Second)
	require.NoError(t, repo.Put(ctx, "bucket-0/0", 1, ts))

	entries, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "bucket-0/0", entries[0].BucketShard)
	require.Equal(t, uint64(1), entries[0].Generation)
	require.True(t, ts.Equal(entries[0].Timestamp))
}

func TestErrorRepoPutOverwritesSameKey(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	repo := datasync.NewErrorRepo(client, errorRepoRef())

	first := time.Now().Truncate(time.Second)
	second := first.Add(time.Minute)

	require.NoError(t, repo.Put(ctx, "bucket-0/0", 1, first))
	require.NoError(t, repo.Put(ctx, "bucket-0/0", 1, second))

	entries, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "same (bucketShard, gen) key must overwrite, not append")
	require.True(t, second.Equal(entries[0].Timestamp))
}

func TestErrorRepoRemoveOnlyOnTimestampMatch(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	repo := datasync.NewErrorRepo(client, errorRepoRef())

	ts := time.Now().Truncate(time.Second)
	require.NoError(t, repo.Put(ctx, "bucket-0/0", 1, ts))

	stale := ts.Add(-time.Minute)
	require.NoError(t, repo.Remove(ctx, "bucket-0/0", 1, stale))

	entries, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "a timestamp mismatch must leave the entry in place")

	require.NoError(t, repo.Remove(ctx, "bucket-0/0", 1, ts))
	entries, err = repo.List(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, entries, "a matching timestamp must remove the entry")
}

func TestErrorRepoRemoveMissingKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	repo := datasync.NewErrorRepo(client, errorRepoRef())

	require.NoError(t, repo.Remove(ctx, "never-put/0", 1, time.Now()))
}

func TestSyncErrorLogRingBuffer(t *testing.T) {
	log := datasync.NewSyncErrorLog(2)
	now := time.Now()

	log.Append(datasync.SyncErrorEntry{BucketShard: "a/0", Generation: 1, At: now})
	log.Append(datasync.SyncErrorEntry{BucketShard: "b/0", Generation: 1, At: now.Add(time.Second)})
	log.Append(datasync.SyncErrorEntry{BucketShard: "c/0", Generation: 1, At: now.Add(2 * time.Second)})

	recent := log.Recent()
	require.Len(t, recent, 2, "capacity must cap the buffer, overwriting the oldest entry")
	require.Equal(t, "b/0", recent[0].BucketShard)
	require.Equal(t, "c/0", recent[1].BucketShard)
}
