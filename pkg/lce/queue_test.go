// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/lce"
	"github.com/rgwsync/gateway/pkg/objstore/memstore"
)

func TestQueueHeaderCASRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := lce.NewQueue(memstore.New(), "lc-pool", 4)

	header, version, err := q.ReadHeader(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), version)
	require.True(t, header.StartDate.IsZero())

	now := time.Date(2026, 7, 30, 0, 30, 0, 0, time.UTC)
	header.StartDate = now
	header.Marker = "tenant:bucket:m1"
	require.NoError(t, q.WriteHeaderCAS(ctx, 0, version, header))

	got, version2, err := q.ReadHeader(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, now, got.StartDate)
	require.Equal(t, "tenant:bucket:m1", got.Marker)
	require.NotEqual(t, version, version2)

	// A stale CAS (still using the original version) must be rejected.
	err = q.WriteHeaderCAS(ctx, 0, version, header)
	require.Error(t, err)
}

func TestQueuePutListRemoveEntry(t *testing.T) {
	ctx := context.Background()
	q := lce.NewQueue(memstore.New(), "lc-pool", 4)

	require.NoError(t, q.PutEntry(ctx, 1, lce.Entry{BucketKey: "t:a:1", Status: lce.StatusUninitial}))
	require.NoError(t, q.PutEntry(ctx, 1, lce.Entry{BucketKey: "t:b:1", Status: lce.StatusUninitial}))
	require.NoError(t, q.PutEntry(ctx, 1, lce.Entry{BucketKey: "t:c:1", Status: lce.StatusUninitial}))

	entries, next, truncated, err := q.ListEntries(ctx, 1, "", 1000)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Len(t, entries, 3)
	require.Equal(t, "t:a:1", entries[0].BucketKey)
	require.Equal(t, "t:b:1", entries[1].BucketKey)
	require.Equal(t, "t:c:1", entries[2].BucketKey)

	require.NoError(t, q.RemoveEntry(ctx, 1, "t:b:1"))
	entries, _, _, err = q.ListEntries(ctx, 1, "", 1000)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Removing an already-absent entry is a no-op, not an error.
	require.NoError(t, q.RemoveEntry(ctx, 1, "t:b:1"))
}

func TestQueueNextEntryAfterOrdering(t *testing.T) {
	ctx := context.Background()
	q := lce.NewQueue(memstore.New(), "lc-pool", 4)

	require.NoError(t, q.PutEntry(ctx, 2, lce.Entry{BucketKey: "t:a:1"}))
	require.NoError(t, q.PutEntry(ctx, 2, lce.Entry{BucketKey: "t:b:1"}))
	require.NoError(t, q.PutEntry(ctx, 2, lce.Entry{BucketKey: "t:c:1"}))

	first, found, err := q.NextEntryAfter(ctx, 2, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "t:a:1", first.BucketKey)

	second, found, err := q.NextEntryAfter(ctx, 2, first.BucketKey)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "t:b:1", second.BucketKey)

	third, found, err := q.NextEntryAfter(ctx, 2, second.BucketKey)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "t:c:1", third.BucketKey)

	_, found, err = q.NextEntryAfter(ctx, 2, third.BucketKey)
	require.NoError(t, err)
	require.False(t, found)
}

func TestQueueNextEntryAfterEmptyShardIsNotFound(t *testing.T) {
	ctx := context.Background()
	q := lce.NewQueue(memstore.New(), "lc-pool", 4)

	_, found, err := q.NextEntryAfter(ctx, 3, "")
	require.NoError(t, err)
	require.False(t, found)
}

func TestNewQueueShardCountDefaultsAndCaps(t *testing.T) {
	q := lce.NewQueue(memstore.New(), "p", 0)
	require.Equal(t, lce.DefaultShards, q.NumShards())

	q = lce.NewQueue(memstore.New(), "p", lce.MaxShards+100)
	require.Equal(t, lce.MaxShards, q.NumShards())
}
