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

func TestObjstorePolicyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	store := lce.NewObjstorePolicyStore(client, "lc-pool")

	empty, err := store.GetPolicy(ctx, "t:bucket:m1")
	require.NoError(t, err)
	require.Empty(t, empty.Rules)

	policy := lce.Policy{Rules: []lce.Rule{{ID: "r1", Enabled: true, ExpirationDays: 30}}}
	require.NoError(t, store.PutPolicy(ctx, "t:bucket:m1", policy))

	got, err := store.GetPolicy(ctx, "t:bucket:m1")
	require.NoError(t, err)
	require.Equal(t, policy, got)
}

func TestObjstoreBucketIndexListAndDelete(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	idx := lce.NewObjstoreBucketIndex(client, "lc-pool", "t:bucket:m1")

	seedObjstoreEntry(t, client, "t:bucket:m1", "a.txt", "", true, false, time.Now().Add(-48*time.Hour), nil)
	seedObjstoreEntry(t, client, "t:bucket:m1", "b.txt", "", true, false, time.Now().Add(-1*time.Hour), nil)

	entries, _, truncated, err := idx.ListObjects(ctx, "t:bucket:m1", "", "", 1000)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Len(t, entries, 2)

	fresh, err := idx.StatObject(ctx, "t:bucket:m1", "a.txt", "")
	require.NoError(t, err)
	require.True(t, fresh.IsCurrent)

	require.NoError(t, idx.DeleteObject(ctx, "t:bucket:m1", "a.txt", "", true))
	_, err = idx.StatObject(ctx, "t:bucket:m1", "a.txt", "")
	require.Error(t, err)

	entries, _, _, err = idx.ListObjects(ctx, "t:bucket:m1", "", "", 1000)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestObjstoreBucketIndexCreateDeleteMarkerSupersedesCurrent(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	idx := lce.NewObjstoreBucketIndex(client, "lc-pool", "t:bucket:m1")

	seedObjstoreEntry(t, client, "t:bucket:m1", "a.txt", "v1", true, false, time.Now().Add(-48*time.Hour), nil)

	require.NoError(t, idx.CreateDeleteMarker(ctx, "t:bucket:m1", "a.txt"))

	versions, _, _, err := idx.ListVersions(ctx, "t:bucket:m1", "", "", 1000)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.True(t, versions[0].IsCurrent)
	require.True(t, versions[0].IsDeleteMarker)
	require.False(t, versions[1].IsCurrent)
}

func TestObjstoreBucketBinderBind(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	binder := lce.NewObjstoreBucketBinder(client, "lc-pool")
	lister, deleter, err := binder.Bind(ctx, "t:bucket:m1")
	require.NoError(t, err)
	require.NotNil(t, lister)
	require.NotNil(t, deleter)
}

func seedObjstoreEntry(t *testing.T, client *memstore.Store, bucket, key, instance string, current, deleteMarker bool, mtime time.Time, tags map[string]string) {
	t.Helper()
	idx := lce.NewObjstoreBucketIndex(client, "lc-pool", bucket)
	require.NoError(t, idx.PutEntry(context.Background(), lce.ObjectEntry{
		Key: key, Instance: instance, IsCurrent: current, IsDeleteMarker: deleteMarker, MTime: mtime, Tags: tags,
	}))
}
