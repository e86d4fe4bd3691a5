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

type staticPolicyStore struct {
	policy lce.Policy
}

func (s staticPolicyStore) GetPolicy(ctx context.Context, bucket string) (lce.Policy, error) {
	return s.policy, nil
}

type staticBinder struct {
	lister  lce.ObjectLister
	deleter lce.ObjectDeleter
}

func (b staticBinder) Bind(ctx context.Context, bucketKey string) (lce.ObjectLister, lce.ObjectDeleter, error) {
	return b.lister, b.deleter, nil
}

// emptyStore is an ObjectLister/ObjectDeleter double over a bucket with no
// objects: every listing call returns an empty, non-truncated page.
type emptyStore struct{}

func (emptyStore) ListObjects(ctx context.Context, bucket, prefix, marker string, max int) ([]lce.ObjectEntry, string, bool, error) {
	return nil, "", false, nil
}
func (emptyStore) ListVersions(ctx context.Context, bucket, prefix, marker string, max int) ([]lce.ObjectEntry, string, bool, error) {
	return nil, "", false, nil
}
func (emptyStore) ListMultipartUploads(ctx context.Context, bucket, prefix, marker string, max int) ([]lce.MultipartEntry, string, bool, error) {
	return nil, "", false, nil
}
func (emptyStore) StatObject(ctx context.Context, bucket, key, instance string) (lce.ObjectEntry, error) {
	return lce.ObjectEntry{}, lce.Error.New("not found")
}
func (emptyStore) DeleteObject(ctx context.Context, bucket, key, instance string, removeIndeed bool) error {
	return nil
}
func (emptyStore) CreateDeleteMarker(ctx context.Context, bucket, key string) error { return nil }
func (emptyStore) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	return nil
}

func newTestEngine(client *memstore.Store, queue *lce.Queue, policy lce.Policy) *lce.Engine {
	// A generous debug interval keeps every staleness/same-day window
	// comfortably wider than a test's own execution time.
	return lce.NewEngine(client, "lc-pool", queue, staticPolicyStore{policy: policy}, staticBinder{lister: emptyStore{}, deleter: emptyStore{}}, 2, lce.DefaultWorkWindow, time.Hour, nil)
}

// TestEngineRunShardProcessesQueuedEntries covers §4.6 steps 1-7 end to
// end: a fresh shard with two queued buckets is swept once, both entries
// land in StatusComplete, and the header records the run's start date.
func TestEngineRunShardProcessesQueuedEntries(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	queue := lce.NewQueue(client, "lc-pool", 4)

	require.NoError(t, queue.PutEntry(ctx, 0, lce.Entry{BucketKey: "t:alpha:m1"}))
	require.NoError(t, queue.PutEntry(ctx, 0, lce.Entry{BucketKey: "t:beta:m1"}))

	engine := newTestEngine(client, queue, lce.Policy{Rules: []lce.Rule{
		{ID: "r1", Enabled: true, ExpirationDays: 30},
	}})

	require.NoError(t, engine.RunShard(ctx, 0))

	entries, _, _, err := queue.ListEntries(ctx, 0, "", 1000)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, lce.StatusComplete, e.Status)
	}

	header, _, err := queue.ReadHeader(ctx, 0)
	require.NoError(t, err)
	require.False(t, header.StartDate.IsZero())
	require.Empty(t, header.CurrentBucket, "shard must release its in-flight marker once the sweep completes")
}

// TestEngineRunShardSameDayIsNoop covers step 3: a shard whose header
// already started today (debug interval as the day unit here) must not
// reprocess its entries.
func TestEngineRunShardSameDayIsNoop(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	queue := lce.NewQueue(client, "lc-pool", 4)
	require.NoError(t, queue.PutEntry(ctx, 0, lce.Entry{BucketKey: "t:alpha:m1"}))

	header, version, err := queue.ReadHeader(ctx, 0)
	require.NoError(t, err)
	header.StartDate = time.Now()
	require.NoError(t, queue.WriteHeaderCAS(ctx, 0, version, header))

	engine := newTestEngine(client, queue, lce.Policy{Rules: []lce.Rule{
		{ID: "r1", Enabled: true, ExpirationDays: 30},
	}})
	require.NoError(t, engine.RunShard(ctx, 0))

	entries, _, _, err := queue.ListEntries(ctx, 0, "", 1000)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, lce.StatusUninitial, entries[0].Status, "a same-day shard must not touch its entries")
}

// TestEngineRunShardStaleCachedEntrySkipsOwnedBucket covers step 2: a
// shard whose cached CurrentBucket is fresh (not yet past the staleness
// window) is still owned by another processor and must be left alone.
func TestEngineRunShardStaleCachedEntrySkipsOwnedBucket(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	queue := lce.NewQueue(client, "lc-pool", 4)

	header, version, err := queue.ReadHeader(ctx, 0)
	require.NoError(t, err)
	header.CurrentBucket = "t:alpha:m1"
	header.CurrentSince = time.Now()
	require.NoError(t, queue.WriteHeaderCAS(ctx, 0, version, header))

	engine := newTestEngine(client, queue, lce.Policy{})
	require.NoError(t, engine.RunShard(ctx, 0))

	got, _, err := queue.ReadHeader(ctx, 0)
	require.NoError(t, err)
	require.True(t, got.StartDate.IsZero(), "a shard owned by another processor must not start a new sweep")
}

// TestEngineRunSweepVisitsAllShards covers the random-permutation full
// sweep across every shard in the queue.
func TestEngineRunSweepVisitsAllShards(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	queue := lce.NewQueue(client, "lc-pool", 3)
	for n := 0; n < 3; n++ {
		require.NoError(t, queue.PutEntry(ctx, n, lce.Entry{BucketKey: "t:b:m1"}))
	}

	engine := newTestEngine(client, queue, lce.Policy{Rules: []lce.Rule{
		{ID: "r1", Enabled: true, ExpirationDays: 30},
	}})
	require.NoError(t, engine.RunSweep(ctx))

	for n := 0; n < 3; n++ {
		header, _, err := queue.ReadHeader(ctx, n)
		require.NoError(t, err)
		require.False(t, header.StartDate.IsZero(), "every shard must be swept")
	}
}
