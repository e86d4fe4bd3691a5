// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/lce"
)

// fakeVersionedStore is an in-memory ObjectLister/ObjectDeleter double
// modeling one key's version chain: index 0 is current, the rest are
// non-current, newest-first — the same ordering bucket_lc_process assumes.
type fakeVersionedStore struct {
	mu      sync.Mutex
	key     string
	entries []lce.ObjectEntry // newest-first, entries[0].IsCurrent == true
	deleted []string          // "key/instance" of every hard-deleted version
	markers int               // number of delete-markers created
}

func (s *fakeVersionedStore) ListObjects(ctx context.Context, bucket, prefix, marker string, max int) ([]lce.ObjectEntry, string, bool, error) {
	return nil, "", false, nil
}

func (s *fakeVersionedStore) ListVersions(ctx context.Context, bucket, prefix, marker string, max int) ([]lce.ObjectEntry, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lce.ObjectEntry, len(s.entries))
	copy(out, s.entries)
	return out, "", false, nil
}

func (s *fakeVersionedStore) ListMultipartUploads(ctx context.Context, bucket, prefix, marker string, max int) ([]lce.MultipartEntry, string, bool, error) {
	return nil, "", false, nil
}

func (s *fakeVersionedStore) StatObject(ctx context.Context, bucket, key, instance string) (lce.ObjectEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Key == key && e.Instance == instance {
			return e, nil
		}
	}
	return lce.ObjectEntry{}, lce.Error.New("not found")
}

func (s *fakeVersionedStore) DeleteObject(ctx context.Context, bucket, key, instance string, removeIndeed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key+"/"+instance)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Key == key && e.Instance == instance {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return nil
}

func (s *fakeVersionedStore) CreateDeleteMarker(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers++
	for i := range s.entries {
		if s.entries[i].Key == key && s.entries[i].IsCurrent {
			s.entries[i].IsCurrent = false
		}
	}
	s.entries = append([]lce.ObjectEntry{{Key: key, Instance: "marker-1", IsCurrent: true, IsDeleteMarker: true, MTime: time.Now()}}, s.entries...)
	return nil
}

func (s *fakeVersionedStore) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	return nil
}

// TestLCScenario6VersionedExpiration implements spec Scenario 6: a current
// version 40 days old and a non-current version 50 days old, rule
// expiration.days=30 / noncur_expiration.days=20. The first run must create
// a delete-marker for the current version and hard-delete the non-current
// one; the second run does nothing further.
func TestLCScenario6VersionedExpiration(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := &fakeVersionedStore{
		key: "object-a",
		entries: []lce.ObjectEntry{
			{Key: "object-a", Instance: "v2", IsCurrent: true, MTime: now.Add(-40 * 24 * time.Hour)},
			{Key: "object-a", Instance: "v1", IsCurrent: false, MTime: now.Add(-50 * 24 * time.Hour)},
		},
	}
	policy := lce.Policy{Rules: []lce.Rule{
		{ID: "r1", Enabled: true, ExpirationDays: 30, NoncurrentExpirationDays: 20},
	}}

	proc := lce.NewProcessor(store, store, 2, 0, nil)
	require.NoError(t, proc.Process(ctx, "bucket", policy, time.Time{}))

	require.Equal(t, 1, store.markers)
	require.Contains(t, store.deleted, "object-a/v1")

	store.mu.Lock()
	deletedSoFar := len(store.deleted)
	store.mu.Unlock()

	require.NoError(t, proc.Process(ctx, "bucket", policy, time.Time{}))
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, deletedSoFar, len(store.deleted), "second run must not take further action")
}

func TestProcessorNoRulesIsNoop(t *testing.T) {
	ctx := context.Background()
	store := &fakeVersionedStore{}
	proc := lce.NewProcessor(store, store, 1, 0, nil)
	require.NoError(t, proc.Process(ctx, "bucket", lce.Policy{}, time.Time{}))
}
