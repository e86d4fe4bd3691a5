// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/datasync"
)

func TestStateCacheAdmitsFirstObligation(t *testing.T) {
	cache := datasync.NewStateCache()
	now := time.Now()

	admitted, runCtx, epoch, done := cache.Admit(context.Background(), "b:0", now, 1)
	require.True(t, admitted)
	require.NotNil(t, runCtx)
	require.NoError(t, runCtx.Err())
	require.Zero(t, epoch)
	require.NotNil(t, done)
}

func TestStateCacheRefusesStaleOrEqualObligation(t *testing.T) {
	cache := datasync.NewStateCache()
	now := time.Now()

	admitted, _, _, done := cache.Admit(context.Background(), "b:0", now, 1)
	require.True(t, admitted)
	defer done(now)

	admitted, _, _, _ = cache.Admit(context.Background(), "b:0", now, 1)
	require.False(t, admitted, "an equal-timestamp obligation must be refused")

	admitted, _, _, _ = cache.Admit(context.Background(), "b:0", now.Add(-time.Second), 1)
	require.False(t, admitted, "an older obligation must be refused")
}

func TestStateCacheSupersessionCancelsInFlight(t *testing.T) {
	cache := datasync.NewStateCache()
	now := time.Now()

	_, runCtx, epoch, _ := cache.Admit(context.Background(), "b:0", now, 1)

	newer := now.Add(time.Second)
	admitted, _, newEpoch, done := cache.Admit(context.Background(), "b:0", newer, 1)
	require.True(t, admitted)
	require.NotEqual(t, epoch, newEpoch)

	select {
	case <-runCtx.Done():
	default:
		t.Fatal("superseding obligation must cancel the prior one's context")
	}
	require.True(t, cache.Superseded("b:0", epoch))
	require.False(t, cache.Superseded("b:0", newEpoch))

	done(newer)
	require.True(t, cache.Superseded("b:0", newEpoch), "a finished obligation is no longer trackable as current")
}

func TestStateCacheDoneClearsObligation(t *testing.T) {
	cache := datasync.NewStateCache()
	now := time.Now()

	_, _, _, done := cache.Admit(context.Background(), "b:0", now, 7)
	_, _, ok := cache.Obligation("b:0")
	require.True(t, ok)

	done(now)
	_, _, ok = cache.Obligation("b:0")
	require.False(t, ok)

	// Once cleared, a fresh admission for the same key succeeds again.
	admitted, _, _, _ := cache.Admit(context.Background(), "b:0", now, 7)
	require.True(t, admitted)
}
