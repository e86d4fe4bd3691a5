// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/lce"
)

func TestParseWorkWindow(t *testing.T) {
	w, err := lce.ParseWorkWindow("00:00-06:00")
	require.NoError(t, err)
	require.Equal(t, lce.DefaultWorkWindow, w)

	_, err = lce.ParseWorkWindow("not-a-window")
	require.Error(t, err)
}

func TestWorkWindowInWindowWrapsMidnight(t *testing.T) {
	w := lce.DefaultWorkWindow // 00:00-06:00
	inside := time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	require.True(t, w.InWindow(inside))
	require.False(t, w.InWindow(outside))

	wrapping := lce.WorkWindow{StartHour: 22, EndHour: 2}
	require.True(t, wrapping.InWindow(time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC)))
	require.True(t, wrapping.InWindow(time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC)))
	require.False(t, wrapping.InWindow(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)))
}

func TestNextWakeupDebugIntervalOverridesWindow(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	next := lce.NextWakeup(now, lce.DefaultWorkWindow, 5*time.Second)
	require.Equal(t, now.Add(5*time.Second), next)
}

func TestNextWakeupWaitsForWindow(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	next := lce.NextWakeup(now, lce.DefaultWorkWindow, 0)
	require.Equal(t, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), next)
}

func TestNextWakeupImmediateInsideWindow(t *testing.T) {
	now := time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	next := lce.NextWakeup(now, lce.DefaultWorkWindow, 0)
	require.Equal(t, now, next)
}
