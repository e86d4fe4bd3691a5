// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/datasync"
)

func TestMarkerTrackerAdvancesOnlyThroughContiguousCompletions(t *testing.T) {
	var mu sync.Mutex
	var persisted []string

	tracker := datasync.NewMarkerTracker(3, func(marker string, pos int64, timestamp time.Time) {
		mu.Lock()
		defer mu.Unlock()
		persisted = append(persisted, marker)
	})

	now := time.Now()
	tracker.Start("m1", 0, now)
	tracker.Start("m2", 1, now.Add(time.Second))
	tracker.Start("m3", 2, now.Add(2*time.Second))

	// Finish out of order: positions 1 and 2 first, then 0 ("m1"). Until
	// position 0 finishes, the high mark must not advance past the gap at 0.
	tracker.Finish(1)
	mark, pos := tracker.HighMark()
	require.Equal(t, "", mark, "no contiguous prefix yet: position 0 is still pending")
	require.Zero(t, pos)

	tracker.Finish(2)
	mark, pos = tracker.HighMark()
	require.Equal(t, "", mark, "finishing 2 out of order must not skip the still-pending gap at 0")
	require.Zero(t, pos)

	tracker.Finish(0)
	mark, pos = tracker.HighMark()
	require.Equal(t, "m3", mark, "finishing the missing 0 must flush the whole contiguous run 0,1,2")
	require.Equal(t, int64(2), pos)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"m3"}, persisted, "persist must fire once, with the final contiguous high mark")
}

func TestMarkerTrackerSingleInOrderCompletion(t *testing.T) {
	var persisted []string
	tracker := datasync.NewMarkerTracker(1, func(marker string, pos int64, timestamp time.Time) {
		persisted = append(persisted, marker)
	})

	now := time.Now()
	tracker.Start("a", 0, now)
	tracker.Finish(0)

	mark, pos := tracker.HighMark()
	require.Equal(t, "a", mark)
	require.Zero(t, pos)
	require.Equal(t, []string{"a"}, persisted)

	tracker.Start("b", 1, now.Add(time.Second))
	tracker.Finish(1)
	mark, pos = tracker.HighMark()
	require.Equal(t, "b", mark)
	require.Equal(t, int64(1), pos)
}

func TestMarkerTrackerSeedPosition(t *testing.T) {
	tracker := datasync.NewMarkerTracker(1, nil)
	tracker.SeedPosition(5, "seed")

	mark, pos := tracker.HighMark()
	require.Equal(t, "seed", mark)
	require.Equal(t, int64(4), pos)

	tracker.Start("next", 5, time.Now())
	tracker.Finish(5)
	mark, pos = tracker.HighMark()
	require.Equal(t, "next", mark)
	require.Equal(t, int64(5), pos)
}
