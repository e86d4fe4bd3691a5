// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resharder_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/resharder"
	"github.com/rgwsync/gateway/pkg/rgwkey"
)

func TestCanReshard(t *testing.T) {
	layout := rgwkey.Layout{Current: rgwkey.IndexLayout{Gen: 1, NumShards: 4}}
	require.NoError(t, resharder.CanReshard(layout))

	// An in-progress layout alone does not fail the check: Reshard
	// supersedes a stale target with a higher generation.
	layout.Resharding = rgwkey.ReshardInProgress
	layout.Target = &rgwkey.IndexLayout{Gen: 2, NumShards: 8}
	require.NoError(t, resharder.CanReshard(layout))

	layout.Resharding = rgwkey.ReshardNone
	layout.Target = nil
	for i := 0; i < 5; i++ {
		layout.Logs = append(layout.Logs, rgwkey.LogGenRef{Gen: uint64(i + 1)})
	}
	require.Error(t, resharder.CanReshard(layout))
}

func TestShardStatsAdd(t *testing.T) {
	var stats resharder.ShardStats
	stats.Add(resharder.BiEntry{Category: resharder.CategoryNormal, Size: 100, SizeRounded: 128, ActualSize: 100})
	stats.Add(resharder.BiEntry{Category: resharder.CategoryNormal, Size: 50, SizeRounded: 64, ActualSize: 50})
	stats.Add(resharder.BiEntry{Category: resharder.CategoryDeleteMarker})

	normal := stats.ByCategory[resharder.CategoryNormal]
	require.EqualValues(t, 2, normal.NumEntries)
	require.EqualValues(t, 150, normal.TotalSize)
	require.EqualValues(t, 192, normal.TotalSizeRounded)
	require.EqualValues(t, 150, normal.ActualSize)

	markers := stats.ByCategory[resharder.CategoryDeleteMarker]
	require.EqualValues(t, 1, markers.NumEntries)
}

func TestGetTargetShardIDStable(t *testing.T) {
	entry := resharder.BiEntry{Object: "obj-1"}
	shard := resharder.GetTargetShardID(16, entry)
	require.Equal(t, shard, resharder.GetTargetShardID(16, entry))
	require.Less(t, shard, uint32(16))
}

func TestGetTargetShardIDGroupsMultipartParts(t *testing.T) {
	head := resharder.BiEntry{Object: "big-upload", Category: resharder.CategoryMultipart}
	part1 := resharder.BiEntry{Object: "big-upload.part1", Category: resharder.CategoryMultipart, MultipartHead: "big-upload"}
	part2 := resharder.BiEntry{Object: "big-upload.part2", Category: resharder.CategoryMultipart, MultipartHead: "big-upload"}

	headShard := resharder.GetTargetShardID(8, head)
	require.Equal(t, headShard, resharder.GetTargetShardID(8, part1))
	require.Equal(t, headShard, resharder.GetTargetShardID(8, part2))
}
