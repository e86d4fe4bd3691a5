// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package resharder implements the Bucket Resharder (BR, §4.5): an online
// split of a bucket index from its current shard count to a new one, plus
// the persistent reshard queue and the worker daemon that drains it.
package resharder

import (
	"github.com/zeebo/errs"

	"github.com/rgwsync/gateway/pkg/rgwkey"
)

// Error is the resharder package's error class.
var Error = errs.Class("resharder")

// maxHistoricalLogs bounds how many historical log generations a bucket may
// carry before a reshard is refused — peers still syncing an old generation
// cannot be abandoned (§4.5 "Precondition check").
const maxHistoricalLogs = 4

// CanReshard implements §4.5's precondition check.
func CanReshard(layout rgwkey.Layout) error {
	if len(layout.Logs) > maxHistoricalLogs {
		return Error.New("bucket carries %d historical logs, exceeds max %d", len(layout.Logs), maxHistoricalLogs)
	}
	return nil
}

// ObjCategory groups objects for the per-target-shard stats the copy step
// accumulates (§4.5 step 4).
type ObjCategory int

// Object categories.
const (
	CategoryNormal ObjCategory = iota
	CategoryMultipart
	CategoryDeleteMarker
)

// BiEntry is one bucket-index entry as listed from a source shard during
// the copy step (§4.5 step 4).
type BiEntry struct {
	Object         string
	Instance       string
	Category       ObjCategory
	Size           int64
	SizeRounded    int64
	ActualSize     int64
	// MultipartHead, when set, is the parent object's name: multipart
	// ".meta" parts are hashed under their parent head's name so every
	// part of one upload lands on the same target shard (§4.5 step 4).
	MultipartHead string
}

// hashKey returns the hash get_target_shard_id uses to place entry on a
// target shard. Multipart parts hash their parent head instead of
// themselves.
func (e BiEntry) hashKey() string {
	if e.MultipartHead != "" {
		return e.MultipartHead
	}
	return e.Object
}

// ShardStats accumulates the per-target-shard {num_entries, total_size,
// total_size_rounded, actual_size} tuple, broken down by category, that the
// copy step commits with each flushed batch (§4.5 step 4).
type ShardStats struct {
	ByCategory map[ObjCategory]CategoryStats
}

// CategoryStats is one category's running totals within a ShardStats.
type CategoryStats struct {
	NumEntries       int64
	TotalSize        int64
	TotalSizeRounded int64
	ActualSize       int64
}

// Add folds entry into the stats for its category.
func (s *ShardStats) Add(entry BiEntry) {
	if s.ByCategory == nil {
		s.ByCategory = map[ObjCategory]CategoryStats{}
	}
	c := s.ByCategory[entry.Category]
	c.NumEntries++
	c.TotalSize += entry.Size
	c.TotalSizeRounded += entry.SizeRounded
	c.ActualSize += entry.ActualSize
	s.ByCategory[entry.Category] = c
}

// GetTargetShardID implements §4.5 step 4's
// get_target_shard_id(target.layout, object.hash_object()).
func GetTargetShardID(numShards uint32, entry BiEntry) uint32 {
	if numShards == 0 {
		return 0
	}
	return fnv32(entry.hashKey()) % numShards
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h *= prime32
		h ^= uint32(s[i])
	}
	return h
}
