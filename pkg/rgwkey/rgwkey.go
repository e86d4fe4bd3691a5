// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package rgwkey holds the shared identity types every engine in this module
// agrees on: tenants, buckets, bucket-shards, and their canonical string
// encodings. Nothing here performs I/O.
package rgwkey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the class for malformed key encodings.
var Error = errs.Class("rgwkey")

// UnshardedShard is the shard id used for buckets with no index sharding.
const UnshardedShard = -1

// Bucket identifies a bucket incarnation. BucketID is immutable for a given
// index incarnation; Marker is assigned at creation and survives reshards.
// BucketID != Marker iff the bucket has been resharded at least once.
type Bucket struct {
	Tenant   string
	Name     string
	BucketID string
	Marker   string
}

// WasResharded reports whether this bucket has ever had its index rewritten.
func (b Bucket) WasResharded() bool {
	return b.BucketID != b.Marker
}

// String renders "tenant/name" the way bucket names are logged and matched
// against sync policy. An empty tenant renders just "name".
func (b Bucket) String() string {
	if b.Tenant == "" {
		return b.Name
	}
	return b.Tenant + "/" + b.Name
}

// InstanceKey renders the "tenant/name:bucket_id" form used by the bucket
// metadata endpoints (§6.2).
func (b Bucket) InstanceKey() string {
	return fmt.Sprintf("%s:%s", b.String(), b.BucketID)
}

// LifecycleKey renders "tenant:name:marker", the form the lifecycle queue
// entries use (§3).
func (b Bucket) LifecycleKey() string {
	return fmt.Sprintf("%s:%s:%s", b.Tenant, b.Name, b.Marker)
}

// Shard is one partition of a bucket's index, or the unsharded bucket itself
// when ID == UnshardedShard.
type Shard struct {
	Bucket Bucket
	ID     int32
}

// Key renders the canonical "tenant/name:bucket_id:shard_id" form used as the
// data-change entry key (§3, rgw_bucket_shard::key()).
func (s Shard) Key() string {
	return fmt.Sprintf("%s:%s:%d", s.Bucket.String(), s.Bucket.BucketID, s.ID)
}

// ParseShardKey inverts Key. It accepts both tenant-qualified and bare bucket
// names; the bucket_id and shard_id fields are always the last two
// colon-separated components so a tenant or bucket name containing ':' would
// be ambiguous — same limitation the source format has.
func ParseShardKey(key string) (Shard, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return Shard{}, Error.New("malformed bucket-shard key %q", key)
	}
	shardID, err := strconv.ParseInt(parts[len(parts)-1], 10, 32)
	if err != nil {
		return Shard{}, Error.Wrap(err)
	}
	bucketID := parts[len(parts)-2]
	namePart := strings.Join(parts[:len(parts)-2], ":")

	tenant, name := "", namePart
	if idx := strings.IndexByte(namePart, '/'); idx >= 0 {
		tenant, name = namePart[:idx], namePart[idx+1:]
	}

	return Shard{
		Bucket: Bucket{Tenant: tenant, Name: name, BucketID: bucketID},
		ID:     int32(shardID),
	}, nil
}

// LogShard selects the data-log shard a bucket-shard's changes hash to
// (§4.3 step 1): (hash(bucket_name) + max(shard_id,0)) mod num_shards.
func LogShard(bucketName string, shardID int32, numLogShards int) int {
	if numLogShards <= 0 {
		return 0
	}
	h := fnv32(bucketName)
	effective := shardID
	if effective < 0 {
		effective = 0
	}
	return int((uint64(h) + uint64(effective)) % uint64(numLogShards))
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

// IndexType distinguishes a normally-sharded bucket index from an indexless
// one (objects are never listable, used for write-mostly buckets).
type IndexType int

// Index type discriminators.
const (
	IndexNormal IndexType = iota
	IndexIndexless
)

// IndexLayout describes one index incarnation (§3 current_index/target_index).
type IndexLayout struct {
	Gen       uint64
	NumShards uint32
	Type      IndexType
}

// ReshardState tracks whether a bucket layout has an in-progress reshard.
type ReshardState int

// Reshard states.
const (
	ReshardNone ReshardState = iota
	ReshardInProgress
)

// LogGenRef records one historical log generation a bucket layout still
// depends on (§3 logs[]).
type LogGenRef struct {
	Gen     uint64
	InIndex struct{ Gen uint64 }
}

// Layout is the full per-bucket layout record (§3).
type Layout struct {
	Current    IndexLayout
	Target     *IndexLayout
	Logs       []LogGenRef
	Resharding ReshardState
}

// Validate checks the invariants §3 states for a layout: target.gen >
// current.gen, and resharding implies a target is present.
func (l Layout) Validate() error {
	if l.Resharding == ReshardInProgress && l.Target == nil {
		return Error.New("resharding=InProgress but target_index is nil")
	}
	if l.Target != nil && l.Target.Gen <= l.Current.Gen {
		return Error.New("target_index.gen %d must be > current_index.gen %d", l.Target.Gen, l.Current.Gen)
	}
	return nil
}
