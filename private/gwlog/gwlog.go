// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gwlog collects the zap field conventions shared across the
// gateway's engines, so a bucket-shard or a log generation is always
// logged the same way regardless of which package is doing the logging.
package gwlog

import (
	"time"

	"go.uber.org/zap"
)

// Bucket names a tenant/bucket pair.
func Bucket(tenant, name string) zap.Field {
	return zap.String("bucket", tenant+"/"+name)
}

// Zone names a replication zone.
func Zone(zone string) zap.Field {
	return zap.String("zone", zone)
}

// Shard identifies a log or bucket-index shard number.
func Shard(shard int) zap.Field {
	return zap.Int("shard", shard)
}

// Generation identifies a data-log generation id.
func Generation(gen uint64) zap.Field {
	return zap.Uint64("generation", gen)
}

// Marker logs an opaque log-position marker, truncated so noisy log
// output doesn't carry the full omap key encoding.
func Marker(marker string) zap.Field {
	const maxLen = 64
	if len(marker) > maxLen {
		marker = marker[:maxLen] + "..."
	}
	return zap.String("marker", marker)
}

// Obligation logs the (bucket-shard, timestamp) pair a sync obligation is
// keyed on (§4.4.4).
func Obligation(bucketShard string, timestamp time.Time) []zap.Field {
	return []zap.Field{zap.String("bucket_shard", bucketShard), zap.Time("obligation_timestamp", timestamp)}
}

// RingBuffer is a fixed-capacity, oldest-overwritten log of the last N
// entries of type T, shared by every engine that keeps a recent-errors
// tail for its admin/status endpoints (e.g. §4.4's sync-error log).
type RingBuffer[T any] struct {
	capacity int
	entries  []T
	next     int
	full     bool
}

// NewRingBuffer returns a RingBuffer holding at most capacity entries.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{capacity: capacity, entries: make([]T, capacity)}
}

// Append records e, overwriting the oldest entry once capacity is reached.
func (r *RingBuffer[T]) Append(e T) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns the buffered entries oldest-first.
func (r *RingBuffer[T]) Recent() []T {
	if !r.full {
		out := make([]T, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]T, r.capacity)
	copy(out, r.entries[r.next:])
	copy(out[r.capacity-r.next:], r.entries[:r.next])
	return out
}
