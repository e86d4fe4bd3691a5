// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package datalog implements the data-change log (DCL) and its two
// pluggable backends (§4.1–4.3): an ordered-omap log and a FIFO log, a
// generations manager that tracks the totally ordered sequence of log
// generations (§4.2), and the coalescing/renewal engine that turns a storm
// of per-bucket-shard writes into bounded log entries (§4.3).
package datalog

import (
	"context"
	"strconv"
	"time"

	"github.com/zeebo/errs"
)

// Error is the datalog package's error class.
var Error = errs.Class("datalog")

// EntityType discriminates what a DataChange entry names (§3).
type EntityType int

// Entity type discriminators.
const (
	EntityUnknown EntityType = iota
	EntityBucket
)

// DataChange is the payload of one log entry (§3).
type DataChange struct {
	EntityType EntityType
	Key        string
	Timestamp  time.Time
}

// LogEntry is a data-change entry as stored (§3): log_id is backend-specific
// and monotonically increasing within a shard.
type LogEntry struct {
	LogID     string
	Timestamp time.Time
	Entry     DataChange
}

// PreparedEntry is a backend-native batched record built by Prepare, ready
// to Push with no further encoding work — Prepare itself performs no I/O.
type PreparedEntry struct {
	Now     time.Time
	Key     string
	Payload DataChange
}

// LogBackend abstracts one per-shard append log (§4.1). Implementations:
// ordered-omap (orderedomap.go) and FIFO (fifo.go).
type LogBackend interface {
	// Prepare constructs a batched record with no I/O.
	Prepare(now time.Time, key string, change DataChange) PreparedEntry

	// Push atomically appends entries to shard's log object.
	Push(ctx context.Context, shard int, entries []PreparedEntry) error

	// PushOne is shorthand for Push with a single Prepare'd entry.
	PushOne(ctx context.Context, shard int, now time.Time, key string, change DataChange) error

	// List returns entries ordered by marker, the next marker to resume
	// from, and whether more remain. ENOENT yields (nil, "", false, nil).
	List(ctx context.Context, shard int, max int, fromMarker string) (entries []LogEntry, nextMarker string, more bool, err error)

	// GetInfo returns the shard's highest marker and its timestamp.
	GetInfo(ctx context.Context, shard int) (maxMarker string, lastUpdate time.Time, err error)

	// Trim removes entries with marker <= upToMarker. ENOENT is success.
	Trim(ctx context.Context, shard int, upToMarker string) error

	// MaxMarker returns a sentinel string greater than any real marker.
	MaxMarker() string
}

// ShardObjectName returns the per-shard object name for a log with the given
// prefix and generation: "{prefix}.{shard}" for generation 0,
// "{prefix}@G{gen}.{shard}" otherwise (§4.1).
func ShardObjectName(prefix string, gen uint64, shard int) string {
	if gen == 0 {
		return prefix + "." + strconv.Itoa(shard)
	}
	return prefix + "@G" + strconv.FormatUint(gen, 10) + "." + strconv.Itoa(shard)
}
