// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package datasync implements the Incremental Data Sync Engine (IDSE, §4.4):
// per-source-zone sync bootstrap, full-sync map building, per-shard
// incremental sync state machines, bucket-level sync, and the marker
// trackers and error-repo that make out-of-order completion safe to
// persist.
package datasync

import (
	"sync"
	"time"

	"github.com/zeebo/errs"
)

// Error is the datasync package's error class.
var Error = errs.Class("datasync")

// PersistFunc is invoked whenever the tracker's high-water mark advances,
// with the new contiguous marker, its position, and its timestamp.
type PersistFunc func(marker string, pos int64, timestamp time.Time)

type pendingMark struct {
	marker    string
	pos       int64
	timestamp time.Time
}

// MarkerTracker is a bounded out-of-order completion tracker (§4.4.6): it
// persists only the highest contiguous completed prefix, never skipping
// over a still-pending gap. Window size 1 is used for data-sync markers,
// 10 for bucket-index markers.
type MarkerTracker struct {
	mu      sync.Mutex
	window  int
	persist PersistFunc

	nextPos  int64          // position of the next marker expected to start
	inFlight map[int64]pendingMark // started but not finished, by pos
	done     map[int64]pendingMark // finished but not yet contiguous, by pos
	highMark string
	highPos  int64
	sem      chan struct{} // bounds concurrent in-flight starts to window
}

// NewMarkerTracker returns a tracker with the given bounded concurrency
// window, calling persist each time the contiguous high-water mark
// advances.
func NewMarkerTracker(window int, persist PersistFunc) *MarkerTracker {
	if window <= 0 {
		window = 1
	}
	return &MarkerTracker{
		window:   window,
		persist:  persist,
		inFlight: map[int64]pendingMark{},
		done:     map[int64]pendingMark{},
		sem:      make(chan struct{}, window),
	}
}

// Start registers a pending completion for marker at sequential position
// pos. Callers must call Start in position order (§4.4.6). It blocks until
// a window slot is free.
func (t *MarkerTracker) Start(marker string, pos int64, timestamp time.Time) {
	t.sem <- struct{}{}
	t.mu.Lock()
	t.inFlight[pos] = pendingMark{marker: marker, pos: pos, timestamp: timestamp}
	t.mu.Unlock()
}

// Finish marks pos complete, advancing the persisted contiguous marker as
// far as the completed set allows.
func (t *MarkerTracker) Finish(pos int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pm, ok := t.inFlight[pos]
	if !ok {
		return // already finished, or never started under this tracker
	}
	delete(t.inFlight, pos)
	t.done[pos] = pm
	<-t.sem

	advanced := false
	var lastTimestamp time.Time
	for {
		next, ok := t.done[t.nextPos]
		if !ok {
			break
		}
		delete(t.done, t.nextPos)
		t.highMark = next.marker
		t.highPos = next.pos
		lastTimestamp = next.timestamp
		t.nextPos++
		advanced = true
	}
	if advanced && t.persist != nil {
		t.persist(t.highMark, t.highPos, lastTimestamp)
	}
}

// HighMark returns the highest contiguous completed marker and position.
func (t *MarkerTracker) HighMark() (string, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highMark, t.highPos
}

// SeedPosition primes the tracker's next expected position, used when
// resuming a shard whose persisted marker is not position 0.
func (t *MarkerTracker) SeedPosition(pos int64, marker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextPos = pos
	t.highPos = pos - 1
	t.highMark = marker
}
