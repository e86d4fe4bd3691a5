// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rgwsync/gateway/pkg/gwhttp"
	"github.com/rgwsync/gateway/private/sync2"
)

// dataTrimInterval is the trim loop's poll period (§4.4.11).
const dataTrimInterval = time.Minute

// Trimmer is implemented by the local data-change log; trim failures are
// reported but never fatal (§4.3 "Failure semantics").
type Trimmer interface {
	TrimEntries(ctx context.Context, shard int, marker string) error
}

// PeerStatusSource answers the trim loop's "ask every peer for its sync
// status" step (§4.4.11 step 1).
type PeerStatusSource interface {
	DataSyncStatus(ctx context.Context, sourceZone string) (gwhttp.DataSyncStatusResponse, error)
}

// TrimLoop runs the coordinated data-log trim. Callers holding the
// process-wide "data_trim" lease (see private/lease) are the only ones
// that should run a TrimLoop; it does not acquire the lease itself, since
// that is a one-time startup decision rather than a per-cycle concern.
type TrimLoop struct {
	trimmer   Trimmer
	peers     map[string]PeerStatusSource
	numShards int
	log       *zap.Logger

	lastTrim map[int]string
}

// NewTrimLoop returns a trim loop over numShards local data-log shards,
// polling peers for their sync status.
func NewTrimLoop(trimmer Trimmer, peers map[string]PeerStatusSource, numShards int, log *zap.Logger) *TrimLoop {
	return &TrimLoop{
		trimmer:   trimmer,
		peers:     peers,
		numShards: numShards,
		log:       log,
		lastTrim:  map[int]string{},
	}
}

// Run drives the trim loop until ctx is canceled.
func (t *TrimLoop) Run(ctx context.Context) error {
	cycle := sync2.NewCycle(dataTrimInterval)
	return cycle.Run(ctx, t.runOnce)
}

func (t *TrimLoop) runOnce(ctx context.Context) error {
	stableMarkers := make([]string, t.numShards)
	haveAny := make([]bool, t.numShards)

	for zone, peer := range t.peers {
		status, err := peer.DataSyncStatus(ctx, zone)
		if err != nil {
			if t.log != nil {
				t.log.Warn("trim loop: peer status fetch failed", zap.String("zone", zone), zap.Error(err))
			}
			continue
		}
		for i, marker := range status.Markers {
			if i >= t.numShards {
				break
			}
			stable := marker.Marker
			if marker.State == gwhttp.SyncMarkerFullSync {
				stable = marker.NextStepMarker
			}
			if !haveAny[i] || stable < stableMarkers[i] {
				stableMarkers[i] = stable
				haveAny[i] = true
			}
		}
	}

	for shard := 0; shard < t.numShards; shard++ {
		if !haveAny[shard] {
			continue
		}
		min := stableMarkers[shard]
		if min == "" {
			continue
		}
		if last, ok := t.lastTrim[shard]; ok && last >= min {
			continue
		}
		if err := t.trimmer.TrimEntries(ctx, shard, min); err != nil {
			if t.log != nil {
				t.log.Warn("trim_entries failed", zap.Int("shard", shard), zap.Error(err))
			}
			continue
		}
		t.lastTrim[shard] = min
	}
	return nil
}
