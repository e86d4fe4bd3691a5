// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datalog

import (
	"go.uber.org/zap"

	"github.com/rgwsync/gateway/pkg/objstore"
)

// NewBackendFactory returns the newBackend callback NewGenerations needs,
// dispatching on BackendType the same way rgw_bucket_sync_policy's
// log_type switch does (§9): BackendOrderedOMap for the common case,
// BackendFIFO where a generation was created under cls_fifo semantics.
func NewBackendFactory(client objstore.Client, pool, prefix string, maxPartEntries int) func(gen uint64, t BackendType) LogBackend {
	return func(gen uint64, t BackendType) LogBackend {
		switch t {
		case BackendFIFO:
			return NewFIFOBackend(client, pool, prefix, gen, maxPartEntries)
		default:
			return NewOrderedOMapBackend(client, pool, prefix, gen)
		}
	}
}

// LoggingGenerationsHandler is the production GenerationsHandler: the
// change log itself needs no callback on generation transitions (readers
// always consult Generations directly), so the only useful production
// behavior left is observability. Grounded on the same "NewX(log
// *zap.Logger)" wiring shape every engine constructor in this module takes.
type LoggingGenerationsHandler struct {
	Log *zap.Logger
}

// HandleInit implements GenerationsHandler.
func (h LoggingGenerationsHandler) HandleInit(nonEmpty []uint64) {
	if h.Log == nil {
		return
	}
	h.Log.Info("datalog generations loaded", zap.Uint64s("non_empty", nonEmpty))
}

// HandleNewGens implements GenerationsHandler.
func (h LoggingGenerationsHandler) HandleNewGens(gens []uint64) {
	if h.Log == nil {
		return
	}
	h.Log.Info("datalog generation added", zap.Uint64s("gens", gens))
}

// HandleEmptyTo implements GenerationsHandler.
func (h LoggingGenerationsHandler) HandleEmptyTo(newTail uint64) {
	if h.Log == nil {
		return
	}
	h.Log.Info("datalog generations trimmed", zap.Uint64("new_tail", newTail))
}
