// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/datalog"
	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/pkg/objstore/memstore"
)

type recordingHandler struct {
	initCalls     [][]uint64
	newGenCalls   [][]uint64
	emptyToCalls  []uint64
}

func (h *recordingHandler) HandleInit(nonEmpty []uint64)   { h.initCalls = append(h.initCalls, nonEmpty) }
func (h *recordingHandler) HandleNewGens(gens []uint64)     { h.newGenCalls = append(h.newGenCalls, gens) }
func (h *recordingHandler) HandleEmptyTo(newTail uint64)    { h.emptyToCalls = append(h.emptyToCalls, newTail) }

func newBackendFor(client objstore.Client) func(gen uint64, t datalog.BackendType) datalog.LogBackend {
	return func(gen uint64, t datalog.BackendType) datalog.LogBackend {
		if t == datalog.BackendFIFO {
			return datalog.NewFIFOBackend(client, "pool", "data_log", gen, 1000)
		}
		return datalog.NewOrderedOMapBackend(client, "pool", "data_log", gen)
	}
}

func TestGenerationsLifecycle(t *testing.T) {
	ctx := context.Background()
	client := memstore.New()
	metaRef := objstore.ObjectRef{Pool: "pool", OID: "data_log.meta"}
	handler := &recordingHandler{}

	gens := datalog.NewGenerations(client, metaRef, newBackendFor(client), handler)
	require.NoError(t, gens.Start(ctx))
	defer gens.Stop()

	require.Empty(t, handler.initCalls[0])
	_, _, ok := gens.Current()
	require.False(t, ok)

	gen0, err := gens.NewBacking(ctx, datalog.BackendOrderedOMap)
	require.NoError(t, err)
	require.EqualValues(t, 0, gen0)

	gen1, err := gens.NewBacking(ctx, datalog.BackendFIFO)
	require.NoError(t, err)
	require.EqualValues(t, 1, gen1)

	curGen, backend, ok := gens.Current()
	require.True(t, ok)
	require.EqualValues(t, 1, curGen)
	require.NotNil(t, backend)

	require.Len(t, handler.newGenCalls, 2)

	require.NoError(t, gens.EmptyTo(ctx, 0))
	require.Equal(t, []uint64{1}, handler.emptyToCalls[len(handler.emptyToCalls)-1:])
	require.Equal(t, []uint64{1}, gens.NonEmpty())

	require.NoError(t, gens.RemoveEmpty(ctx, 4))
	_, ok = gens.Backend(0)
	require.False(t, ok)
	_, ok = gens.Backend(1)
	require.True(t, ok)
}
