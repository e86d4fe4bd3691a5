// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/datalog"
	"github.com/rgwsync/gateway/pkg/objstore/memstore"
)

func runBackendConformance(t *testing.T, backend datalog.LogBackend) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entries, marker, more, err := backend.List(ctx, 0, 10, "")
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Empty(t, marker)
	require.False(t, more)

	for i := 0; i < 5; i++ {
		err := backend.PushOne(ctx, 0, now.Add(time.Duration(i)*time.Second), "bucket-a", datalog.DataChange{
			EntityType: datalog.EntityBucket,
			Key:        "bucket-a",
			Timestamp:  now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	entries, marker, more, err = backend.List(ctx, 0, 3, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.True(t, more)
	require.NotEmpty(t, marker)

	rest, _, more, err := backend.List(ctx, 0, 10, marker)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.False(t, more)

	maxMarker, lastUpdate, err := backend.GetInfo(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, maxMarker)
	require.False(t, lastUpdate.IsZero())

	require.NoError(t, backend.Trim(ctx, 0, marker))
	remaining, _, _, err := backend.List(ctx, 0, 10, "")
	require.NoError(t, err)
	require.Len(t, remaining, 2)

	require.NotEmpty(t, backend.MaxMarker())
}

func TestOrderedOMapBackend(t *testing.T) {
	client := memstore.New()
	backend := datalog.NewOrderedOMapBackend(client, "pool", "data_log", 0)
	runBackendConformance(t, backend)
}

func TestFIFOBackend(t *testing.T) {
	client := memstore.New()
	backend := datalog.NewFIFOBackend(client, "pool", "data_log", 0, 1000)
	runBackendConformance(t, backend)
}

func TestShardObjectName(t *testing.T) {
	require.Equal(t, "data_log.3", datalog.ShardObjectName("data_log", 0, 3))
	require.Equal(t, "data_log@G2.3", datalog.ShardObjectName("data_log", 2, 3))
}
