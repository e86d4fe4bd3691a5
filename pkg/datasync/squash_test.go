// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/gwhttp"
)

func TestSquashBilogKeepsNewestPerObjectInstance(t *testing.T) {
	t0 := time.Now()
	entries := []gwhttp.BilogEntry{
		{Object: "o1", Instance: "i1", Op: gwhttp.BilogAdd, Timestamp: t0},
		{Object: "o1", Instance: "i1", Op: gwhttp.BilogDel, Timestamp: t0.Add(time.Second)},
		{Object: "o2", Instance: "i1", Op: gwhttp.BilogAdd, Timestamp: t0},
	}

	survive := squashBilog(entries)
	require.Equal(t, []bool{false, true, true}, survive)
}

func TestSquashBilogPrefersOLHEpochOnTimestampTie(t *testing.T) {
	t0 := time.Now()
	entries := []gwhttp.BilogEntry{
		{Object: "o1", Instance: "i1", Op: gwhttp.BilogAdd, Timestamp: t0, OLHEpoch: 0},
		{Object: "o1", Instance: "i1", Op: gwhttp.BilogLinkOLH, Timestamp: t0, OLHEpoch: 3},
	}

	survive := squashBilog(entries)
	require.Equal(t, []bool{false, true}, survive)
}

func TestSquashBilogDoesNotDowngradeFromEpochOnTie(t *testing.T) {
	t0 := time.Now()
	entries := []gwhttp.BilogEntry{
		{Object: "o1", Instance: "i1", Op: gwhttp.BilogLinkOLH, Timestamp: t0, OLHEpoch: 3},
		{Object: "o1", Instance: "i1", Op: gwhttp.BilogAdd, Timestamp: t0, OLHEpoch: 0},
	}

	survive := squashBilog(entries)
	require.Equal(t, []bool{true, false}, survive, "an epoch-bearing op at the same timestamp must not be displaced by a later non-epoch op")
}

func TestSquashBilogDistinctInstancesBothSurvive(t *testing.T) {
	t0 := time.Now()
	entries := []gwhttp.BilogEntry{
		{Object: "o1", Instance: "i1", Op: gwhttp.BilogAdd, Timestamp: t0},
		{Object: "o1", Instance: "i2", Op: gwhttp.BilogAdd, Timestamp: t0},
	}

	survive := squashBilog(entries)
	require.Equal(t, []bool{true, true}, survive)
}

func TestSkipBilogEntrySkipsControlOpsAndIncompleteAndSelfLoop(t *testing.T) {
	require.True(t, skipBilogEntry(gwhttp.BilogEntry{Op: gwhttp.BilogSyncStop}))
	require.True(t, skipBilogEntry(gwhttp.BilogEntry{Op: gwhttp.BilogSyncResync}))
	require.True(t, skipBilogEntry(gwhttp.BilogEntry{Op: gwhttp.BilogCancel}))
	require.True(t, skipBilogEntry(gwhttp.BilogEntry{Op: gwhttp.BilogAdd, State: "pending"}))
	require.True(t, skipBilogEntry(gwhttp.BilogEntry{Op: gwhttp.BilogAdd, State: "complete", Instance: "i1", ZoneTrace: []string{"i1"}}))

	require.False(t, skipBilogEntry(gwhttp.BilogEntry{Op: gwhttp.BilogAdd, State: "complete", Instance: "i1", ZoneTrace: []string{"i2"}}))
	require.False(t, skipBilogEntry(gwhttp.BilogEntry{Op: gwhttp.BilogAdd, State: ""}))
}

func TestBilogKeyCombinesObjectAndInstance(t *testing.T) {
	a := gwhttp.BilogEntry{Object: "o1", Instance: "i1"}
	b := gwhttp.BilogEntry{Object: "o1", Instance: "i2"}
	require.NotEqual(t, bilogKey(a), bilogKey(b))
}
