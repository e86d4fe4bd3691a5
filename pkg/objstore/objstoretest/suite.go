// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objstoretest is a conformance suite run against every
// objstore.Client implementation, mirroring the teacher's own
// private/kvstore/testsuite pattern of one shared test body exercised by
// each backend's own _test.go file.
package objstoretest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

// RunSuite exercises the full objstore.Client contract against client.
func RunSuite(t *testing.T, client objstore.Client) {
	t.Run("AttrRoundTrip", func(t *testing.T) { testAttrRoundTrip(t, client) })
	t.Run("OMapListAndTrim", func(t *testing.T) { testOMapListAndTrim(t, client) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, client) })
	t.Run("LockExclusive", func(t *testing.T) { testLockExclusive(t, client) })
	t.Run("CAS", func(t *testing.T) { testCAS(t, client) })
	t.Run("WatchNotify", func(t *testing.T) { testWatchNotify(t, client) })
}

func testAttrRoundTrip(t *testing.T, client objstore.Client) {
	ctx := context.Background()
	ref := objstore.ObjectRef{Pool: "p", OID: "attr-roundtrip"}
	require.NoError(t, client.Operate(ctx, ref, objstore.WriteOp{
		SetAttr: map[string][]byte{"k": []byte("v")},
	}))
	v, err := client.GetAttr(ctx, ref, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func testOMapListAndTrim(t *testing.T, client objstore.Client) {
	ctx := context.Background()
	ref := objstore.ObjectRef{Pool: "p", OID: "omap-list-trim"}
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		require.NoError(t, client.Operate(ctx, ref, objstore.WriteOp{
			AppendOMap: []objstore.OMapEntry{{Key: key, Value: []byte(key)}},
		}))
	}
	entries, more, err := client.ListOMap(ctx, ref, objstore.OMapRange{}, 100)
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, entries, 5)

	// trim everything <= "c"
	require.NoError(t, client.Operate(ctx, ref, objstore.WriteOp{
		RemoveOMapRange: &objstore.OMapRange{Start: "", End: "d"},
	}))
	entries, _, err = client.ListOMap(ctx, ref, objstore.OMapRange{}, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.GreaterOrEqual(t, e.Key, "d")
	}
}

func testNotFound(t *testing.T, client objstore.Client) {
	ctx := context.Background()
	ref := objstore.ObjectRef{Pool: "p", OID: "never-created"}
	_, err := client.GetAttr(ctx, ref, "k")
	require.True(t, gwerrs.Is(err, gwerrs.NotFound))

	entries, more, err := client.ListOMap(ctx, ref, objstore.OMapRange{}, 10)
	require.NoError(t, err)
	require.False(t, more)
	require.Empty(t, entries)

	require.NoError(t, client.Remove(ctx, ref)) // ENOENT is success
}

func testLockExclusive(t *testing.T, client objstore.Client) {
	ctx := context.Background()
	ref := objstore.ObjectRef{Pool: "p", OID: "lock"}
	require.NoError(t, client.LockExclusive(ctx, ref, "lease", "cookie-a", time.Minute, false))
	err := client.LockExclusive(ctx, ref, "lease", "cookie-b", time.Minute, false)
	require.True(t, gwerrs.Is(err, gwerrs.Busy))

	require.NoError(t, client.Unlock(ctx, ref, "lease", "cookie-a"))
	require.NoError(t, client.LockExclusive(ctx, ref, "lease", "cookie-b", time.Minute, false))
}

func testCAS(t *testing.T, client objstore.Client) {
	ctx := context.Background()
	ref := objstore.ObjectRef{Pool: "p", OID: "cas"}
	require.NoError(t, client.OperateCAS(ctx, ref, 0, objstore.WriteOp{SetBytes: []byte("v1")}))
	v, err := client.ObjVersion(ctx, ref)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)

	err = client.OperateCAS(ctx, ref, 0, objstore.WriteOp{SetBytes: []byte("v2")})
	require.True(t, gwerrs.Is(err, gwerrs.Canceled))

	require.NoError(t, client.OperateCAS(ctx, ref, 1, objstore.WriteOp{SetBytes: []byte("v2")}))
}

func testWatchNotify(t *testing.T, client objstore.Client) {
	ctx := context.Background()
	ref := objstore.ObjectRef{Pool: "p", OID: "watch"}

	received := make(chan []byte, 1)
	watch, err := client.Watch(ctx, ref, func(notifyID, cookie uint64, notifierID string, payload []byte) {
		received <- payload
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, watch.Close()) }()

	require.NoError(t, client.Notify(ctx, ref, []byte("hello")))
	select {
	case payload := <-received:
		require.Equal(t, []byte("hello"), payload)
	case <-time.After(time.Second):
		t.Fatal("did not receive notify")
	}
}
