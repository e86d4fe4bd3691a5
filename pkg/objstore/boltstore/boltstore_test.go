// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package boltstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/pkg/objstore/boltstore"
	"github.com/rgwsync/gateway/pkg/objstore/objstoretest"
)

func TestBoltstore(t *testing.T) {
	dir := t.TempDir()
	store, err := boltstore.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	objstoretest.RunSuite(t, store)
}
