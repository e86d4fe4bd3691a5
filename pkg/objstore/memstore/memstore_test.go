// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package memstore_test

import (
	"testing"

	"github.com/rgwsync/gateway/pkg/objstore/memstore"
	"github.com/rgwsync/gateway/pkg/objstore/objstoretest"
)

func TestMemstore(t *testing.T) {
	objstoretest.RunSuite(t, memstore.New())
}
