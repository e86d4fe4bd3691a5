// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package sync2_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rgwsync/gateway/private/sync2"
)

func TestCycle_Trigger(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cycle := sync2.NewCycle(time.Hour)
	var runs int32

	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(ctx, func(ctx context.Context) error {
			n := atomic.AddInt32(&runs, 1)
			if n >= 3 {
				cycle.Stop()
			}
			return nil
		})
	}()

	// the initial run happens immediately; force the next two without
	// waiting an hour.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, time.Second, time.Millisecond)
	cycle.Trigger()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, time.Millisecond)
	cycle.Trigger()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cycle did not stop")
	}
	require.EqualValues(t, 3, atomic.LoadInt32(&runs))
}

func TestLimiter_Bounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := sync2.NewLimiter(2)

	var inflight, maxInflight int32
	for i := 0; i < 10; i++ {
		ok := limiter.Go(ctx, func() error {
			n := atomic.AddInt32(&inflight, 1)
			for {
				cur := atomic.LoadInt32(&maxInflight)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInflight, cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
			return nil
		})
		require.True(t, ok)
	}
	require.NoError(t, limiter.Wait())
	require.LessOrEqual(t, atomic.LoadInt32(&maxInflight), int32(2))
}
