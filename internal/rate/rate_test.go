// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNilLimiter(t *testing.T) {
	l := NewLimiter(0, 0)
	require.Nil(t, l)
	require.NoError(t, l.Wait(context.Background(), 1<<30))
	l.Remove(10)
	require.Zero(t, l.Rate())
}

func TestWaitPaces(t *testing.T) {
	now := time.Unix(0, 0)
	var slept time.Duration
	l := NewLimiterWithCustomTime(100, 100,
		func() time.Time { return now },
		func(_ context.Context, d time.Duration) error {
			slept += d
			now = now.Add(d)
			return nil
		})

	ctx := context.Background()
	// The bucket starts full.
	require.NoError(t, l.Wait(ctx, 100))
	require.Zero(t, slept)
	// The next 50 tokens take half a second to refill.
	require.NoError(t, l.Wait(ctx, 50))
	require.InDelta(t, float64(500*time.Millisecond), float64(slept), float64(10*time.Millisecond))
}

func TestWaitCancelled(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewLimiterWithCustomTime(1, 1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error { return ctx.Err() })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Wait(ctx, 1))
	require.ErrorIs(t, l.Wait(ctx, 1), context.Canceled)
}
