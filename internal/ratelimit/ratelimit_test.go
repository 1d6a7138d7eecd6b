/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ratelimit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowCheckWithinLimit(t *testing.T) {
	var w Window
	require.True(t, w.Check(10, 15, 5, 1))
	w.Update(10, 15, 1)
	require.True(t, w.Check(10, 15, 5, 1))
}

func TestWindowCheckAtLimit(t *testing.T) {
	var w Window
	for i := 0; i < 5; i++ {
		require.True(t, w.Check(10, 15, 5, 1))
		w.Update(10, 15, 1)
	}
	require.False(t, w.Check(10, 15, 5, 1))
}

func TestWindowUpdateClearsFutureSlots(t *testing.T) {
	var w Window
	w.Update(5, 15, 3)
	w.buckets[20] = 7 // simulate a stale count from a previous lap
	w.Update(5, 15, 1)
	require.Zero(t, w.buckets[20])
}

func TestWindowAllZeroAfterIdleHour(t *testing.T) {
	var w Window
	w.Update(0, 15, 4)
	for m := 1; m < slots; m++ {
		w.Update(m, 15, 0)
	}
	require.True(t, w.AllZero())
}

func TestWindowOverflowGuard(t *testing.T) {
	var w Window
	w.buckets[0] = math.MaxUint64
	require.False(t, w.Check(0, 1, math.MaxUint64, 1))
}

func TestLimiterDisabledWhenBothAxesNegative(t *testing.T) {
	l := New(15, 20, -1, -1)
	require.True(t, l.Disabled())
	require.True(t, l.Allow(0, 1<<20))
}

func TestLimiterRecordAxisOnly(t *testing.T) {
	l := New(15, 20, 2, -1)
	require.False(t, l.Disabled())
	require.True(t, l.Allow(0, 999999))
	l.Commit(0, 999999)
	require.True(t, l.Allow(0, 1))
	l.Commit(0, 1)
	require.False(t, l.Allow(0, 1))
}

func TestLimiterByteAxis(t *testing.T) {
	l := New(15, 20, -1, 100)
	require.True(t, l.Allow(0, 100))
	l.Commit(0, 100)
	require.False(t, l.Allow(0, 1))
}
