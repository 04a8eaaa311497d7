package timebase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsZeroFreq(t *testing.T) {
	_, err := New(ModePeriodic, 0, 0, 0, 0)
	require.Error(t, err)
}

func TestRoundTripWithinOneNanosecondPlusOneTick(t *testing.T) {
	b, err := New(ModeOneshot, 2_400_000_000, 0, 0, 0)
	require.NoError(t, err)

	// Ticks->ns truncation loses under one nanosecond (2.4 ticks here),
	// ns->ticks truncation loses under one more tick.
	ticksPerNs := float64(b.FreqHz()) / float64(time.Second)

	for _, n := range []int64{0, 1, 2, 1000, 1_000_000, 123_456_789, -1, -1000, -123_456_789} {
		ns := b.CountToNano(n)
		got := b.NanoToCount(ns)
		require.InDeltaf(t, float64(n), float64(got), ticksPerNs+1,
			"round trip for %d ticks produced %d (ns=%d)", n, got, ns)
	}
}

func TestRoundsTowardZero(t *testing.T) {
	b, err := New(ModePeriodic, 2, 0, 0, 0) // 2 ticks per second
	require.NoError(t, err)
	// 1 nanosecond at 2Hz: 1 * 2 / 1e9 truncates to 0, for both signs.
	require.Equal(t, int64(0), b.NanoToCount(1))
	require.Equal(t, int64(0), b.NanoToCount(-1))
}

func TestTunedConstantsDerived(t *testing.T) {
	b, err := New(ModeOneshot, 3_000_000_000, 2*time.Microsecond, 500*time.Nanosecond, time.Microsecond)
	require.NoError(t, err)
	require.Positive(t, b.Tuned.LatencyCPUUnits)
	require.Positive(t, b.Tuned.SetupCPUUnit)
	require.Positive(t, b.Tuned.SetupTimerUnit)
	require.GreaterOrEqual(t, b.Tuned.HalfTick, int64(0))
}
