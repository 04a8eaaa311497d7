package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAnticipationTrackerFlagsOutOfBoundSamples(t *testing.T) {
	a := NewAnticipationTracker(100*time.Microsecond, time.Second)
	base := time.Unix(0, 0)

	a.Observe(0, base, 10*time.Microsecond)
	a.Observe(0, base.Add(time.Millisecond), 200*time.Microsecond)
	a.Observe(0, base.Add(2*time.Millisecond), -300*time.Microsecond)

	require.Equal(t, 2, a.Violations(0))
	require.Equal(t, 0, a.Violations(1))
}

func TestAnticipationTrackerPrunesOutsideWindow(t *testing.T) {
	a := NewAnticipationTracker(time.Microsecond, 10*time.Millisecond)
	base := time.Unix(0, 0)

	a.Observe(0, base, time.Millisecond)
	require.Equal(t, 1, a.Len(0))

	a.Observe(0, base.Add(20*time.Millisecond), time.Millisecond)
	require.Equal(t, 1, a.Len(0), "the first sample should have aged out of the window")
}

func TestIPIThrottleAllowsUpToLimitThenBlocks(t *testing.T) {
	th := NewIPIThrottle(2, time.Second)
	now := time.Unix(0, 0)

	_, ok := th.Allow("cpu0,cpu1", now)
	require.True(t, ok)
	_, ok = th.Allow("cpu0,cpu1", now)
	require.True(t, ok)

	next, ok := th.Allow("cpu0,cpu1", now)
	require.False(t, ok)
	require.Equal(t, now.Add(time.Second), next)
}

func TestIPIThrottleResetsAfterWindowElapses(t *testing.T) {
	th := NewIPIThrottle(1, time.Second)
	now := time.Unix(0, 0)

	_, ok := th.Allow("cpu0", now)
	require.True(t, ok)
	_, ok = th.Allow("cpu0", now.Add(500*time.Millisecond))
	require.False(t, ok)

	_, ok = th.Allow("cpu0", now.Add(2*time.Second))
	require.True(t, ok)
}

func TestIPIThrottleKeysAreIndependent(t *testing.T) {
	th := NewIPIThrottle(1, time.Second)
	now := time.Unix(0, 0)

	_, ok := th.Allow("cpu0", now)
	require.True(t, ok)
	_, ok = th.Allow("cpu1", now)
	require.True(t, ok, "a different cpu set key must have its own budget")
}
