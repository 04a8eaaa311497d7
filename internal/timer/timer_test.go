package timer

import (
	"testing"
	"time"

	"github.com/joeycumines/go-rtexec/internal/timebase"
	"github.com/stretchr/testify/require"
)

func newTestBase(t *testing.T, mode Mode) *timebase.Base {
	t.Helper()
	b, err := timebase.New(mode, 1_000_000, 10*time.Microsecond, time.Microsecond, time.Microsecond)
	require.NoError(t, err)
	return b
}

func TestStartTimerPeriodicReturnsEffectivePeriod(t *testing.T) {
	b := newTestBase(t, Periodic)
	s := New(b, Periodic)
	eff := s.StartTimer(time.Millisecond)
	require.True(t, s.Running())
	require.Greater(t, eff, time.Duration(0))
}

func TestScheduleCancelReplace(t *testing.T) {
	b := newTestBase(t, Oneshot)
	s := New(b, Oneshot)

	s.Schedule(1, 100)
	s.Schedule(2, 50)
	require.Equal(t, 2, s.Len())

	next, ok := s.NextDeadline()
	require.True(t, ok)
	require.Equal(t, int64(50), next)

	s.Cancel(2)
	next, ok = s.NextDeadline()
	require.True(t, ok)
	require.Equal(t, int64(100), next)
}

func TestExpiredPopsWithinHalfTick(t *testing.T) {
	b := newTestBase(t, Oneshot)
	s := New(b, Oneshot)

	s.Schedule(1, 10)
	s.Schedule(2, 1000)

	keys := s.Expired(10)
	require.ElementsMatch(t, []uint64{1}, keys)
	require.Equal(t, 1, s.Len())
}

func TestAdvanceTickRejectedInOneshot(t *testing.T) {
	b := newTestBase(t, Oneshot)
	s := New(b, Oneshot)
	_, err := s.AdvanceTick()
	require.Error(t, err)
}

func TestAdvanceTickAccumulatesPeriod(t *testing.T) {
	b := newTestBase(t, Periodic)
	s := New(b, Periodic)
	s.StartTimer(time.Millisecond)

	tt1, err := s.AdvanceTick()
	require.NoError(t, err)
	tt2, err := s.AdvanceTick()
	require.NoError(t, err)
	require.Greater(t, tt2, tt1)
}

func TestRearmIfEarlierTracksSmallestCandidate(t *testing.T) {
	b := newTestBase(t, Oneshot)
	s := New(b, Oneshot)

	s.RearmIfEarlier(0, 500)
	next, ok := s.NextDeadline()
	require.True(t, ok)
	require.Equal(t, int64(500), next)

	s.RearmIfEarlier(0, 900) // later, should not replace
	next, ok = s.NextDeadline()
	require.True(t, ok)
	require.Equal(t, int64(500), next)

	s.RearmIfEarlier(0, 100) // earlier, should replace
	next, ok = s.NextDeadline()
	require.True(t, ok)
	require.Equal(t, int64(100), next)
}

func TestNextOneshotDeadlinePushedToSetupWindow(t *testing.T) {
	b := newTestBase(t, Oneshot)
	s := New(b, Oneshot)

	// nextGPOSTick equal to now forces the delta below setup_cpunit,
	// so the deadline must be pushed forward.
	now := int64(1000)
	deadline := s.NextOneshotDeadline(now, now, 0)
	require.GreaterOrEqual(t, deadline, now+b.Tuned.SetupCPUUnit)
}
