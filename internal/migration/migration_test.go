package migration

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-rtexec/internal/sched"
	"github.com/joeycumines/go-rtexec/internal/tcb"
	"github.com/joeycumines/go-rtexec/internal/timebase"
	"github.com/joeycumines/go-rtexec/internal/timer"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *sched.Scheduler, tcb.ID) {
	t.Helper()
	arena := tcb.NewArena(0)
	idle := arena.Alloc()
	arena.MustGet(idle).Priority = 1 << 30

	base, err := timebase.New(timebase.ModeOneshot, 1_000_000, time.Microsecond, time.Microsecond, time.Microsecond)
	require.NoError(t, err)
	tm := timer.New(base, timer.Oneshot)

	s := sched.New(arena, nil, []*timer.Service{tm}, []tcb.ID{idle}, nil)

	task := arena.Alloc()
	arena.MustGet(task).Priority = 5
	arena.MustGet(task).Base = 5
	arena.MustGet(task).State |= tcb.Suspended
	arena.MustGet(task).SuspendDepth = 1

	m := New(s, 2, nil)
	return m, s, task
}

func TestReservoirAcquireReleaseStaysWithinPool(t *testing.T) {
	r := NewReservoir(2)
	require.Equal(t, 2, r.Len())

	a := r.acquire()
	b := r.acquire()
	require.Equal(t, 0, r.Len())

	// a third acquire overflows the pre-spawned set and must be tracked.
	c := r.acquire()
	require.Equal(t, 0, r.Len())

	r.release(a)
	r.release(b)
	require.Equal(t, 2, r.Len())

	r.release(c)
	require.Equal(t, 2, r.Len(), "release beyond capacity must not grow the pool")
}

func TestMakeHardPromotesSoftTaskOntoReadyList(t *testing.T) {
	m, s, task := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Equal(t, Soft, m.Phase(task))

	err := m.MakeHard(context.Background(), task, 0)
	require.NoError(t, err)
	require.Equal(t, Hard, m.Phase(task))
	require.True(t, s.Arena.MustGet(task).Is(tcb.Ready))
}

func TestMakeHardRejectsNonSoftTask(t *testing.T) {
	m, _, task := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.NoError(t, m.MakeHard(context.Background(), task, 0))
	err := m.MakeHard(context.Background(), task, 0)
	require.Error(t, err)
}

func TestMakeSoftSuspendsAndWakesTwin(t *testing.T) {
	m, s, task := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.NoError(t, m.MakeHard(context.Background(), task, 0))

	cpu := s.CPUs[0]
	require.NoError(t, m.MakeSoft(cpu, task))
	require.Equal(t, Soft, m.Phase(task))

	select {
	case <-m.TwinResume(task):
	default:
		t.Fatal("expected the twin's resume channel to have been signalled")
	}
}

func TestMakeSoftRejectsNonHardTask(t *testing.T) {
	m, s, task := newTestManager(t)
	err := m.MakeSoft(s.CPUs[0], task)
	require.Error(t, err)
}

func TestForceSoftObservedOnceThenCleared(t *testing.T) {
	m, _, task := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	require.NoError(t, m.MakeHard(context.Background(), task, 0))

	require.False(t, m.CheckForceSoft(task))
	m.ForceSoft(task)
	require.True(t, m.CheckForceSoft(task))
	require.False(t, m.CheckForceSoft(task))
}

func TestReleaseReturnsTwinAndResetsPhase(t *testing.T) {
	m, _, task := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	require.NoError(t, m.MakeHard(context.Background(), task, 0))

	before := m.ReservoirLen()
	m.Release(task)
	require.Equal(t, before+1, m.ReservoirLen())
	require.Equal(t, Soft, m.Phase(task))
}
