package fault

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-rtexec/internal/migration"
	"github.com/joeycumines/go-rtexec/internal/sched"
	"github.com/joeycumines/go-rtexec/internal/tcb"
	"github.com/joeycumines/go-rtexec/internal/timebase"
	"github.com/joeycumines/go-rtexec/internal/timer"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *migration.Manager, tcb.ID) {
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

	m := migration.New(s, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)
	require.NoError(t, m.MakeHard(context.Background(), task, 0))

	return NewRegistry(m, nil), m, task
}

func TestRouteSoftTaskAlwaysPropagates(t *testing.T) {
	r, _, task := newTestRegistry(t)
	r.Install(task, 13, func(tcb.ID, Vector) Disposition { return Handled })

	require.False(t, r.Route(task, 0, 13, true))
}

func TestRouteInstalledHandlerDecides(t *testing.T) {
	r, _, task := newTestRegistry(t)
	r.Install(task, 13, func(tcb.ID, Vector) Disposition { return Handled })
	require.True(t, r.Route(task, 0, 13, false))

	r.Install(task, 14, func(tcb.ID, Vector) Disposition { return Propagate })
	require.False(t, r.Route(task, 0, 14, false))
}

func TestRouteFPUUnavailableIsServicedLazily(t *testing.T) {
	r, _, task := newTestRegistry(t)
	require.Equal(t, tcb.ID(0), r.FPUOwner(0))

	require.True(t, r.Route(task, 0, FPUUnavailable, false))
	require.Equal(t, task, r.FPUOwner(0))
}

func TestRouteUnhandledFaultDemotesHardTask(t *testing.T) {
	r, m, task := newTestRegistry(t)
	require.Equal(t, migration.Hard, m.Phase(task))

	require.False(t, r.Route(task, 0, 99, false))
	require.True(t, m.CheckForceSoft(task))
}

func TestUninstallAndForgetRemoveHandlers(t *testing.T) {
	r, _, task := newTestRegistry(t)
	r.Install(task, 13, func(tcb.ID, Vector) Disposition { return Handled })
	r.Uninstall(task, 13)
	require.False(t, r.Route(task, 0, 13, false)) // falls through to unhandled demotion path

	r.Install(task, 14, func(tcb.ID, Vector) Disposition { return Handled })
	r.Forget(task)
	require.False(t, r.Route(task, 0, 14, false))
}
