package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-rtexec/internal/ipc"
	"github.com/joeycumines/go-rtexec/internal/sched"
	"github.com/joeycumines/go-rtexec/internal/tcb"
	"github.com/joeycumines/go-rtexec/internal/timebase"
	"github.com/joeycumines/go-rtexec/internal/timer"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*sched.Scheduler, *sched.CPU) {
	t.Helper()
	arena := tcb.NewArena(0)
	idle := arena.Alloc()
	arena.MustGet(idle).Priority = 1 << 30

	base, err := timebase.New(timebase.ModeOneshot, 1_000_000, time.Microsecond, time.Microsecond, time.Microsecond)
	require.NoError(t, err)
	tm := timer.New(base, timer.Oneshot)

	s := sched.New(arena, nil, []*timer.Service{tm}, []tcb.ID{idle}, nil)
	return s, s.CPUs[0]
}

func mkTask(t *testing.T, arena *tcb.Arena, prio int) tcb.ID {
	t.Helper()
	id := arena.Alloc()
	tk := arena.MustGet(id)
	tk.Priority = prio
	tk.Base = prio
	return id
}

func TestTriggerCoalescesIntoOneRPCPerCount(t *testing.T) {
	s, cpu := newTestScheduler(t)
	self := mkTask(t, s.Arena, 5)
	dst := mkTask(t, s.Arena, 5)
	core := ipc.NewCore(s)
	a := New(core, cpu, self, dst, 42)

	repliesCh := make(chan uint64, 3)
	a.OnReply = func(reply uint64) { repliesCh <- reply }

	go func() {
		for i := 0; i < 3; i++ {
			src, msg, r := core.Receive(context.Background(), dst)
			require.Equal(t, ipc.OK, r)
			require.Equal(t, uint64(42), msg)
			require.NoError(t, core.Return(cpu, dst, src, 7))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Trigger()
	a.Trigger()
	a.Trigger()

	var replies []uint64
	for i := 0; i < 3; i++ {
		select {
		case r := <-repliesCh:
			replies = append(replies, r)
		case <-time.After(time.Second):
			t.Fatal("agent did not issue expected rpcs")
		}
	}
	require.Equal(t, []uint64{7, 7, 7}, replies)
}

func TestPendingReflectsUnservicedTriggers(t *testing.T) {
	s, cpu := newTestScheduler(t)
	self := mkTask(t, s.Arena, 5)
	dst := mkTask(t, s.Arena, 5)
	core := ipc.NewCore(s)
	a := New(core, cpu, self, dst, 42)
	a.Trigger()
	a.Trigger()
	require.Equal(t, uint64(2), a.Pending())
}
