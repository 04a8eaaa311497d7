package resource

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

func TestSemaphoreWaitIfNonBlocking(t *testing.T) {
	s, _ := newTestScheduler(t)
	sem := NewCounting(s.Arena, 1)
	require.Equal(t, OK, sem.WaitIf())
	require.Equal(t, Timeout, sem.WaitIf())
}

func TestBinarySemaphoreClampsToOne(t *testing.T) {
	s, _ := newTestScheduler(t)
	sem := NewBinary(s.Arena, 1)
	sem.Signal()
	sem.Signal()
	require.Equal(t, 1, sem.Count())
}

func TestSemaphoreWaitBlocksUntilSignal(t *testing.T) {
	s, _ := newTestScheduler(t)
	id := mkTask(t, s.Arena, 5)
	sem := NewCounting(s.Arena, 0)
	done := make(chan Result, 1)
	go func() { done <- sem.Wait(context.Background(), id) }()

	time.Sleep(10 * time.Millisecond)
	sem.Signal()

	select {
	case r := <-done:
		require.Equal(t, OK, r)
	case <-time.After(time.Second):
		t.Fatal("wait did not return")
	}
}

func TestSemaphoreWaitTimedTimesOut(t *testing.T) {
	s, _ := newTestScheduler(t)
	id := mkTask(t, s.Arena, 5)
	sem := NewCounting(s.Arena, 0)
	r := sem.WaitTimed(id, 10*time.Millisecond)
	require.Equal(t, Timeout, r)
}

func TestSemaphoreUnblockWakesAllWaiters(t *testing.T) {
	s, _ := newTestScheduler(t)
	id := mkTask(t, s.Arena, 5)
	sem := NewCounting(s.Arena, 0)
	done := make(chan Result, 1)
	go func() { done <- sem.Wait(context.Background(), id) }()
	time.Sleep(10 * time.Millisecond)
	sem.Unblock()

	select {
	case r := <-done:
		require.Equal(t, Unblocked, r)
	case <-time.After(time.Second):
		t.Fatal("wait did not return")
	}
}

func TestMutexRecursiveLocking(t *testing.T) {
	s, cpu := newTestScheduler(t)
	id := mkTask(t, s.Arena, 5)

	m := NewMutex()
	require.Equal(t, OK, m.Lock(context.Background(), s, cpu, id))
	require.Equal(t, OK, m.Lock(context.Background(), s, cpu, id))
	require.Equal(t, id, m.Owner())

	m.Unlock(s, cpu, id)
	require.Equal(t, id, m.Owner()) // still held, one recursion remains
	m.Unlock(s, cpu, id)
	require.Zero(t, m.Owner())
}

func TestMutexPriorityInheritance(t *testing.T) {
	s, cpu := newTestScheduler(t)
	low := mkTask(t, s.Arena, 10)
	high := mkTask(t, s.Arena, 1)

	m := NewMutex()
	require.Equal(t, OK, m.Lock(context.Background(), s, cpu, low))

	done := make(chan Result, 1)
	go func() { done <- m.Lock(context.Background(), s, cpu, high) }()
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, 1, s.Arena.MustGet(low).Priority, "low's priority should be boosted to high's")

	m.Unlock(s, cpu, low)
	select {
	case r := <-done:
		require.Equal(t, OK, r)
	case <-time.After(time.Second):
		t.Fatal("high never acquired the mutex")
	}
	require.Equal(t, 10, s.Arena.MustGet(low).Priority, "low's priority should be restored")
}

func TestMutexInheritanceFollowsPromotionChain(t *testing.T) {
	s, cpu := newTestScheduler(t)
	grand := mkTask(t, s.Arena, 10)
	owner := mkTask(t, s.Arena, 10)
	waiter := mkTask(t, s.Arena, 1)

	outer := NewMutex()
	inner := NewMutex()
	require.Equal(t, OK, outer.Lock(context.Background(), s, cpu, grand))
	require.Equal(t, OK, inner.Lock(context.Background(), s, cpu, owner))

	// owner blocks on outer, held by grand: PassedTo chains owner->grand.
	ownerDone := make(chan Result, 1)
	go func() { ownerDone <- outer.Lock(context.Background(), s, cpu, owner) }()
	time.Sleep(10 * time.Millisecond)

	waiterDone := make(chan Result, 1)
	go func() { waiterDone <- inner.Lock(context.Background(), s, cpu, waiter) }()
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, 1, s.Arena.MustGet(grand).Priority, "grand inherits through owner's promotion chain")

	inner.Unlock(s, cpu, owner)
	select {
	case r := <-waiterDone:
		require.Equal(t, OK, r)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired inner")
	}

	outer.Unlock(s, cpu, grand)
	select {
	case r := <-ownerDone:
		require.Equal(t, OK, r)
	case <-time.After(time.Second):
		t.Fatal("owner never acquired outer")
	}
}

func TestCondSignalWakesOneWaiter(t *testing.T) {
	s, cpu := newTestScheduler(t)
	id := mkTask(t, s.Arena, 5)

	m := NewMutex()
	require.Equal(t, OK, m.Lock(context.Background(), s, cpu, id))

	cv := NewCond(s.Arena)
	done := make(chan Result, 1)
	go func() { done <- cv.Wait(context.Background(), s, cpu, m, id) }()
	time.Sleep(10 * time.Millisecond)

	require.Zero(t, m.Owner(), "Wait must drop the mutex while parked")

	cv.Signal()
	select {
	case r := <-done:
		require.Equal(t, OK, r)
	case <-time.After(time.Second):
		t.Fatal("cond wait did not return")
	}
	require.Equal(t, id, m.Owner(), "Wait must re-acquire the mutex before returning")
}
