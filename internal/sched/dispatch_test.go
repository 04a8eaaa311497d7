package sched

import (
	"testing"
	"time"

	"github.com/joeycumines/go-rtexec/internal/tcb"
	"github.com/stretchr/testify/require"
)

func TestRunOnceHandsBatonToHighestPriorityTask(t *testing.T) {
	s, cpu := newTestScheduler(t)
	hi := mkTask(t, s.Arena, 1)
	lo := mkTask(t, s.Arena, 10)

	var ran []tcb.ID
	s.Arena.MustGet(hi).Body = func(tk *tcb.Task) {
		ran = append(ran, tk.ID)
		s.RemReady(cpu, hi)
	}
	s.Arena.MustGet(lo).Body = func(tk *tcb.Task) {
		ran = append(ran, tk.ID)
		s.RemReady(cpu, lo)
	}
	s.Spawn(cpu, hi)
	s.Spawn(cpu, lo)
	s.EnqReady(cpu, lo)
	s.EnqReady(cpu, hi)

	got := s.RunOnce(cpu, 0)
	require.Equal(t, hi, got)

	got = s.RunOnce(cpu, 0)
	require.Equal(t, lo, got)

	require.Equal(t, []tcb.ID{hi, lo}, ran)
}

func TestRunOnceFallsBackToIdleWithNothingReady(t *testing.T) {
	s, cpu := newTestScheduler(t)
	got := s.RunOnce(cpu, 0)
	require.Equal(t, cpu.Idle, got)
}

func TestRunOnceIsANoOpForAnUnspawnedTask(t *testing.T) {
	s, cpu := newTestScheduler(t)
	id := mkTask(t, s.Arena, 1)
	s.EnqReady(cpu, id)

	done := make(chan struct{})
	go func() {
		s.RunOnce(cpu, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunOnce blocked forever handing the baton to an unspawned task")
	}
}
