// Package sched implements the Scheduler Core: ready/timed queue
// discipline, the schedule() hot path, suspend/resume, sched_lock/
// sched_unlock nesting, and priority inheritance. Actual task execution
// is modeled as one goroutine per task, handed a CPU baton
// (tcb.Task.Resume) by a per-CPU dispatcher goroutine — a single-goroutine
// drive loop generalized from "run one callback" to "hand the CPU to one
// task goroutine until it yields it back".
package sched

import (
	"sync"

	"github.com/joeycumines/go-rtexec/internal/pipeline"
	"github.com/joeycumines/go-rtexec/internal/rtlog"
	"github.com/joeycumines/go-rtexec/internal/tcb"
	"github.com/joeycumines/go-rtexec/internal/timer"
)

// outOfBandPriority is what sched_lock installs: lower numeric value than
// any real task priority, so the locking task is never preempted.
const outOfBandPriority = -1

// CPU holds one logical CPU's scheduling state.
type CPU struct {
	Index int

	Ready *tcb.List
	Timed *tcb.List

	Idle    tcb.ID // sentinel GPOS task, always ready, lowest priority
	Current tcb.ID

	lockDepth     int
	savedPriority int
	reschedWanted bool

	Timer *timer.Service

	// yielded is the baton-return channel RunOnce blocks on after handing
	// a task's Resume channel a turn; see dispatch.go.
	yielded chan tcb.ID

	mu sync.Mutex
}

// NewCPU constructs CPU index idx with idle as its idle-task sentinel.
func NewCPU(idx int, idle tcb.ID, tm *timer.Service) *CPU {
	return &CPU{
		Index:   idx,
		Ready:   tcb.NewReadyList(),
		Timed:   tcb.NewTimedList(),
		Idle:    idle,
		Current: idle,
		Timer:   tm,
		yielded: make(chan tcb.ID, 1),
	}
}

// Scheduler owns the task arena and one CPU record per logical CPU.
type Scheduler struct {
	Arena  *tcb.Arena
	Domain pipeline.Domain
	CPUs   []*CPU
	log    *rtlog.Logger
}

// New constructs a Scheduler over arena with one CPU per entry of idleIDs,
// which supplies each CPU's idle-task id, in order.
func New(arena *tcb.Arena, domain pipeline.Domain, timers []*timer.Service, idleIDs []tcb.ID, log *rtlog.Logger) *Scheduler {
	s := &Scheduler{Arena: arena, Domain: domain, log: log}
	for i, idle := range idleIDs {
		s.CPUs = append(s.CPUs, NewCPU(i, idle, timers[i]))
	}
	return s
}

// EnqReady inserts t into cpu's ready list, ordered by ascending numeric
// priority, ties broken FIFO (insert before the first strictly-greater
// priority task).
func (s *Scheduler) EnqReady(cpu *CPU, id tcb.ID) {
	t := s.Arena.MustGet(id)
	t.State |= tcb.Ready
	cpu.Ready.InsertSortedBy(s.Arena, id, func(x, y tcb.ID) bool {
		return s.Arena.MustGet(x).Priority < s.Arena.MustGet(y).Priority
	})
}

// RemReady removes t from cpu's ready list, O(1).
func (s *Scheduler) RemReady(cpu *CPU, id tcb.ID) {
	t := s.Arena.MustGet(id)
	t.State &^= tcb.Ready
	cpu.Ready.Remove(s.Arena, id)
}

// EnqTimed inserts t into cpu's timed list, ordered by ascending
// resume_time.
func (s *Scheduler) EnqTimed(cpu *CPU, id tcb.ID) {
	t := s.Arena.MustGet(id)
	t.State |= tcb.Delayed
	cpu.Timed.InsertSortedBy(s.Arena, id, func(x, y tcb.ID) bool {
		return s.Arena.MustGet(x).ResumeTime < s.Arena.MustGet(y).ResumeTime
	})
}

// RemTimed removes t from cpu's timed list.
func (s *Scheduler) RemTimed(cpu *CPU, id tcb.ID) {
	t := s.Arena.MustGet(id)
	t.State &^= tcb.Delayed
	cpu.Timed.Remove(s.Arena, id)
}

// WakeExpiredTimed walks cpu's timed list from the head, moving every
// task whose resume_time is at or before now+half_tick from the timed
// list to the ready list. Used both by the periodic tick handler and by
// one-shot anticipation.
func (s *Scheduler) WakeExpiredTimed(cpu *CPU, now int64) []tcb.ID {
	var woken []tcb.ID
	threshold := now
	if cpu.Timer != nil {
		threshold = now + cpu.Timer.NextDeadlineHalfTick()
	}
	for cur := cpu.Timed.Front(); cur != 0; {
		t := s.Arena.MustGet(cur)
		next := cpu.Timed.Next(s.Arena, cur)
		if t.ResumeTime > threshold {
			break
		}
		s.RemTimed(cpu, cur)
		if !t.Is(tcb.Suspended) {
			s.EnqReady(cpu, cur)
		}
		woken = append(woken, cur)
		cur = next
	}
	return woken
}

// roundRobinAdvance implements the current-task RR bookkeeping step of
// the schedule() algorithm: decrement rr_remaining, and if it has
// expired, move current behind the last peer at its priority level.
func (s *Scheduler) roundRobinAdvance(cpu *CPU) {
	if cpu.Current == cpu.Idle {
		return
	}
	t := s.Arena.MustGet(cpu.Current)
	if t.Policy != tcb.RoundRobin || !t.Is(tcb.Ready) {
		return
	}
	t.RRRemaining--
	if t.RRRemaining > 0 {
		return
	}
	t.RRRemaining = t.RRQuantum
	s.RemReady(cpu, cpu.Current)
	cpu.Ready.InsertSortedBy(s.Arena, cpu.Current, func(x, y tcb.ID) bool {
		px, py := s.Arena.MustGet(x).Priority, s.Arena.MustGet(y).Priority
		if px != py {
			return px < py
		}
		return false // keep FIFO order: never sort strictly-before an equal peer
	})
	t.State |= tcb.Ready
}

// Pick walks cpu's ready list from the head and returns the first task
// whose CPU affinity admits cpu.Index, falling back to the idle task.
func (s *Scheduler) Pick(cpu *CPU) tcb.ID {
	for cur := cpu.Ready.Front(); cur != 0; cur = cpu.Ready.Next(s.Arena, cur) {
		t := s.Arena.MustGet(cur)
		if t.CPUAffinity == 0 || t.CPUAffinity&(1<<uint(cpu.Index)) != 0 {
			return cur
		}
	}
	return cpu.Idle
}

// Schedule runs the schedule() hot path on cpu and returns the task that
// should now be running. The caller (the CPU's dispatcher goroutine) is
// responsible for the actual context switch (handing the Resume baton).
func (s *Scheduler) Schedule(cpu *CPU, now int64) tcb.ID {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()

	if cpu.lockDepth > 0 {
		cpu.reschedWanted = true
		return cpu.Current
	}

	s.WakeExpiredTimed(cpu, now)
	s.roundRobinAdvance(cpu)

	next := s.Pick(cpu)
	if next != cpu.Current {
		s.switchTimerDeadline(cpu, next, now)
		cpu.Current = next
	}
	return next
}

func (s *Scheduler) switchTimerDeadline(cpu *CPU, next tcb.ID, now int64) {
	if cpu.Timer == nil {
		return
	}
	nextPrio := s.Arena.MustGet(next).Priority
	candidate := int64(0)
	for cur := cpu.Timed.Front(); cur != 0; cur = cpu.Timed.Next(s.Arena, cur) {
		t := s.Arena.MustGet(cur)
		if t.Priority <= nextPrio {
			candidate = t.ResumeTime
			break
		}
	}
	if t := s.Arena.MustGet(next); t.Policy == tcb.RoundRobin && t.YieldTime != 0 {
		if candidate == 0 || t.YieldTime < candidate {
			candidate = t.YieldTime
		}
	}
	if candidate != 0 {
		cpu.Timer.RearmIfEarlier(now, candidate)
	}
}

// Suspend atomically increments t's suspend depth; if t is cpu's current
// running task, the caller must follow up with Schedule. Otherwise t is
// immediately pulled off the ready list.
func (s *Scheduler) Suspend(cpu *CPU, id tcb.ID) {
	t := s.Arena.MustGet(id)
	t.SuspendDepth++
	t.State |= tcb.Suspended
	if id != cpu.Current && t.Is(tcb.Ready) {
		s.RemReady(cpu, id)
	}
}

// Resume decrements t's suspend depth; at zero, clears SUSPENDED and, if
// the task's state becomes pure READY eligibility, reinserts it into the
// ready list.
func (s *Scheduler) Resume(cpu *CPU, id tcb.ID) {
	t := s.Arena.MustGet(id)
	if t.SuspendDepth > 0 {
		t.SuspendDepth--
	}
	if t.SuspendDepth != 0 {
		return
	}
	t.State &^= tcb.Suspended
	if t.State == 0 || t.State == tcb.Ready {
		if !t.Is(tcb.Ready) {
			s.EnqReady(cpu, id)
		}
	}
}

// SchedLock begins (or extends) a reentrant no-preempt region on cpu. The
// first call saves the current task's priority and raises it out of
// band.
func (s *Scheduler) SchedLock(cpu *CPU) {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	if cpu.lockDepth == 0 {
		t := s.Arena.MustGet(cpu.Current)
		cpu.savedPriority = t.Priority
		t.Priority = outOfBandPriority
	}
	cpu.lockDepth++
}

// SchedUnlock ends one level of a SchedLock region. At the outermost
// release it restores the saved priority and, if a reschedule was
// requested while locked, runs Schedule.
func (s *Scheduler) SchedUnlock(cpu *CPU, now int64) tcb.ID {
	cpu.mu.Lock()
	if cpu.lockDepth == 0 {
		cpu.mu.Unlock()
		return cpu.Current
	}
	cpu.lockDepth--
	if cpu.lockDepth > 0 {
		cpu.mu.Unlock()
		return cpu.Current
	}
	t := s.Arena.MustGet(cpu.Current)
	t.Priority = cpu.savedPriority
	wanted := cpu.reschedWanted
	cpu.reschedWanted = false
	cpu.mu.Unlock()

	if wanted {
		return s.Schedule(cpu, now)
	}
	return cpu.Current
}
