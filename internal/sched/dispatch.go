package sched

import "github.com/joeycumines/go-rtexec/internal/tcb"

// Spawn starts id's task goroutine and parks it on its Resume baton. The
// goroutine runs Body exactly once per baton handoff, then reports back
// on cpu's yield channel and waits for its next turn; this is the context
// switch contract described in the package doc. Spawn is not idempotent:
// calling it twice for the same id allocates a fresh Resume channel and
// starts a second goroutine on it, leaving the first parked on the old
// channel; callers must avoid doing this while the task may be mid-turn.
func (s *Scheduler) Spawn(cpu *CPU, id tcb.ID) {
	t := s.Arena.MustGet(id)
	t.Resume = make(chan struct{})
	resume := t.Resume
	go func() {
		for range resume {
			if t.Body != nil {
				t.Body(t)
			}
			cpu.yielded <- id
		}
	}()
}

// RunOnce drives a single schedule decision on cpu at tick now and returns
// the task that ran. RunOnce hands Schedule's pick the CPU via Resume, on
// every call, and blocks until that task's
// goroutine reports back that it has yielded — the dispatcher loop a real
// skin would run continuously, one tick at a time. Picking the idle task,
// or a task never Spawned, is a no-op turn: there is no application
// goroutine to hand the baton to.
func (s *Scheduler) RunOnce(cpu *CPU, now int64) tcb.ID {
	next := s.Schedule(cpu, now)
	if next == cpu.Idle {
		return next
	}
	t := s.Arena.MustGet(next)
	if t.Resume == nil {
		return next
	}
	t.Resume <- struct{}{}
	<-cpu.yielded
	return next
}
