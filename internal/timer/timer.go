// Package timer implements the Timer Service: periodic and one-shot
// hardware timer modes, start/stop, and the anticipation window that
// collapses near-coincident one-shot wakeups into a single rearm.
//
// The deadline-ordered priority queue is grounded on eventloop/loop.go's
// timerHeap (a container/heap min-heap of scheduled timers), generalized
// here from wall-clock time.Time to the tick-count domain the scheduler
// core operates in.
package timer

import (
	"container/heap"
	"time"

	"github.com/joeycumines/go-rtexec/internal/rterr"
	"github.com/joeycumines/go-rtexec/internal/timebase"
)

// Mode selects periodic or one-shot timer operation.
type Mode = timebase.Mode

const (
	Periodic = timebase.ModePeriodic
	Oneshot  = timebase.ModeOneshot
)

// entry is one pending deadline in the heap, tagged with an opaque key so
// callers can cancel it (the scheduler core keys entries by task ID).
type entry struct {
	deadline int64 // ticks
	key      uint64
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Service drives one CPU's hardware timer abstraction: a heap of pending
// deadlines plus the periodic/one-shot arming policy.
type Service struct {
	base *timebase.Base
	mode Mode

	pq      entryHeap
	byKey   map[uint64]*entry
	tickTime int64 // ticks, advanced by Periodic mode's handler

	running bool
	period  int64 // ticks, Periodic mode only
}

// New constructs a Service over base, initially stopped.
func New(base *timebase.Base, mode Mode) *Service {
	return &Service{
		base:  base,
		mode:  mode,
		byKey: make(map[uint64]*entry),
	}
}

// StartTimer arms the timer with the requested period (Periodic mode
// only; ignored but harmless in Oneshot mode) and returns the effective
// period, clamped to a whole tick.
func (s *Service) StartTimer(period time.Duration) time.Duration {
	s.running = true
	if s.mode != Periodic {
		return 0
	}
	ticks := s.base.NanoToCount(period.Nanoseconds())
	if ticks <= 0 {
		ticks = 1
	}
	s.period = ticks
	return s.base.CountToNanoDuration(ticks)
}

// StopTimer disarms the timer. A real driver would busy-wait briefly to
// drain an in-flight interrupt; this in-process reference has no
// interrupt to drain, so it returns immediately.
func (s *Service) StopTimer() {
	s.running = false
}

// Running reports whether the timer is currently armed.
func (s *Service) Running() bool { return s.running }

// Schedule arms a wakeup for key at the given deadline (in ticks),
// replacing any deadline previously scheduled under the same key.
func (s *Service) Schedule(key uint64, deadline int64) {
	s.Cancel(key)
	e := &entry{deadline: deadline, key: key}
	heap.Push(&s.pq, e)
	s.byKey[key] = e
}

// Cancel removes key's pending deadline, if any.
func (s *Service) Cancel(key uint64) {
	e, ok := s.byKey[key]
	if !ok {
		return
	}
	heap.Remove(&s.pq, e.index)
	delete(s.byKey, key)
}

// Len reports the number of pending deadlines.
func (s *Service) Len() int { return len(s.pq) }

// NextDeadline reports the earliest pending deadline and whether one
// exists.
func (s *Service) NextDeadline() (int64, bool) {
	if len(s.pq) == 0 {
		return 0, false
	}
	return s.pq[0].deadline, true
}

// Expired pops and returns every key whose deadline is at or before now
// plus the base's half-tick anticipation window, implementing the
// "wake timed tasks whose deadline has already elapsed" rule shared by
// both periodic tick advance and one-shot anticipation.
func (s *Service) Expired(now int64) []uint64 {
	threshold := now + s.base.Tuned.HalfTick
	var keys []uint64
	for len(s.pq) > 0 && s.pq[0].deadline <= threshold {
		e := heap.Pop(&s.pq).(*entry)
		delete(s.byKey, e.key)
		keys = append(keys, e.key)
	}
	return keys
}

// AdvanceTick advances Periodic mode's tick_time by one period and
// returns the new value. Calling it in Oneshot mode is a programming
// error.
func (s *Service) AdvanceTick() (int64, error) {
	if s.mode != Periodic {
		return 0, &rterr.NotPermittedError{Message: "timer: AdvanceTick requires periodic mode"}
	}
	s.tickTime += s.period
	return s.tickTime, nil
}

// TickTime reports Periodic mode's current tick_time.
func (s *Service) TickTime() int64 { return s.tickTime }

// NextDeadlineHalfTick reports the anticipation window (half_tick, in
// ticks) used to decide whether a timed task's deadline has effectively
// already elapsed.
func (s *Service) NextDeadlineHalfTick() int64 { return s.base.Tuned.HalfTick }

// RearmIfEarlier records candidate as the next hardware deadline if it is
// earlier than anything currently armed. The in-process reference timer
// has no real chip to reprogram; this only updates bookkeeping a caller
// can observe via NextDeadline, mirroring the "if the deadline moved
// earlier, re-arm" rule of the schedule() hot path.
func (s *Service) RearmIfEarlier(now, candidate int64) {
	if candidate <= now {
		return
	}
	if cur, ok := s.NextDeadline(); !ok || candidate < cur {
		s.Schedule(armedDeadlineKey, candidate)
	}
}

// armedDeadlineKey is the reserved key RearmIfEarlier uses to track the
// single hardware-timer deadline, distinct from per-task wakeup keys.
const armedDeadlineKey = ^uint64(0)

// NextOneshotDeadline computes the one-shot rearm target: the earlier of
// nextGPOSTick and candidate (the scheduler core's earliest resume_time
// among higher-or-equal priority timed waiters, or the round-robin yield
// deadline if that is earlier; 0 means none), minus latency_cpu_units,
// then pushed forward to setup_cpunit if the resulting delta is smaller.
func (s *Service) NextOneshotDeadline(now, nextGPOSTick, candidate int64) int64 {
	deadline := nextGPOSTick
	if candidate != 0 && candidate < deadline {
		deadline = candidate
	}
	deadline -= s.base.Tuned.LatencyCPUUnits
	if delta := deadline - now; delta < s.base.Tuned.SetupCPUUnit {
		deadline = now + s.base.Tuned.SetupCPUUnit
	}
	return deadline
}
