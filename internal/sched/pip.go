package sched

import "github.com/joeycumines/go-rtexec/internal/tcb"

// Inherit raises owner's effective priority to min(owner.Priority,
// waiterPriority) and follows the promotion chain (owner.PassedTo)
// recursively, so a chain of nested mutex ownership all inherits the same
// boosted priority. If owner is ready on cpu, its position in the ready
// list is re-sorted to reflect the change.
func (s *Scheduler) Inherit(cpu *CPU, owner tcb.ID, waiterPriority int) {
	for owner != 0 {
		t := s.Arena.MustGet(owner)
		if waiterPriority >= t.Priority {
			return // already at least as favourable; chain stops here
		}
		t.PrioStack = append(t.PrioStack, t.Priority)
		t.Priority = waiterPriority
		if t.Is(tcb.Ready) {
			s.resortReady(cpu, owner)
		}
		owner = t.PassedTo
	}
}

// Restore lowers owner's priority back to the minimum over its remaining
// owned resources' top waiters, bottoming out at its base priority. The
// caller (resource package) supplies topWaiterPriority as -1 when owner no
// longer owns any contended resource.
func (s *Scheduler) Restore(cpu *CPU, owner tcb.ID, topWaiterPriority int) {
	t := s.Arena.MustGet(owner)
	next := t.Base
	if topWaiterPriority >= 0 && topWaiterPriority < next {
		next = topWaiterPriority
	}
	if len(t.PrioStack) > 0 {
		t.PrioStack = t.PrioStack[:len(t.PrioStack)-1]
	}
	if next == t.Priority {
		return
	}
	t.Priority = next
	if t.Is(tcb.Ready) {
		s.resortReady(cpu, owner)
	}
}

func (s *Scheduler) resortReady(cpu *CPU, id tcb.ID) {
	cpu.Ready.Remove(s.Arena, id)
	cpu.Ready.InsertSortedBy(s.Arena, id, func(x, y tcb.ID) bool {
		return s.Arena.MustGet(x).Priority < s.Arena.MustGet(y).Priority
	})
}
