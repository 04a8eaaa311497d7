// Package pipeline models the Pipeline Domain Interface (PDI): the
// consumed contract the executive core relies on to see every interrupt
// ahead of the GPOS. The real primitive is architecture-specific
// kernel-module territory and out of scope here; Domain is the injectable
// seam, and Software is an in-process reference implementation standing
// in for it, so the scheduler/IPC core above can be built and tested
// without kernel privileges.
//
// Software's per-CPU stall-bit and virtual-IRQ bookkeeping is grounded on
// eventloop's FastState (atomic CAS state machine) and its pipe/channel
// dual wakeup mechanism (wakeup_linux.go vs the portable fallback).
package pipeline

import "github.com/joeycumines/go-rtexec/internal/rterr"

// Event identifies a CPU exception or GPOS lifecycle event propagated
// through CatchEvent/PropagateEvent: process exit, signal delivery,
// schedule head/tail, renice, and the CPU trap vectors.
type Event uint32

// EventHandler decides whether an Event should continue propagating
// downstream (true) or is fully handled here (false).
type EventHandler func(evt Event, data any) (propagate bool)

// IRQHandler is an RT handler installed against a physical vector. A
// handler that returns true suppresses downstream propagation to the
// GPOS stage for that dispatch.
type IRQHandler func(vec int, cookie any) (retmode bool)

// VIRQ identifies a software-triggered virtual interrupt: the allocator
// behind "scheduler wants to re-pick on this CPU" and "deliver pending
// GPOS bottom-halves from an RT context".
type VIRQ uint32

// Domain is the Pipeline Domain Interface consumed by the executive core.
type Domain interface {
	// RegisterDomain installs the RT domain ahead of the GPOS stage,
	// returning a domain identifier.
	RegisterDomain(entry func(), priority int) (domainID uint32, err error)
	// UnregisterDomain reverses RegisterDomain; the caller is responsible
	// for draining in-flight work first.
	UnregisterDomain(domainID uint32) error

	// VirtualizeIRQ installs handler as the RT-domain owner of vec.
	VirtualizeIRQ(vec int, handler IRQHandler, cookie any) error
	// AllocIRQ reserves a fresh virtual IRQ line.
	AllocIRQ() (VIRQ, error)
	// FreeIRQ releases a virtual IRQ line allocated by AllocIRQ.
	FreeIRQ(v VIRQ) error
	// TriggerIRQ fires v, invoking whatever is registered against it on
	// the CPU given (used by reschedule-request and service-request
	// signaling).
	TriggerIRQ(cpu int, v VIRQ)

	// PropagateEvent forwards evt to the next interested catcher.
	PropagateEvent(evt Event, data any)
	// CatchEvent installs handler for evt (a CPU-exception vector, or a
	// GPOS lifecycle event).
	CatchEvent(evt Event, handler EventHandler)

	// SetIRQAffinity restricts vec's delivery to the CPUs in mask.
	SetIRQAffinity(vec int, mask uint64) error

	// CriticalEnter stalls every CPU's RT and GPOS stages and returns the
	// previous global stall state, for CriticalExit to restore.
	CriticalEnter() (prev uint64)
	// CriticalExit restores the stall state CriticalEnter returned.
	CriticalExit(prev uint64)

	// PendToLinux marks vec pending on the GPOS stage for cpu without
	// invoking any RT handler now.
	PendToLinux(cpu, vec int)
	// SyncStage lets the GPOS stage's pending IRQs in mask play out.
	SyncStage(cpu int, mask uint64)
	// StallPipelineFrom stalls the stage belonging to domainID on the
	// calling CPU.
	StallPipelineFrom(domainID uint32)

	// PendedMask reports cpu's pending-IRQ bitmask on the GPOS stage.
	PendedMask(cpu int) uint64
	// StallFlag reports whether cpu's GPOS stage is currently stalled.
	StallFlag(cpu int) bool
}

// errVectorOutOfRange is returned by VirtualizeIRQ/SetIRQAffinity for an
// out-of-range vector number.
func errVectorOutOfRange(vec int) error {
	return &rterr.ArgumentError{Message: "pipeline: irq vector out of range"}
}
