// Package irqtab implements the per-vector RT handler table sitting
// directly on top of a pipeline.Domain: request_irq/release_irq,
// acknowledge-then-route dispatch, and the thin PIC wrapper operations
// that save/restore the GPOS stage's stall bit around a mutation of the
// underlying controller.
//
// The slot table itself is grounded on eventloop/registry.go's approach
// to tracking live handles in a fixed structure, reshaped from a
// GC-scavenged weak-pointer ring into a directly-indexed array since IRQ
// vectors are a small, dense, skin-managed namespace rather than an
// unbounded promise count.
package irqtab

import (
	"sync"

	"github.com/joeycumines/go-rtexec/internal/pipeline"
	"github.com/joeycumines/go-rtexec/internal/rterr"
)

const maxVectors = 256

// PIC is the stock GPOS handler set a Table's pic_* wrappers mutate. A
// real system wires this to the platform's interrupt controller driver;
// tests supply a fake.
type PIC interface {
	Start(vec int)
	Shutdown(vec int)
	Enable(vec int)
	Disable(vec int)
	MaskAck(vec int)
	Unmask(vec int)
	Ack(vec int)
}

type slot struct {
	occupied bool
	handler  pipeline.IRQHandler
	cookie   any
}

// Table is the per-vector RT handler table for one Domain.
type Table struct {
	domain pipeline.Domain
	pic    PIC

	mu    sync.Mutex
	slots [maxVectors]slot
}

// New constructs a Table bound to domain and pic. pic may be nil if the
// caller never invokes the pic_* wrappers.
func New(domain pipeline.Domain, pic PIC) *Table {
	return &Table{domain: domain, pic: pic}
}

func checkVec(vec int) error {
	if vec < 0 || vec >= maxVectors {
		return &rterr.ArgumentError{Message: "irqtab: vector out of range"}
	}
	return nil
}

// RequestIRQ installs handler as the RT owner of vec, failing BUSY if the
// slot is already occupied. Installation happens atomically under the
// domain's critical section.
func (t *Table) RequestIRQ(vec int, handler pipeline.IRQHandler, cookie any) error {
	if err := checkVec(vec); err != nil {
		return err
	}
	flags := t.domain.CriticalEnter()
	defer t.domain.CriticalExit(flags)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[vec].occupied {
		return &rterr.BusyError{Message: "irqtab: vector already has an RT handler"}
	}
	if err := t.domain.VirtualizeIRQ(vec, handler, cookie); err != nil {
		return err
	}
	t.slots[vec] = slot{occupied: true, handler: handler, cookie: cookie}
	return nil
}

// ReleaseIRQ reverses RequestIRQ.
func (t *Table) ReleaseIRQ(vec int) error {
	if err := checkVec(vec); err != nil {
		return err
	}
	flags := t.domain.CriticalEnter()
	defer t.domain.CriticalExit(flags)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.slots[vec].occupied {
		return &rterr.ArgumentError{Message: "irqtab: vector has no RT handler"}
	}
	t.slots[vec] = slot{}
	return errReleaseIRQ(t, vec)
}

func errReleaseIRQ(t *Table, vec int) error {
	if rel, ok := t.domain.(interface{ ReleaseIRQ(int) error }); ok {
		return rel.ReleaseIRQ(vec)
	}
	return nil
}

// Dispatch runs the acknowledge-then-route rule for an arriving physical
// vector on cpu: ack at the PIC, consult the slot table, invoke the RT
// handler if present, and on fall-through (or a handler that declines
// retmode) pend the vector to the GPOS stage.
func (t *Table) Dispatch(cpu, vec int) {
	if t.pic != nil {
		t.pic.Ack(vec)
	}
	if vec < 0 || vec >= maxVectors {
		return
	}
	t.mu.Lock()
	s := t.slots[vec]
	t.mu.Unlock()

	if s.occupied {
		if retmode := s.handler(vec, s.cookie); retmode {
			return
		}
	}
	t.domain.PendToLinux(cpu, vec)
}

// PICStart wraps pic.Start under a stalled GPOS stage.
func (t *Table) PICStart(cpu, vec int) { t.withStalledGPOS(cpu, func() { t.pic.Start(vec) }) }

// PICShutdown wraps pic.Shutdown under a stalled GPOS stage.
func (t *Table) PICShutdown(cpu, vec int) { t.withStalledGPOS(cpu, func() { t.pic.Shutdown(vec) }) }

// PICEnable wraps pic.Enable under a stalled GPOS stage.
func (t *Table) PICEnable(cpu, vec int) { t.withStalledGPOS(cpu, func() { t.pic.Enable(vec) }) }

// PICDisable wraps pic.Disable under a stalled GPOS stage.
func (t *Table) PICDisable(cpu, vec int) { t.withStalledGPOS(cpu, func() { t.pic.Disable(vec) }) }

// PICMaskAck wraps pic.MaskAck under a stalled GPOS stage.
func (t *Table) PICMaskAck(cpu, vec int) { t.withStalledGPOS(cpu, func() { t.pic.MaskAck(vec) }) }

// PICUnmask wraps pic.Unmask under a stalled GPOS stage.
func (t *Table) PICUnmask(cpu, vec int) { t.withStalledGPOS(cpu, func() { t.pic.Unmask(vec) }) }

// PICAck wraps pic.Ack under a stalled GPOS stage.
func (t *Table) PICAck(cpu, vec int) { t.withStalledGPOS(cpu, func() { t.pic.Ack(vec) }) }

func (t *Table) withStalledGPOS(cpu int, fn func()) {
	flags := t.domain.CriticalEnter()
	defer t.domain.CriticalExit(flags)
	t.domain.StallPipelineFrom(0)
	fn()
}
