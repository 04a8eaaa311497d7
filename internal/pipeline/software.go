package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-rtexec/internal/rterr"
	"github.com/joeycumines/go-rtexec/internal/rtlog"
)

const maxVectors = 256

type vectorSlot struct {
	handler IRQHandler
	cookie  any
	affine  uint64 // CPU affinity mask; the zero default admits every CPU
}

// Software is the in-process reference Domain. One instance serves every
// CPU the scheduler core drives; per-CPU state is indexed by cpu.
type Software struct {
	log *rtlog.Logger

	mu      sync.Mutex
	nextDom uint32
	domains map[uint32]struct{}

	vectors [maxVectors]vectorSlot

	nextVIRQ atomic.Uint32
	virqs    map[VIRQ]*virqLine

	events map[Event][]EventHandler

	// per-CPU
	stallRT   []atomic.Bool
	stallGPOS []atomic.Bool
	pended    []atomic.Uint64

	globalStall atomic.Bool
	critMu      sync.Mutex
}

type virqLine struct {
	mu     sync.Mutex
	wakers map[int]*Waker // per-CPU waker, set via Bind
}

// NewSoftware constructs a Software domain sized for ncpu CPUs.
func NewSoftware(ncpu int, log *rtlog.Logger) *Software {
	s := &Software{
		log:       log,
		domains:   make(map[uint32]struct{}),
		virqs:     make(map[VIRQ]*virqLine),
		events:    make(map[Event][]EventHandler),
		stallRT:   make([]atomic.Bool, ncpu),
		stallGPOS: make([]atomic.Bool, ncpu),
		pended:    make([]atomic.Uint64, ncpu),
	}
	return s
}

func (s *Software) RegisterDomain(entry func(), priority int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDom++
	id := s.nextDom
	s.domains[id] = struct{}{}
	if entry != nil {
		entry()
	}
	if !rtlog.Nop(s.log) {
		s.log.Debug().Int("domain", int(id)).Int("priority", priority).Log("pipeline: domain registered")
	}
	return id, nil
}

func (s *Software) UnregisterDomain(domainID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[domainID]; !ok {
		return &rterr.ArgumentError{Message: "pipeline: unknown domain"}
	}
	delete(s.domains, domainID)
	return nil
}

func (s *Software) VirtualizeIRQ(vec int, handler IRQHandler, cookie any) error {
	if vec < 0 || vec >= maxVectors {
		return errVectorOutOfRange(vec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectors[vec].handler != nil {
		return &rterr.BusyError{Message: "pipeline: vector already owned by RT domain"}
	}
	s.vectors[vec] = vectorSlot{handler: handler, cookie: cookie}
	return nil
}

// ReleaseIRQ reverses VirtualizeIRQ (exposed for irqtab.ReleaseIRQ).
func (s *Software) ReleaseIRQ(vec int) error {
	if vec < 0 || vec >= maxVectors {
		return errVectorOutOfRange(vec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[vec] = vectorSlot{}
	return nil
}

// Dispatch delivers an arriving physical vector on cpu: call the RT
// handler if one is installed and affinity admits this CPU; otherwise
// mark it pending for the GPOS stage. It returns true if an RT handler
// ran and suppressed propagation.
func (s *Software) Dispatch(cpu, vec int) (handled bool) {
	if vec < 0 || vec >= maxVectors {
		return false
	}
	s.mu.Lock()
	slot := s.vectors[vec]
	s.mu.Unlock()

	if slot.handler != nil && (slot.affine == 0 || slot.affine&(1<<uint(cpu)) != 0) {
		if retmode := slot.handler(vec, slot.cookie); retmode {
			return true
		}
		return false
	}

	s.PendToLinux(cpu, vec)
	return false
}

func (s *Software) AllocIRQ() (VIRQ, error) {
	id := VIRQ(s.nextVIRQ.Add(1))
	s.mu.Lock()
	s.virqs[id] = &virqLine{wakers: make(map[int]*Waker)}
	s.mu.Unlock()
	return id, nil
}

func (s *Software) FreeIRQ(v VIRQ) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.virqs[v]; !ok {
		return &rterr.ArgumentError{Message: "pipeline: unknown virtual irq"}
	}
	delete(s.virqs, v)
	return nil
}

// BindIRQ attaches w as the waker woken whenever cpu observes v triggered.
// Used by the scheduler core to bind its per-CPU reschedule/service-request
// virtual IRQs to the goroutine driving that CPU.
func (s *Software) BindIRQ(v VIRQ, cpu int, w *Waker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.virqs[v]
	if !ok {
		return &rterr.ArgumentError{Message: "pipeline: unknown virtual irq"}
	}
	line.mu.Lock()
	line.wakers[cpu] = w
	line.mu.Unlock()
	return nil
}

func (s *Software) TriggerIRQ(cpu int, v VIRQ) {
	s.mu.Lock()
	line, ok := s.virqs[v]
	s.mu.Unlock()
	if !ok {
		return
	}
	line.mu.Lock()
	w := line.wakers[cpu]
	line.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

func (s *Software) PropagateEvent(evt Event, data any) {
	s.mu.Lock()
	handlers := append([]EventHandler(nil), s.events[evt]...)
	s.mu.Unlock()
	for _, h := range handlers {
		if !h(evt, data) {
			return
		}
	}
}

func (s *Software) CatchEvent(evt Event, handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[evt] = append(s.events[evt], handler)
}

func (s *Software) SetIRQAffinity(vec int, mask uint64) error {
	if vec < 0 || vec >= maxVectors {
		return errVectorOutOfRange(vec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[vec].affine = mask
	return nil
}

func (s *Software) CriticalEnter() uint64 {
	s.critMu.Lock()
	prev := uint64(0)
	if s.globalStall.Load() {
		prev = 1
	}
	s.globalStall.Store(true)
	return prev
}

func (s *Software) CriticalExit(prev uint64) {
	s.globalStall.Store(prev != 0)
	s.critMu.Unlock()
}

func (s *Software) PendToLinux(cpu, vec int) {
	if cpu < 0 || cpu >= len(s.pended) || vec < 0 || vec >= 64 {
		return
	}
	s.pended[cpu].Or(1 << uint(vec))
}

func (s *Software) SyncStage(cpu int, mask uint64) {
	if cpu < 0 || cpu >= len(s.pended) {
		return
	}
	if s.stallGPOS[cpu].Load() {
		return
	}
	s.pended[cpu].And(^mask)
}

func (s *Software) StallPipelineFrom(domainID uint32) {
	// reference implementation: domain identity doesn't change which
	// stage stalls, only that a stage is requesting the stall.
	_ = domainID
}

func (s *Software) PendedMask(cpu int) uint64 {
	if cpu < 0 || cpu >= len(s.pended) {
		return 0
	}
	return s.pended[cpu].Load()
}

func (s *Software) StallFlag(cpu int) bool {
	if cpu < 0 || cpu >= len(s.stallGPOS) {
		return false
	}
	return s.stallGPOS[cpu].Load()
}

// StallRT reports/sets the RT stage's per-CPU stall bit (used by the
// scheduler core's sched_lock to keep this CPU's dispatch serialized
// without touching the GPOS stage's bit).
func (s *Software) StallRT(cpu int) bool {
	if cpu < 0 || cpu >= len(s.stallRT) {
		return false
	}
	return s.stallRT[cpu].Load()
}

func (s *Software) SetStallRT(cpu int, v bool) {
	if cpu < 0 || cpu >= len(s.stallRT) {
		return
	}
	s.stallRT[cpu].Store(v)
}

var _ Domain = (*Software)(nil)
