// Package fault implements per-task trap routing: a per-task vector
// handler table, lazy FPU-fault restore, and demote-on-unhandled-fault
// routing into the migration package.
//
// Routing each trapped vector into a table of per-vector handlers, falling
// back to a documented default when none is installed, mirrors eventloop's
// Promisify: a deferred recover() classifies what came back (panic value,
// Goexit, or a normal result) and routes each case to its own handling
// path rather than letting an unhandled case propagate silently.
package fault

import (
	"sync"

	"github.com/joeycumines/go-rtexec/internal/migration"
	"github.com/joeycumines/go-rtexec/internal/rtlog"
	"github.com/joeycumines/go-rtexec/internal/tcb"
)

// Vector identifies a CPU exception. FPUUnavailable is the one vector this
// package gives load-bearing behavior to (x86 vector 7); all others are
// opaque integers passed through to an installed Handler.
type Vector int

// FPUUnavailable is the "device not available" trap taken on first FPU use
// after a context switch away from the previous owner.
const FPUUnavailable Vector = 7

// Disposition is a per-vector handler's verdict on whether the trap should
// keep propagating toward the GPOS.
type Disposition int

const (
	// Handled stops propagation: the handler fully serviced the trap.
	Handled Disposition = iota
	// Propagate lets the trap continue toward the GPOS signal path.
	Propagate
)

// Handler is a per-task, per-vector trap handler.
type Handler func(task tcb.ID, vec Vector) Disposition

// Registry holds fixed per-task trap handler tables and routes faults
// according to the vector dispatch rule: a soft task's fault always
// propagates to the GPOS; a hard task's installed handler decides; the FPU
// vector is serviced lazily by this package itself; anything else
// unhandled demotes the hard task to soft and lets the GPOS deliver the
// natural signal.
type Registry struct {
	migration *migration.Manager
	log       *rtlog.Logger

	mu       sync.Mutex
	handlers map[tcb.ID]map[Vector]Handler
	fpuOwner map[int]tcb.ID // per-CPU index -> current FPU owner, 0 = none
}

// NewRegistry constructs an empty fault-routing table wired to m for
// demote-on-unhandled-fault routing.
func NewRegistry(m *migration.Manager, log *rtlog.Logger) *Registry {
	return &Registry{
		migration: m,
		log:       log,
		handlers:  make(map[tcb.ID]map[Vector]Handler),
		fpuOwner:  make(map[int]tcb.ID),
	}
}

// Install registers h as task's handler for vec, replacing any prior one.
func (r *Registry) Install(task tcb.ID, vec Vector, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.handlers[task]
	if !ok {
		m = make(map[Vector]Handler)
		r.handlers[task] = m
	}
	m[vec] = h
}

// Uninstall removes task's handler for vec, if any.
func (r *Registry) Uninstall(task tcb.ID, vec Vector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers[task], vec)
}

// Forget drops every handler installed for task, e.g. on task deletion.
func (r *Registry) Forget(task tcb.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, task)
}

func (r *Registry) handlerFor(task tcb.ID, vec Vector) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[task][vec]
	return h, ok
}

// Route dispatches one trap taken while task was running on cpuIdx. isSoft
// reports whether task is currently a soft task (or on the GPOS stage);
// a soft fault always propagates. It returns true if the trap was fully
// serviced in the RT domain and should not reach the GPOS.
func (r *Registry) Route(task tcb.ID, cpuIdx int, vec Vector, isSoft bool) bool {
	if isSoft {
		if !rtlog.Nop(r.log) {
			r.log.Debug().Int("vector", int(vec)).Log("fault: soft task, propagating to GPOS")
		}
		return false
	}

	if h, ok := r.handlerFor(task, vec); ok {
		handled := h(task, vec) == Handled
		if !rtlog.Nop(r.log) {
			r.log.Debug().Int("vector", int(vec)).Bool("handled", handled).Log("fault: routed to installed handler")
		}
		return handled
	}

	if vec == FPUUnavailable {
		r.switchFPUOwner(cpuIdx, task)
		if !rtlog.Nop(r.log) {
			r.log.Debug().Int("cpu", cpuIdx).Log("fault: lazy FPU restore")
		}
		return true
	}

	// Unhandled real fault on a hard task: demote to soft and let the
	// GPOS deliver the natural signal (SIGFPE, SIGSEGV, SIGILL, ...).
	if r.migration != nil {
		r.migration.ForceSoft(task)
	}
	if !rtlog.Nop(r.log) {
		r.log.Debug().Int("vector", int(vec)).Log("fault: unhandled, demoting to soft")
	}
	return false
}

// switchFPUOwner saves the outgoing owner's FPU state (a no-op placeholder
// here, since this module does not model raw register state) and installs
// task as cpuIdx's new FPU owner.
func (r *Registry) switchFPUOwner(cpuIdx int, task tcb.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fpuOwner[cpuIdx] = task
}

// FPUOwner reports which task currently owns cpuIdx's FPU state, 0 if none.
func (r *Registry) FPUOwner(cpuIdx int) tcb.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fpuOwner[cpuIdx]
}
