// Package migration implements the hard/soft task-migration state machine:
// promotion (soft to hard) through a per-CPU gatekeeper, demotion (hard to
// soft) waking a GPOS twin, forced demotion on trap or signal, and a
// reservoir of pre-spawned GPOS-thread stand-ins so promoting a task does
// not pay creation cost at promotion time.
//
// Phase and force-soft state live directly on the TCB (tcb.Task.Hard,
// tcb.Task.ForceSoft) rather than in a parallel map, since the gatekeeper,
// the fault router, and the task's own goroutine all need to observe them
// without going through this package. Manager only keeps the GPOS twin
// itself (its resume channel has no TCB-field equivalent).
//
// The reservoir's pre-spawn-and-track shape is grounded on eventloop's
// Promisify: every unit handed out beyond the pre-spawned set is tracked by
// a WaitGroup so a drain can wait for it to come back, the same way
// Promisify's shutdown path waits on promisifyWg before the loop tears
// down. The gatekeeper itself is a dedicated goroutine draining a request
// channel, one per CPU, the way eventloop drives its single run/tick loop.
package migration

import (
	"context"
	"sync"

	"github.com/joeycumines/go-rtexec/internal/rterr"
	"github.com/joeycumines/go-rtexec/internal/rtlog"
	"github.com/joeycumines/go-rtexec/internal/sched"
	"github.com/joeycumines/go-rtexec/internal/tcb"
)

// Phase is a position in the hard/soft migration state machine, numerically
// matching tcb.HardState so a TCB's own Hard field can be cast straight to
// Phase without translation.
type Phase int32

const (
	Soft          Phase = Phase(tcb.Soft)
	Hard          Phase = Phase(tcb.Hard)
	Transitioning Phase = Phase(tcb.Transitioning)
)

// String names a phase for logging.
func (p Phase) String() string {
	switch p {
	case Soft:
		return "soft"
	case Hard:
		return "hard"
	case Transitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// twin is the GPOS-side stand-in for one migratable task. resume is how a
// gatekeeper or MakeSoft wakes it on the GPOS stage.
type twin struct {
	resume chan struct{}
}

func newTwin() *twin { return &twin{resume: make(chan struct{}, 1)} }

// Reservoir pre-spawns GPOS-thread stand-ins so that promoting a task to
// hard mode does not pay kernel_thread's creation cost at promotion time.
// Deleting a migrated task returns its twin to the pool instead of
// discarding it.
type Reservoir struct {
	mu    sync.Mutex
	pool  []*twin
	limit int
	wg    sync.WaitGroup
}

// NewReservoir pre-spawns n twins. RTAI's documented default is 4 per CPU;
// callers typically pass reservoirSize*ncpu.
func NewReservoir(n int) *Reservoir {
	r := &Reservoir{limit: n}
	for i := 0; i < n; i++ {
		r.pool = append(r.pool, newTwin())
	}
	return r
}

func (r *Reservoir) acquire() *twin {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.pool); n > 0 {
		t := r.pool[n-1]
		r.pool = r.pool[:n-1]
		return t
	}
	r.wg.Add(1)
	return newTwin()
}

func (r *Reservoir) release(t *twin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pool) >= r.limit {
		r.wg.Done()
		return
	}
	r.pool = append(r.pool, t)
}

// Len reports twins currently parked in the pool.
func (r *Reservoir) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}

// Wait blocks until every twin acquired beyond the pre-spawned capacity has
// been released back.
func (r *Reservoir) Wait() { r.wg.Wait() }

// promoteReq is one soft-to-hard promotion request posted to a gatekeeper.
type promoteReq struct {
	id   tcb.ID
	done chan struct{}
}

// Gatekeeper is the per-CPU RT helper that drives soft-to-hard migrations:
// it dequeues promotion requests and re-parents the TCB into the RT ready
// list for the scheduler to pick up on its next Schedule call.
type Gatekeeper struct {
	cpu      *sched.CPU
	sched    *sched.Scheduler
	requests chan *promoteReq
	log      *rtlog.Logger
}

func newGatekeeper(s *sched.Scheduler, cpu *sched.CPU, log *rtlog.Logger) *Gatekeeper {
	return &Gatekeeper{cpu: cpu, sched: s, requests: make(chan *promoteReq, 8), log: log}
}

// Run drives the gatekeeper loop until ctx is done.
func (g *Gatekeeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-g.requests:
			g.sched.Resume(g.cpu, req.id)
			if !rtlog.Nop(g.log) {
				g.log.Debug().Int("cpu", g.cpu.Index).Log("gatekeeper promoted task onto ready list")
			}
			close(req.done)
		}
	}
}

// Manager owns the migration GPOS twins of every task known to the module;
// phase and force-soft state live on the tasks' own TCBs.
type Manager struct {
	sched       *sched.Scheduler
	reservoir   *Reservoir
	gatekeepers []*Gatekeeper
	log         *rtlog.Logger

	mu    sync.Mutex
	twins map[tcb.ID]*twin
}

// New constructs a Manager with one gatekeeper per scheduler CPU and a
// reservoir sized reservoirPerCPU*len(scheduler.CPUs).
func New(scheduler *sched.Scheduler, reservoirPerCPU int, log *rtlog.Logger) *Manager {
	m := &Manager{
		sched:     scheduler,
		reservoir: NewReservoir(reservoirPerCPU * len(scheduler.CPUs)),
		log:       log,
		twins:     make(map[tcb.ID]*twin),
	}
	for _, cpu := range scheduler.CPUs {
		m.gatekeepers = append(m.gatekeepers, newGatekeeper(scheduler, cpu, log))
	}
	return m
}

// Start launches every per-CPU gatekeeper goroutine; it returns right
// after launching them, without waiting for them to start, and they stop
// when ctx is done.
func (m *Manager) Start(ctx context.Context) {
	for _, g := range m.gatekeepers {
		go g.Run(ctx)
	}
}

// ReservoirLen reports twins currently parked in the shared reservoir.
func (m *Manager) ReservoirLen() int { return m.reservoir.Len() }

// Phase reports id's current migration phase, read straight off its TCB.
func (m *Manager) Phase(id tcb.ID) Phase {
	return Phase(m.sched.Arena.MustGet(id).Hard.Load())
}

// MakeHard promotes id from soft to hard: it posts a promotion request to
// cpuIdx's gatekeeper, which re-parents the TCB into that CPU's ready list,
// and blocks until the gatekeeper has done so or ctx is done.
func (m *Manager) MakeHard(ctx context.Context, id tcb.ID, cpuIdx int) error {
	if cpuIdx < 0 || cpuIdx >= len(m.gatekeepers) {
		return &rterr.ArgumentError{Message: "migration: cpu index out of range"}
	}
	t := m.sched.Arena.MustGet(id)
	if !t.Hard.CompareAndSwap(int32(tcb.Soft), int32(tcb.Transitioning)) {
		return &rterr.NotPermittedError{Message: "migration: make_hard requires a soft task"}
	}

	twin := m.reservoir.acquire()
	m.mu.Lock()
	m.twins[id] = twin
	m.mu.Unlock()

	req := &promoteReq{id: id, done: make(chan struct{})}
	select {
	case m.gatekeepers[cpuIdx].requests <- req:
	case <-ctx.Done():
		t.Hard.Store(int32(tcb.Soft))
		return &rterr.TimeoutError{Message: "migration: make_hard cancelled before the gatekeeper accepted it"}
	}

	select {
	case <-req.done:
		t.Hard.Store(int32(tcb.Hard))
		return nil
	case <-ctx.Done():
		return &rterr.TimeoutError{Message: "migration: make_hard cancelled waiting for the gatekeeper"}
	}
}

// MakeSoft demotes id from hard to soft: it suspends the task in the RT
// scheduler and wakes its GPOS twin; once the twin resumes on the GPOS
// stage, the pair is in soft mode.
func (m *Manager) MakeSoft(cpu *sched.CPU, id tcb.ID) error {
	t := m.sched.Arena.MustGet(id)
	if !t.Hard.CompareAndSwap(int32(tcb.Hard), int32(tcb.Transitioning)) {
		return &rterr.NotPermittedError{Message: "migration: make_soft requires a hard task"}
	}

	m.mu.Lock()
	tw := m.twins[id]
	m.mu.Unlock()
	if tw == nil {
		return &rterr.FatalError{Message: "migration: hard task is missing its GPOS twin"}
	}

	m.sched.Suspend(cpu, id)
	select {
	case tw.resume <- struct{}{}:
	default:
	}
	t.Hard.Store(int32(tcb.Soft))
	return nil
}

// ForceSoft marks id for forced demotion on its next schedule: set on a
// GPOS signal delivered to the twin, or on any CPU trap taken while hard.
func (m *Manager) ForceSoft(id tcb.ID) {
	m.sched.Arena.MustGet(id).ForceSoft.Store(true)
}

// CheckForceSoft observes and clears id's force-soft flag. Only the
// demoting task itself may call this, immediately before it schedules out
// through MakeSoft.
func (m *Manager) CheckForceSoft(id tcb.ID) bool {
	return m.sched.Arena.MustGet(id).ForceSoft.CompareAndSwap(true, false)
}

// TwinResume exposes id's twin wake channel for a GPOS-side waiter to block
// on after MakeSoft wakes it.
func (m *Manager) TwinResume(id tcb.ID) <-chan struct{} {
	m.mu.Lock()
	t := m.twins[id]
	m.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.resume
}

// Release returns id's twin to the reservoir and resets its TCB phase to
// soft, e.g. once the task is deleted.
func (m *Manager) Release(id tcb.ID) {
	m.mu.Lock()
	t := m.twins[id]
	delete(m.twins, id)
	m.mu.Unlock()
	m.sched.Arena.MustGet(id).Hard.Store(int32(tcb.Soft))
	m.sched.Arena.MustGet(id).ForceSoft.Store(false)
	if t != nil {
		m.reservoir.release(t)
	}
}
