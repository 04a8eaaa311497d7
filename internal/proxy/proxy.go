// Package proxy implements fixed-RPC agent tasks: a pre-built task whose
// body loops "wait for trigger, rpc a fixed message to a stored
// receiver". Trigger is an O(1), allocation-free call suitable for an ISR
// context, since it only bumps an atomic counter and resumes the agent
// goroutine — it never constructs or queues a message itself.
//
// The atomic trigger counter plus coalescing wakeup is grounded on
// microbatch's Submit/ping-pong pattern: many producers push fast without
// touching the consumer's state directly, and the agent drains however
// many triggers accumulated since it last woke, the same way a Batcher
// drains however many jobs accumulated since its last flush.
package proxy

import (
	"context"
	"sync/atomic"

	"github.com/joeycumines/go-rtexec/internal/ipc"
	"github.com/joeycumines/go-rtexec/internal/sched"
	"github.com/joeycumines/go-rtexec/internal/tcb"
)

// Agent is one fixed-RPC proxy task.
type Agent struct {
	Self tcb.ID
	Dst  tcb.ID
	Msg  uint64

	core    *ipc.Core
	cpu     *sched.CPU
	trigger atomic.Uint64
	wake    chan struct{}

	// OnReply is invoked with each rpc reply, if non-nil. Run on the
	// agent's own goroutine, never concurrently.
	OnReply func(reply uint64)
}

// New constructs an Agent that will rpc msg to dst whenever triggered. cpu
// is the logical CPU the agent's own task runs on, passed through to
// core.RPC for priority inheritance bookkeeping.
func New(core *ipc.Core, cpu *sched.CPU, self, dst tcb.ID, msg uint64) *Agent {
	return &Agent{
		Self: self,
		Dst:  dst,
		Msg:  msg,
		core: core,
		cpu:  cpu,
		wake: make(chan struct{}, 1),
	}
}

// Trigger is the ISR-safe entry point: it atomically increments the
// pending-trigger count and wakes the agent's loop if it is parked. Safe
// to call from any goroutine, any number of times, without blocking.
func (a *Agent) Trigger() {
	a.trigger.Add(1)
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run drives the agent's loop until ctx is done: wait for a trigger, rpc
// the fixed message once per accumulated trigger, repeat. It returns when
// ctx is done or when an rpc does not complete with OK.
func (a *Agent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		}

		for a.trigger.Load() > 0 {
			a.trigger.Add(^uint64(0)) // decrement
			reply, r := a.core.RPC(ctx, a.cpu, a.Self, a.Dst, a.Msg)
			if r != ipc.OK {
				return
			}
			if a.OnReply != nil {
				a.OnReply(reply)
			}
		}
	}
}

// Pending reports the number of triggers not yet serviced.
func (a *Agent) Pending() uint64 { return a.trigger.Load() }
