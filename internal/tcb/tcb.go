// Package tcb implements the Task Control Block arena. Tasks are never
// referenced by raw pointer: the arena hands out small integer handles
// (ID), and every intrusive list — global chain, ready list, timed list,
// and the single blocker queue a task may be on — is modeled as
// index-linked, not pointer-linked, the same way eventloop's registry
// uses a stable integer id rather than a long-lived pointer into a pooled
// structure.
package tcb

import (
	"sync/atomic"
)

// ID identifies a task within an Arena. The zero ID is never issued and
// means "no task", the NULL partner sentinel used in IPC.
type ID uint32

// State is the scheduling-state bitset, a closed set over {READY,
// SUSPENDED, DELAYED, SEMAPHORE, SEND, RECEIVE, RPC, RETURN, MBXSUSP,
// SIGSUSP}. Composition is meaningful: READY|DELAYED means "will become
// runnable at ResumeTime".
type State uint16

const (
	Ready State = 1 << iota
	Suspended
	Delayed
	Semaphore
	Send
	Receive
	RPC
	Return
	MboxSuspended
	SigSuspended
)

// String renders the set bits for logging, smallest bit first.
func (s State) String() string {
	names := []struct {
		bit  State
		name string
	}{
		{Ready, "READY"}, {Suspended, "SUSPENDED"}, {Delayed, "DELAYED"},
		{Semaphore, "SEMAPHORE"}, {Send, "SEND"}, {Receive, "RECEIVE"},
		{RPC, "RPC"}, {Return, "RETURN"}, {MboxSuspended, "MBXSUSP"},
		{SigSuspended, "SIGSUSP"},
	}
	out := ""
	for _, n := range names {
		if s&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}

// Policy is the scheduling policy: FIFO at a priority level, or
// round-robin at that level.
type Policy uint8

const (
	FIFO Policy = iota
	RoundRobin
)

// HardState is the tri-state hard/soft migration flag; it must be read
// and written atomically since the migration gatekeeper and the task's
// own goroutine race on it. Kept here as the owning field; the migration
// package drives its transitions.
type HardState int32

const (
	Soft HardState = iota
	Hard
	Transitioning
)

// DeleteSentinel is the very-negative suspend-depth sentinel meaning
// "marked for deletion, deferred until owned resources are released".
const DeleteSentinel int32 = -1 << 30

// BlockKind tags what a task is blocked on, replacing an untyped
// `void *blocked_on` with a closed, typed tag. The associated index (On)
// is an opaque handle whose namespace is defined by Kind: a blocker handle
// issued by the resource package for BlockSem/BlockMutex/BlockCond, or a
// task ID for BlockMsgQueue/
// BlockRetQueue.
type BlockKind uint8

const (
	BlockNone BlockKind = iota
	BlockSem
	BlockMutex
	BlockCond
	BlockMsgQueue
	BlockRetQueue
)

// Blocked is a tagged union standing in for the single field a task uses
// to reference whatever it is currently blocked on.
type Blocked struct {
	Kind BlockKind
	On   uint32
}

// listLinks is one doubly-linked intrusive list node, referencing
// neighbours by ID (0 == no neighbour) rather than by pointer.
type listLinks struct {
	prev, next ID
}

// Task is one Task Control Block. Fields are plain (not atomic) except
// where concurrent access from outside the owning scheduler goroutine is
// expected — see ExecTicks and Hard, which must be atomic.
type Task struct {
	ID ID

	// identity
	Magic uint32 // validity tag; Arena checks this on every handle lookup
	Name  string // optional, <=6 chars by convention, not enforced
	// ID doubles as the unique numeric id.

	// scheduling state
	State     State
	Priority  int // effective priority; smaller = higher
	Base      int // base priority
	PrioStack []int // saved priorities for nested inheritance (sched_lock_priority, prio_passed_to chain head)
	PassedTo  ID    // prio_passed_to: next link in the promotion chain, 0 if none

	Policy      Policy
	RRQuantum   int
	RRRemaining int

	// timing, in scheduler ticks (see timebase/timer)
	Period     int64
	ResumeTime int64
	YieldTime  int64

	// queue links
	Chain listLinks // global task chain
	Ready listLinks // ready list
	Timed listLinks // timed (wake) list
	Block listLinks // the one blocker queue this task may be enqueued on

	BlockedOn Blocked

	// messaging
	Msg        uint64 // scalar carrier
	MsgQueue   ID     // head of inbound senders blocked on this task (msgq list, linked via Block)
	MsgQueueTl ID     // tail, for O(1) FIFO append
	RetQueue   ID     // head of RPC callers awaiting reply from this task
	RetQueueTl ID

	// resource accounting: high 32 bits count owned mutexes plus rpcs this
	// task is serving (both PIP obligations); the low 32 bits are unused.
	OwnDRes uint64

	SuspendDepth int32 // positive: suspended N times; DeleteSentinel: deletion pending

	UsesFPU bool

	CPUAffinity uint64 // bitmap of permitted CPUs

	// GPOS twin: nonzero TwinID means this TCB has a paired GPOS thread
	// (soft mode, or standing by for hard->soft).
	TwinID   uint64
	Hard     atomic.Int32 // HardState, racing against the migration gatekeeper
	ForceSoft atomic.Bool // set by fault/migration, observed at schedule entry

	// lifecycle hooks
	OnSignal func(t *Task)
	OnExit   func(t *Task)

	// exec accounting: atomic so a diagnostic goroutine may read these
	// concurrently; no package in this module writes them
	ExecTicks  atomic.Int64
	LastSwitch atomic.Int64

	// body: the user function a real-time task runs; the goroutine that
	// sched.Spawn starts calls it once per baton handoff.
	Body func(t *Task)

	// Resume is the baton a CPU's dispatcher hands to this task's
	// goroutine to grant it the CPU; the task parks on it whenever it is
	// not the one actually executing. nil for the idle pseudo-task,
	// which the dispatcher treats as always runnable.
	Resume chan struct{}

	// deleted marks a reclaimed slot so stale IDs fail Arena.Get cleanly.
	deleted bool
}

// Is reports whether every bit in want is set in the task's State.
func (t *Task) Is(want State) bool { return t.State&want == want }

// Any reports whether any bit in want is set in the task's State.
func (t *Task) Any(want State) bool { return t.State&want != 0 }
