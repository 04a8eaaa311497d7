// Package ipc implements the synchronous message-passing core:
// send/receive/rpc/return, their _if and _timed variants, and extended
// (variable-length) message control blocks. The blocking forms take a
// context, whose deadline serves as the absolute (_until) bound.
//
// The rendezvous itself — an unbuffered channel handoff between sender
// and receiver goroutines, with a second channel carrying the reply back
// — is grounded on microbatch's ping/pong channel pair (jobCh/batchCh)
// and longpoll's bounded-wait core (context-scoped blocking receive with
// a clean timeout path). rpc/return additionally drive the task control
// blocks themselves: a blocked sender is threaded onto the receiver's
// msg_queue or ret_queue (the same tcb.List machinery the scheduler uses
// for its ready/timed lists), and rpc applies priority inheritance
// through the owning sched.Scheduler exactly as the resource package
// does for a contended mutex.
package ipc

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-rtexec/internal/rterr"
	"github.com/joeycumines/go-rtexec/internal/sched"
	"github.com/joeycumines/go-rtexec/internal/tcb"
)

// Result mirrors the resource package's common outcome enum: every
// blocking IPC call returns one of OK, Timeout, Unblocked.
type Result int

const (
	OK Result = iota
	Timeout
	Unblocked
)

// Envelope carries one in-flight message. For an rpc, Reply is non-nil
// and the sender blocks on it until the receiver calls Core.Return.
type Envelope struct {
	From tcb.ID
	Msg  uint64

	// extended payload, nil for scalar-only messages
	SBuf   []byte
	RBuf   []byte
	RBytes int // bytes actually delivered into RBuf, set by the receiver

	reply  chan uint64
	xreply chan []byte
}

type inbox struct {
	mu     sync.Mutex
	ch     chan *Envelope
	peeked *Envelope
}

func newInbox() *inbox { return &inbox{ch: make(chan *Envelope)} }

func (ib *inbox) receive(ctx context.Context) (*Envelope, Result) {
	ib.mu.Lock()
	if ib.peeked != nil {
		e := ib.peeked
		ib.peeked = nil
		ib.mu.Unlock()
		return e, OK
	}
	ib.mu.Unlock()

	select {
	case e := <-ib.ch:
		return e, OK
	case <-ctx.Done():
		return nil, Timeout
	}
}

func (ib *inbox) receiveIf() (*Envelope, Result) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.peeked != nil {
		e := ib.peeked
		ib.peeked = nil
		return e, OK
	}
	select {
	case e := <-ib.ch:
		return e, OK
	default:
		return nil, Timeout
	}
}

func (ib *inbox) evdrp() (*Envelope, Result) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.peeked != nil {
		return ib.peeked, OK
	}
	select {
	case e := <-ib.ch:
		ib.peeked = e
		return e, OK
	default:
		return nil, Timeout
	}
}

// Core routes messages between tasks identified by tcb.ID, and drives the
// owning scheduler's TCB state and priority inheritance for rpc/return.
type Core struct {
	sched *sched.Scheduler

	mu       sync.Mutex
	inboxes  map[tcb.ID]*inbox
	msgQueue map[tcb.ID]*tcb.List // receiver id -> blocked senders, linked via Task.Block
	retQueue map[tcb.ID]*tcb.List // receiver id -> rpc callers awaiting Return

	// pending tracks rpc/rpcx envelopes a Receive/ReceiveX call has
	// handed to self but whose reply is not yet sent, keyed by
	// (self, from) so Return/ReturnX can complete the call by sender id
	// alone, without the caller retaining the envelope itself.
	pending map[tcb.ID]map[tcb.ID]*Envelope
}

// NewCore constructs a routing core over s; rpc/return use s.Arena for
// TCB bookkeeping and s.Inherit/s.Restore for priority inheritance.
func NewCore(s *sched.Scheduler) *Core {
	return &Core{
		sched:    s,
		inboxes:  make(map[tcb.ID]*inbox),
		msgQueue: make(map[tcb.ID]*tcb.List),
		retQueue: make(map[tcb.ID]*tcb.List),
		pending:  make(map[tcb.ID]map[tcb.ID]*Envelope),
	}
}

func (c *Core) track(self tcb.ID, e *Envelope) {
	if e.reply == nil && e.xreply == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.pending[self]
	if !ok {
		m = make(map[tcb.ID]*Envelope)
		c.pending[self] = m
	}
	m[e.From] = e
}

func (c *Core) untrack(self, from tcb.ID) *Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.pending[self]
	if !ok {
		return nil
	}
	e := m[from]
	delete(m, from)
	return e
}

func (c *Core) inboxFor(id tcb.ID) *inbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	ib, ok := c.inboxes[id]
	if !ok {
		ib = newInbox()
		c.inboxes[id] = ib
	}
	return ib
}

func (c *Core) msgQueueFor(dst tcb.ID) *tcb.List {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.msgQueue[dst]
	if !ok {
		l = tcb.NewBlockList()
		c.msgQueue[dst] = l
	}
	return l
}

func (c *Core) retQueueFor(dst tcb.ID) *tcb.List {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.retQueue[dst]
	if !ok {
		l = tcb.NewBlockList()
		c.retQueue[dst] = l
	}
	return l
}

// syncMsgQueueFields mirrors l's head/tail into dst's MsgQueue/MsgQueueTl
// fields, so a TCB inspected mid-wait shows its real queue membership.
func syncMsgQueueFields(arena *tcb.Arena, dst tcb.ID, l *tcb.List) {
	t := arena.MustGet(dst)
	t.MsgQueue, t.MsgQueueTl = l.Front(), l.Back()
}

func syncRetQueueFields(arena *tcb.Arena, dst tcb.ID, l *tcb.List) {
	t := arena.MustGet(dst)
	t.RetQueue, t.RetQueueTl = l.Front(), l.Back()
}

// Send delivers msg to dst, blocking the caller until a Receive on dst
// consumes it (or ctx is done). The zero ID is the NULL partner sentinel
// and always yields Unblocked.
func (c *Core) Send(ctx context.Context, from, dst tcb.ID, msg uint64) Result {
	if dst == 0 {
		return Unblocked
	}
	arena := c.sched.Arena
	ib := c.inboxFor(dst)
	q := c.msgQueueFor(dst)

	t := arena.MustGet(from)
	t.State |= tcb.Send
	t.BlockedOn = tcb.Blocked{Kind: tcb.BlockMsgQueue, On: uint32(dst)}
	q.PushBack(arena, from)
	syncMsgQueueFields(arena, dst, q)

	cleanup := func() {
		t.State &^= tcb.Send
		t.BlockedOn = tcb.Blocked{}
		q.Remove(arena, from)
		syncMsgQueueFields(arena, dst, q)
	}

	select {
	case ib.ch <- &Envelope{From: from, Msg: msg}:
		cleanup()
		return OK
	case <-ctx.Done():
		cleanup()
		return Timeout
	}
}

// SendIf is Send's nonblocking variant: it succeeds only if a receiver is
// already waiting to consume from dst's channel.
func (c *Core) SendIf(from, dst tcb.ID, msg uint64) Result {
	if dst == 0 {
		return Unblocked
	}
	ib := c.inboxFor(dst)
	select {
	case ib.ch <- &Envelope{From: from, Msg: msg}:
		return OK
	default:
		return Timeout
	}
}

// SendTimed is Send bounded to d.
func (c *Core) SendTimed(from, dst tcb.ID, msg uint64, d time.Duration) Result {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Send(ctx, from, dst, msg)
}

// Receive blocks self until a message arrives, or ctx is done. The
// partner's id and the scalar message are returned.
func (c *Core) Receive(ctx context.Context, self tcb.ID) (tcb.ID, uint64, Result) {
	arena := c.sched.Arena
	t := arena.MustGet(self)
	t.State |= tcb.Receive
	ib := c.inboxFor(self)
	e, r := ib.receive(ctx)
	t.State &^= tcb.Receive
	if r != OK {
		return 0, 0, r
	}
	c.track(self, e)
	return e.From, e.Msg, OK
}

// ReceiveIf is Receive's nonblocking variant.
func (c *Core) ReceiveIf(self tcb.ID) (tcb.ID, uint64, Result) {
	ib := c.inboxFor(self)
	e, r := ib.receiveIf()
	if r != OK {
		return 0, 0, r
	}
	c.track(self, e)
	return e.From, e.Msg, OK
}

// ReceiveTimed is Receive bounded to d.
func (c *Core) ReceiveTimed(self tcb.ID, d time.Duration) (tcb.ID, uint64, Result) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Receive(ctx, self)
}

// Evdrp peeks the next pending message for self without consuming it.
func (c *Core) Evdrp(self tcb.ID) (tcb.ID, uint64, Result) {
	ib := c.inboxFor(self)
	e, r := ib.evdrp()
	if r != OK {
		return 0, 0, r
	}
	return e.From, e.Msg, OK
}

// RPC sends msg to dst and blocks until Return is called on the matching
// envelope, or ctx is done. While blocked, from is enqueued on dst's
// ret_queue, dst's owndres high half is bumped as if from's obligation
// were a held resource, and dst inherits from's priority if higher
// (reversed by Return, see Restore). The reply value is returned on
// success.
func (c *Core) RPC(ctx context.Context, cpu *sched.CPU, from, dst tcb.ID, msg uint64) (uint64, Result) {
	if dst == 0 {
		return 0, Unblocked
	}
	arena := c.sched.Arena
	ib := c.inboxFor(dst)
	fromT := arena.MustGet(from)
	dstT := arena.MustGet(dst)
	rq := c.retQueueFor(dst)

	fromT.State |= tcb.RPC
	rq.InsertSortedBy(arena, from, func(x, y tcb.ID) bool {
		return arena.MustGet(x).Priority < arena.MustGet(y).Priority
	})
	syncRetQueueFields(arena, dst, rq)
	fromT.BlockedOn = tcb.Blocked{Kind: tcb.BlockRetQueue, On: uint32(dst)}
	dstT.OwnDRes += 1 << 32
	c.sched.Inherit(cpu, dst, fromT.Priority)

	abort := func() Result {
		fromT.State &^= tcb.RPC | tcb.Return
		fromT.BlockedOn = tcb.Blocked{}
		rq.Remove(arena, from)
		syncRetQueueFields(arena, dst, rq)
		dstT.OwnDRes -= 1 << 32
		c.sched.Restore(cpu, dst, topRetQueuePriority(arena, rq))
		return Timeout
	}

	e := &Envelope{From: from, Msg: msg, reply: make(chan uint64, 1)}
	select {
	case ib.ch <- e:
	case <-ctx.Done():
		return 0, abort()
	}

	fromT.State = fromT.State&^tcb.RPC | tcb.Return

	select {
	case reply := <-e.reply:
		fromT.State &^= tcb.Return
		return reply, OK
	case <-ctx.Done():
		return 0, abort()
	}
}

func topRetQueuePriority(arena *tcb.Arena, rq *tcb.List) int {
	if front := rq.Front(); front != 0 {
		return arena.MustGet(front).Priority
	}
	return -1
}

// RPCTimed is RPC bounded to d.
func (c *Core) RPCTimed(cpu *sched.CPU, from, dst tcb.ID, msg uint64, d time.Duration) (uint64, Result) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.RPC(ctx, cpu, from, dst, msg)
}

// Return completes the rpc call from src that self most recently consumed
// via Receive, delivering reply to the blocked caller, popping it from
// self's ret_queue, dropping self's owndres obligation bump, and
// restoring self's priority to the minimum over whatever it still owns
// (the PIP reverse of RPC's Inherit).
func (c *Core) Return(cpu *sched.CPU, self, src tcb.ID, reply uint64) error {
	e := c.untrack(self, src)
	if e == nil || e.reply == nil {
		return &rterr.ArgumentError{Message: "ipc: return on a non-rpc envelope"}
	}

	arena := c.sched.Arena
	selfT := arena.MustGet(self)
	srcT := arena.MustGet(src)
	rq := c.retQueueFor(self)

	rq.Remove(arena, src)
	syncRetQueueFields(arena, self, rq)
	srcT.State &^= tcb.RPC | tcb.Return
	srcT.BlockedOn = tcb.Blocked{}
	selfT.OwnDRes -= 1 << 32

	c.sched.Restore(cpu, self, topRetQueuePriority(arena, rq))

	e.reply <- reply
	return nil
}

// SendX is the extended-message variant of Send: sbuf is copied by
// reference into the envelope for the receiver's ReceiveX to consume.
// Address translation between kernel and user address spaces is the
// caller's responsibility; this core only moves bytes already resolved
// to Go slices.
func (c *Core) SendX(ctx context.Context, from, dst tcb.ID, sbuf []byte) Result {
	if dst == 0 {
		return Unblocked
	}
	arena := c.sched.Arena
	ib := c.inboxFor(dst)
	q := c.msgQueueFor(dst)

	t := arena.MustGet(from)
	t.State |= tcb.Send
	t.BlockedOn = tcb.Blocked{Kind: tcb.BlockMsgQueue, On: uint32(dst)}
	q.PushBack(arena, from)
	syncMsgQueueFields(arena, dst, q)

	cleanup := func() {
		t.State &^= tcb.Send
		t.BlockedOn = tcb.Blocked{}
		q.Remove(arena, from)
		syncMsgQueueFields(arena, dst, q)
	}

	select {
	case ib.ch <- &Envelope{From: from, SBuf: sbuf}:
		cleanup()
		return OK
	case <-ctx.Done():
		cleanup()
		return Timeout
	}
}

// ReceiveX blocks self for an extended message and copies
// min(len(rbuf), len(sbuf)) bytes into rbuf, recording the delivered
// length on the returned envelope.
func (c *Core) ReceiveX(ctx context.Context, self tcb.ID, rbuf []byte) (*Envelope, Result) {
	arena := c.sched.Arena
	t := arena.MustGet(self)
	t.State |= tcb.Receive
	ib := c.inboxFor(self)
	e, r := ib.receive(ctx)
	t.State &^= tcb.Receive
	if r != OK {
		return nil, r
	}
	n := copy(rbuf, e.SBuf)
	e.RBuf = rbuf[:n]
	e.RBytes = n
	c.track(self, e)
	return e, OK
}

// RPCX is RPC's extended-message counterpart: sbuf travels to the
// receiver, and the reply travels back as a byte slice rather than a
// single scalar. It shares RPC's ret_queue/owndres/PIP bookkeeping.
func (c *Core) RPCX(ctx context.Context, cpu *sched.CPU, from, dst tcb.ID, sbuf []byte) ([]byte, Result) {
	if dst == 0 {
		return nil, Unblocked
	}
	arena := c.sched.Arena
	ib := c.inboxFor(dst)
	fromT := arena.MustGet(from)
	dstT := arena.MustGet(dst)
	rq := c.retQueueFor(dst)

	fromT.State |= tcb.RPC
	rq.InsertSortedBy(arena, from, func(x, y tcb.ID) bool {
		return arena.MustGet(x).Priority < arena.MustGet(y).Priority
	})
	syncRetQueueFields(arena, dst, rq)
	fromT.BlockedOn = tcb.Blocked{Kind: tcb.BlockRetQueue, On: uint32(dst)}
	dstT.OwnDRes += 1 << 32
	c.sched.Inherit(cpu, dst, fromT.Priority)

	abort := func() Result {
		fromT.State &^= tcb.RPC | tcb.Return
		fromT.BlockedOn = tcb.Blocked{}
		rq.Remove(arena, from)
		syncRetQueueFields(arena, dst, rq)
		dstT.OwnDRes -= 1 << 32
		c.sched.Restore(cpu, dst, topRetQueuePriority(arena, rq))
		return Timeout
	}

	replyCh := make(chan []byte, 1)
	e := &Envelope{From: from, SBuf: sbuf, xreply: replyCh}
	select {
	case ib.ch <- e:
	case <-ctx.Done():
		return nil, abort()
	}

	fromT.State = fromT.State&^tcb.RPC | tcb.Return

	select {
	case reply := <-replyCh:
		fromT.State &^= tcb.Return
		return reply, OK
	case <-ctx.Done():
		return nil, abort()
	}
}

// ReturnX completes the rpcx call from src that self most recently consumed
// via ReceiveX, delivering reply to the blocked caller, with the same
// ret_queue/owndres/PIP reversal as Return.
func (c *Core) ReturnX(cpu *sched.CPU, self, src tcb.ID, reply []byte) error {
	e := c.untrack(self, src)
	if e == nil || e.xreply == nil {
		return &rterr.ArgumentError{Message: "ipc: returnx on a non-rpcx envelope"}
	}

	arena := c.sched.Arena
	selfT := arena.MustGet(self)
	srcT := arena.MustGet(src)
	rq := c.retQueueFor(self)

	rq.Remove(arena, src)
	syncRetQueueFields(arena, self, rq)
	srcT.State &^= tcb.RPC | tcb.Return
	srcT.BlockedOn = tcb.Blocked{}
	selfT.OwnDRes -= 1 << 32

	c.sched.Restore(cpu, self, topRetQueuePriority(arena, rq))

	e.xreply <- reply
	return nil
}
