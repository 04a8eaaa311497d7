// Package resource implements the Resource Primitives: counting and
// binary semaphores, a resource mutex with priority inheritance, and
// condition variables, returning a common {OK, TIMEOUT, UNBLOCKED, CLOSED}
// result. Semaphore has wait/wait_if/wait_until/wait_timed variants
// (Wait, WaitIf, WaitUntil, WaitTimed). Mutex.Lock and Cond.Wait each have
// a single blocking form bounded only by their context; there is no
// non-blocking, absolute-deadline or relative-timeout method for them.
//
// Every blocker's waiter queue is threaded through a tcb.List over the
// blocked task's own Block link field, and a waiting task carries a
// tcb.Blocked tag naming which object it is parked on — the same
// arena-indexed bookkeeping the scheduler core's ready and timed lists
// use, rather than a private slice of waiter structs. The actual park/
// wake handoff is still a channel per waiter, standing in for a real
// context switch, the way the scheduler's own dispatcher substitutes a
// Go goroutine baton for one.
//
// The waiter-queue-plus-atomic-counter shape is grounded on catrate's
// categoryData (an atomic fast-path counter backed by a pooled, mutex-
// guarded structure for the slow path), adapted here from a sliding-
// window event counter to a blocking semaphore count.
package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-rtexec/internal/sched"
	"github.com/joeycumines/go-rtexec/internal/tcb"
)

// Result is the common outcome of every blocking resource operation.
type Result int

const (
	OK Result = iota
	Timeout
	Unblocked
	Closed
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Timeout:
		return "TIMEOUT"
	case Unblocked:
		return "UNBLOCKED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// nextBlockerID hands out the opaque handles BlockedOn.On carries for
// each semaphore/mutex/cond instance, the index half of the tagged union
// a waiting task's BlockedOn field points at.
var nextBlockerID uint32

func newBlockerID() uint32 {
	return atomic.AddUint32(&nextBlockerID, 1)
}

// Semaphore is a counting semaphore; NewBinary clamps its count to {0,1}.
type Semaphore struct {
	arena *tcb.Arena
	id    uint32

	mu      sync.Mutex
	count   int
	binary  bool
	closed  bool
	waiters *tcb.List
	chans   map[tcb.ID]chan Result
}

// NewCounting constructs a counting semaphore starting at initial.
func NewCounting(arena *tcb.Arena, initial int) *Semaphore {
	return &Semaphore{arena: arena, id: newBlockerID(), count: initial, waiters: tcb.NewBlockList(), chans: make(map[tcb.ID]chan Result)}
}

// NewBinary constructs a binary semaphore starting at 0 or 1.
func NewBinary(arena *tcb.Arena, initial int) *Semaphore {
	if initial != 0 {
		initial = 1
	}
	return &Semaphore{arena: arena, id: newBlockerID(), count: initial, binary: true, waiters: tcb.NewBlockList(), chans: make(map[tcb.ID]chan Result)}
}

// WaitIf is the nonblocking try: it decrements and returns OK if count is
// positive, else returns Timeout without blocking.
func (s *Semaphore) WaitIf() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Closed
	}
	if s.count > 0 {
		s.count--
		return OK
	}
	return Timeout
}

// Wait blocks id until the semaphore can be decremented, the wait is
// unblocked, the semaphore is closed, or ctx is done.
func (s *Semaphore) Wait(ctx context.Context, id tcb.ID) Result {
	if r, ch := s.tryOrEnqueue(id); ch == nil {
		return r
	} else {
		select {
		case r := <-ch:
			return r
		case <-ctx.Done():
			s.cancel(id)
			return Timeout
		}
	}
}

// WaitUntil blocks id until abs, or WaitTimed semantics apply.
func (s *Semaphore) WaitUntil(id tcb.ID, abs time.Time) Result {
	ctx, cancel := context.WithDeadline(context.Background(), abs)
	defer cancel()
	return s.Wait(ctx, id)
}

// WaitTimed blocks id for at most d.
func (s *Semaphore) WaitTimed(id tcb.ID, d time.Duration) Result {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Wait(ctx, id)
}

func (s *Semaphore) tryOrEnqueue(id tcb.ID) (Result, chan Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Closed, nil
	}
	if s.count > 0 {
		s.count--
		return OK, nil
	}
	ch := make(chan Result, 1)
	s.chans[id] = ch
	t := s.arena.MustGet(id)
	t.State |= tcb.Semaphore
	t.BlockedOn = tcb.Blocked{Kind: tcb.BlockSem, On: s.id}
	s.waiters.PushBack(s.arena, id)
	return 0, ch
}

func (s *Semaphore) cancel(id tcb.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chans[id]; !ok {
		return
	}
	delete(s.chans, id)
	s.waiters.Remove(s.arena, id)
	t := s.arena.MustGet(id)
	t.State &^= tcb.Semaphore
	t.BlockedOn = tcb.Blocked{}
}

// Signal increments the semaphore; if a waiter is queued it is dequeued
// and handed the slot directly instead of incrementing the counter.
func (s *Semaphore) Signal() {
	s.mu.Lock()
	if id := s.waiters.Front(); id != 0 {
		s.waiters.Remove(s.arena, id)
		ch := s.chans[id]
		delete(s.chans, id)
		t := s.arena.MustGet(id)
		t.State &^= tcb.Semaphore
		t.BlockedOn = tcb.Blocked{}
		s.mu.Unlock()
		ch <- OK
		return
	}
	if !s.binary || s.count == 0 {
		s.count++
	}
	s.mu.Unlock()
}

// drainWaiters empties the waiter list and returns every member's id,
// clearing each one's blocked-state bookkeeping; the caller still owns
// delivering a result over each id's channel.
func (s *Semaphore) drainWaiters() []tcb.ID {
	var ids []tcb.ID
	for id := s.waiters.Front(); id != 0; id = s.waiters.Next(s.arena, id) {
		ids = append(ids, id)
	}
	s.waiters = tcb.NewBlockList()
	for _, id := range ids {
		t := s.arena.MustGet(id)
		t.State &^= tcb.Semaphore
		t.BlockedOn = tcb.Blocked{}
	}
	return ids
}

// Unblock wakes every waiter with Unblocked, as if the semaphore or the
// waiting task had been destroyed.
func (s *Semaphore) Unblock() {
	s.mu.Lock()
	ids := s.drainWaiters()
	chans := make([]chan Result, len(ids))
	for i, id := range ids {
		chans[i] = s.chans[id]
		delete(s.chans, id)
	}
	s.mu.Unlock()
	for _, ch := range chans {
		ch <- Unblocked
	}
}

// Close wakes every waiter with Closed and fails all future operations.
func (s *Semaphore) Close() {
	s.mu.Lock()
	s.closed = true
	ids := s.drainWaiters()
	chans := make([]chan Result, len(ids))
	for i, id := range ids {
		chans[i] = s.chans[id]
		delete(s.chans, id)
	}
	s.mu.Unlock()
	for _, ch := range chans {
		ch <- Closed
	}
}

// Count reports the current count (diagnostic only; racy against
// concurrent Wait/Signal by design, matching a real semaphore's int
// peek).
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Mutex is a resource mutex with owner tracking, recursive locking, and
// priority inheritance driven through a sched.Scheduler.
type Mutex struct {
	id uint32

	mu        sync.Mutex
	owner     tcb.ID
	recursion int
	waiters   *tcb.List
	chans     map[tcb.ID]chan Result
}

// NewMutex constructs an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{id: newBlockerID(), waiters: tcb.NewBlockList(), chans: make(map[tcb.ID]chan Result)}
}

// Lock acquires m for id, recursing if id already owns it. If another
// task owns m, id blocks and, through s, raises the owner's effective
// priority to at least id's. id's PassedTo is set to the owner for the
// duration of the wait, so Inherit's promotion-chain walk continues past
// the owner if the owner is itself waiting on a further resource.
func (m *Mutex) Lock(ctx context.Context, s *sched.Scheduler, cpu *sched.CPU, id tcb.ID) Result {
	m.mu.Lock()
	if m.owner == 0 {
		m.owner = id
		m.recursion = 1
		t := s.Arena.MustGet(id)
		t.OwnDRes += 1 << 32
		m.mu.Unlock()
		return OK
	}
	if m.owner == id {
		m.recursion++
		m.mu.Unlock()
		return OK
	}
	ch := make(chan Result, 1)
	m.chans[id] = ch
	owner := m.owner
	t := s.Arena.MustGet(id)
	t.State |= tcb.Semaphore
	t.BlockedOn = tcb.Blocked{Kind: tcb.BlockMutex, On: m.id}
	t.PassedTo = owner
	m.waiters.InsertSortedBy(s.Arena, id, func(x, y tcb.ID) bool {
		return s.Arena.MustGet(x).Priority < s.Arena.MustGet(y).Priority
	})
	m.mu.Unlock()

	s.Inherit(cpu, owner, s.Arena.MustGet(id).Priority)

	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		m.cancel(s, id)
		return Timeout
	}
}

func (m *Mutex) cancel(s *sched.Scheduler, id tcb.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chans[id]; !ok {
		return
	}
	delete(m.chans, id)
	m.waiters.Remove(s.Arena, id)
	t := s.Arena.MustGet(id)
	t.State &^= tcb.Semaphore
	t.BlockedOn = tcb.Blocked{}
	t.PassedTo = 0
}

// Unlock releases one level of recursion; at zero it hands ownership to
// the highest-priority waiter (if any) and restores the prior owner's
// priority via s.
func (m *Mutex) Unlock(s *sched.Scheduler, cpu *sched.CPU, id tcb.ID) {
	m.mu.Lock()
	if m.owner != id {
		m.mu.Unlock()
		return
	}
	m.recursion--
	if m.recursion > 0 {
		m.mu.Unlock()
		return
	}

	t := s.Arena.MustGet(id)
	t.OwnDRes -= 1 << 32

	var nextID tcb.ID
	var nextCh chan Result
	if front := m.waiters.Front(); front != 0 {
		nextID = front
		m.waiters.Remove(s.Arena, front)
		nextCh = m.chans[front]
		delete(m.chans, front)
		nt := s.Arena.MustGet(front)
		nt.State &^= tcb.Semaphore
		nt.BlockedOn = tcb.Blocked{}
		nt.PassedTo = 0
	}

	topWaiter := -1
	if front := m.waiters.Front(); front != 0 {
		topWaiter = s.Arena.MustGet(front).Priority
	}
	m.owner = 0
	if nextID != 0 {
		m.owner = nextID
		m.recursion = 1
		s.Arena.MustGet(nextID).OwnDRes += 1 << 32
	}
	m.mu.Unlock()

	s.Restore(cpu, id, topWaiter)
	if nextCh != nil {
		nextCh <- OK
	}
}

// Owner reports the current owner, or 0 if unlocked.
func (m *Mutex) Owner() tcb.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Cond is a condition variable always used together with a Mutex.
type Cond struct {
	arena *tcb.Arena
	id    uint32

	mu      sync.Mutex
	waiters *tcb.List
	chans   map[tcb.ID]chan Result
}

// NewCond constructs an empty condition variable.
func NewCond(arena *tcb.Arena) *Cond {
	return &Cond{arena: arena, id: newBlockerID(), waiters: tcb.NewBlockList(), chans: make(map[tcb.ID]chan Result)}
}

// Wait atomically drops m (on id's behalf) and blocks id on the
// condition; on wake it re-takes m before returning.
func (c *Cond) Wait(ctx context.Context, s *sched.Scheduler, cpu *sched.CPU, m *Mutex, id tcb.ID) Result {
	ch := make(chan Result, 1)
	c.mu.Lock()
	c.chans[id] = ch
	t := c.arena.MustGet(id)
	t.State |= tcb.Semaphore
	t.BlockedOn = tcb.Blocked{Kind: tcb.BlockCond, On: c.id}
	c.waiters.PushBack(c.arena, id)
	c.mu.Unlock()

	m.Unlock(s, cpu, id)

	var r Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		c.cancel(id)
		r = Timeout
	}

	if lockR := m.Lock(ctx, s, cpu, id); lockR != OK && r == OK {
		r = lockR
	}
	return r
}

func (c *Cond) cancel(id tcb.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.chans[id]; !ok {
		return
	}
	delete(c.chans, id)
	c.waiters.Remove(c.arena, id)
	t := c.arena.MustGet(id)
	t.State &^= tcb.Semaphore
	t.BlockedOn = tcb.Blocked{}
}

// Signal wakes one waiter, if any.
func (c *Cond) Signal() {
	c.mu.Lock()
	id := c.waiters.Front()
	if id == 0 {
		c.mu.Unlock()
		return
	}
	c.waiters.Remove(c.arena, id)
	ch := c.chans[id]
	delete(c.chans, id)
	t := c.arena.MustGet(id)
	t.State &^= tcb.Semaphore
	t.BlockedOn = tcb.Blocked{}
	c.mu.Unlock()
	ch <- OK
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	var ids []tcb.ID
	for id := c.waiters.Front(); id != 0; id = c.waiters.Next(c.arena, id) {
		ids = append(ids, id)
	}
	c.waiters = tcb.NewBlockList()
	chans := make([]chan Result, 0, len(ids))
	for _, id := range ids {
		chans = append(chans, c.chans[id])
		delete(c.chans, id)
		t := c.arena.MustGet(id)
		t.State &^= tcb.Semaphore
		t.BlockedOn = tcb.Blocked{}
	}
	c.mu.Unlock()
	for _, ch := range chans {
		ch <- OK
	}
}
