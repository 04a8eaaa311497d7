package tcb

import (
	"github.com/joeycumines/go-rtexec/internal/rterr"
)

// magicValid is stamped into every live Task; Get rejects any ID whose slot
// doesn't carry it, catching stale-handle use without needing raw pointers.
const magicValid uint32 = 0x52544342 // "RTCB"

// Arena owns every Task, indexed by ID, replacing raw, freely-aliased TCB
// pointers with a single pool of small integer handles. An Arena is
// explicit, caller-owned state, never a package-level singleton: one
// Arena is created per executive instance at load time and torn down at
// unload.
type Arena struct {
	slots []Task // slots[0] is never used; ID 0 means "no task"
	free  []ID   // reclaimed slot indices, LIFO reuse

	// globalHead/globalTail thread every live task through Task.Chain,
	// giving the scheduler a way to enumerate all tasks (e.g. for
	// diagnostics, or delete-all-on-unload) without a second container.
	globalHead, globalTail ID
}

// NewArena constructs an empty Arena with capacity preallocated for n
// tasks (0 is a valid, if unhelpful, starting capacity).
func NewArena(n int) *Arena {
	a := &Arena{slots: make([]Task, 1, n+1)} // reserve index 0
	return a
}

// Alloc reserves a new Task, returning its ID. The returned Task is zeroed
// except for ID and Magic; callers populate the rest.
func (a *Arena) Alloc() ID {
	var id ID
	if n := len(a.free); n > 0 {
		id = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[id] = Task{}
	} else {
		a.slots = append(a.slots, Task{})
		id = ID(len(a.slots) - 1)
	}

	t := &a.slots[id]
	t.ID = id
	t.Magic = magicValid

	// append to global chain tail
	t.Chain.prev = a.globalTail
	if a.globalTail != 0 {
		a.slots[a.globalTail].Chain.next = id
	} else {
		a.globalHead = id
	}
	a.globalTail = id

	return id
}

// Get returns the Task for id, or an ArgumentError if id is stale, zero,
// or out of range.
func (a *Arena) Get(id ID) (*Task, error) {
	if id == 0 || int(id) >= len(a.slots) {
		return nil, &rterr.ArgumentError{Message: "tcb: unknown task handle"}
	}
	t := &a.slots[id]
	if t.deleted || t.Magic != magicValid {
		return nil, &rterr.ArgumentError{Message: "tcb: stale task handle"}
	}
	return t, nil
}

// MustGet is Get without the error return, for internal call sites that
// already hold a handle known to be live (e.g. "the currently running
// task"). It panics on a bad handle, since that indicates a scheduler bug,
// not caller misuse.
func (a *Arena) MustGet(id ID) *Task {
	t, err := a.Get(id)
	if err != nil {
		panic(err)
	}
	return t
}

// Free reclaims id's slot for reuse, unlinking it from the global chain.
// Callers must ensure the task is off every other list (ready, timed,
// blocker) first; Free only touches Chain.
func (a *Arena) Free(id ID) error {
	t, err := a.Get(id)
	if err != nil {
		return err
	}

	if t.Chain.prev != 0 {
		a.slots[t.Chain.prev].Chain.next = t.Chain.next
	} else {
		a.globalHead = t.Chain.next
	}
	if t.Chain.next != 0 {
		a.slots[t.Chain.next].Chain.prev = t.Chain.prev
	} else {
		a.globalTail = t.Chain.prev
	}

	t.deleted = true
	t.Magic = 0
	a.free = append(a.free, id)
	return nil
}

// Each calls fn for every live task in global-chain order. fn must not
// Alloc or Free; it may mutate the task in place.
func (a *Arena) Each(fn func(*Task)) {
	for id := a.globalHead; id != 0; {
		t := &a.slots[id]
		next := t.Chain.next
		fn(t)
		id = next
	}
}

// Len reports the number of live tasks.
func (a *Arena) Len() int {
	return len(a.slots) - 1 - len(a.free)
}
