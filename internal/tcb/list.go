package tcb

// linkField selects which of a Task's three non-chain intrusive links a
// List operates on. The global chain (Task.Chain) is owned directly by
// Arena and never exposed as a List, since only Arena mutates it.
type linkField uint8

const (
	linkReady linkField = iota
	linkTimed
	linkBlock
)

func (a *Arena) links(id ID, field linkField) *listLinks {
	t := &a.slots[id]
	switch field {
	case linkReady:
		return &t.Ready
	case linkTimed:
		return &t.Timed
	default:
		return &t.Block
	}
}

// List is an intrusive doubly-linked list of task IDs, threaded through one
// of a Task's link fields. It never allocates: insertion/removal only
// rewrites ID fields already embedded in the Arena's slots, rather than
// maintaining four separate container types.
type List struct {
	field      linkField
	head, tail ID
}

// NewReadyList returns a List threaded through Task.Ready: a task is on
// it iff its State has READY set.
func NewReadyList() *List { return &List{field: linkReady} }

// NewTimedList returns a List threaded through Task.Timed: a task is on
// it iff its State has DELAYED set.
func NewTimedList() *List { return &List{field: linkTimed} }

// NewBlockList returns a List threaded through Task.Block: one blocker
// object's waiter queue, or one task's msg_queue/ret_queue chain.
func NewBlockList() *List { return &List{field: linkBlock} }

// Empty reports whether the list has no members.
func (l *List) Empty() bool { return l.head == 0 }

// Front returns the head of the list, or 0 if empty.
func (l *List) Front() ID { return l.head }

// Back returns the tail of the list, or 0 if empty.
func (l *List) Back() ID { return l.tail }

// PushBack appends id to the tail, O(1).
func (l *List) PushBack(a *Arena, id ID) {
	links := a.links(id, l.field)
	links.prev, links.next = l.tail, 0
	if l.tail != 0 {
		a.links(l.tail, l.field).next = id
	} else {
		l.head = id
	}
	l.tail = id
}

// InsertBefore inserts id immediately before before. If before is 0,
// InsertBefore behaves as PushBack.
func (l *List) InsertBefore(a *Arena, id, before ID) {
	if before == 0 {
		l.PushBack(a, id)
		return
	}
	beforeLinks := a.links(before, l.field)
	prev := beforeLinks.prev

	links := a.links(id, l.field)
	links.prev, links.next = prev, before
	beforeLinks.prev = id

	if prev != 0 {
		a.links(prev, l.field).next = id
	} else {
		l.head = id
	}
}

// Remove unlinks id from the list, O(1). id must currently be a member;
// Remove does not verify this — callers gate on the corresponding state
// bit before calling.
func (l *List) Remove(a *Arena, id ID) {
	links := a.links(id, l.field)
	if links.prev != 0 {
		a.links(links.prev, l.field).next = links.next
	} else {
		l.head = links.next
	}
	if links.next != 0 {
		a.links(links.next, l.field).prev = links.prev
	} else {
		l.tail = links.prev
	}
	links.prev, links.next = 0, 0
}

// Next returns the task following id in this list, or 0.
func (l *List) Next(a *Arena, id ID) ID { return a.links(id, l.field).next }

// InsertSortedBy walks from the head and inserts id immediately before the
// first member m for which less(id, m) is true, else at the tail. This is
// the shared O(n) mechanism behind both the ready-list priority ordering
// and the timed-list resume_time ordering; the scheduler package supplies
// the comparator for each.
func (l *List) InsertSortedBy(a *Arena, id ID, less func(a, b ID) bool) {
	for cur := l.head; cur != 0; cur = l.Next(a, cur) {
		if less(id, cur) {
			l.InsertBefore(a, id, cur)
			return
		}
	}
	l.PushBack(a, id)
}
