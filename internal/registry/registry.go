// Package registry implements the feature registry: a fixed-size
// indirection table mapping small integer indices to {argument
// descriptors, function} slots. A skin (POSIX MQ, PSE51, netrpc, LXRT)
// populates slots at load and tears them down at unload; each slot's
// descriptor encodes which argument positions are user pointers a
// trampoline must translate, and which are read-only, writable, or sized
// by the value of another argument.
//
// The directly-indexed slot table is grounded on eventloop/registry.go's
// approach to tracking live handles in a fixed structure, reshaped from a
// GC-scavenged weak-pointer ring into a dense array: feature slots are
// skin-managed (explicit register/unregister), not garbage collected, so
// there is nothing here for a scavenger to reclaim.
package registry

import (
	"sync"

	"github.com/joeycumines/go-rtexec/internal/rterr"
)

// ArgMode classifies one argument position in a Descriptor.
type ArgMode int

const (
	// ArgValue is an ordinary scalar passed by value.
	ArgValue ArgMode = iota
	// ArgReadOnlyPointer is a user pointer the trampoline must translate
	// and make available for reading only.
	ArgReadOnlyPointer
	// ArgWritablePointer is a user pointer the trampoline must translate
	// and make available for writing.
	ArgWritablePointer
	// ArgSizedByArg is a writable user pointer whose buffer length is
	// given by the value of another argument, identified by SizeArgIndex.
	ArgSizedByArg
)

// Descriptor describes one argument position of a registered feature.
type Descriptor struct {
	Mode ArgMode
	// SizeArgIndex names the argument position carrying this argument's
	// buffer length. Meaningful only when Mode is ArgSizedByArg.
	SizeArgIndex int
}

// Func is a registered feature's entry point: the trampoline has already
// resolved every pointer argument per its Descriptor before calling it.
type Func func(args []uint64) (uint64, error)

type slot struct {
	occupied bool
	name     string
	args     []Descriptor
	fn       Func
}

// Registry is the fixed-size feature-index table.
type Registry struct {
	mu    sync.RWMutex
	slots []slot
}

// New constructs a Registry with a fixed capacity of size slots.
func New(size int) *Registry {
	return &Registry{slots: make([]slot, size)}
}

func (r *Registry) checkIdx(idx int) error {
	if idx < 0 || idx >= len(r.slots) {
		return &rterr.ArgumentError{Message: "registry: index out of range"}
	}
	return nil
}

// Register occupies idx with name, args, and fn. It returns a BusyError
// if idx is already occupied.
func (r *Registry) Register(idx int, name string, args []Descriptor, fn Func) error {
	if err := r.checkIdx(idx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[idx].occupied {
		return &rterr.BusyError{Message: "registry: slot already occupied"}
	}
	r.slots[idx] = slot{occupied: true, name: name, args: args, fn: fn}
	return nil
}

// RegisterNext finds the first free slot, occupies it, and returns its
// index. It returns an ExhaustedError if every slot is occupied.
func (r *Registry) RegisterNext(name string, args []Descriptor, fn Func) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if !r.slots[i].occupied {
			r.slots[i] = slot{occupied: true, name: name, args: args, fn: fn}
			return i, nil
		}
	}
	return -1, &rterr.ExhaustedError{Message: "registry: no free feature slots"}
}

// Unregister vacates idx, the way a skin tears itself down at unload.
func (r *Registry) Unregister(idx int) error {
	if err := r.checkIdx(idx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.slots[idx].occupied {
		return &rterr.ArgumentError{Message: "registry: slot not occupied"}
	}
	r.slots[idx] = slot{}
	return nil
}

// Describe reports idx's argument descriptors, for a user-space trampoline
// to translate pointer arguments before calling Call.
func (r *Registry) Describe(idx int) ([]Descriptor, error) {
	if err := r.checkIdx(idx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.slots[idx].occupied {
		return nil, &rterr.ArgumentError{Message: "registry: slot not occupied"}
	}
	return r.slots[idx].args, nil
}

// Call invokes the function registered at idx with args already translated
// per Describe's descriptors.
func (r *Registry) Call(idx int, args []uint64) (uint64, error) {
	if err := r.checkIdx(idx); err != nil {
		return 0, err
	}
	r.mu.RLock()
	s := r.slots[idx]
	r.mu.RUnlock()
	if !s.occupied {
		return 0, &rterr.ArgumentError{Message: "registry: slot not occupied"}
	}
	return s.fn(args)
}

// Len reports the table's fixed capacity.
func (r *Registry) Len() int { return len(r.slots) }

// Occupied reports how many slots currently hold a registered feature.
func (r *Registry) Occupied() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for i := range r.slots {
		if r.slots[i].occupied {
			n++
		}
	}
	return n
}
