// Package rterr defines the closed error taxonomy shared by every component
// of the real-time executive core: argument, busy, exhausted, not-permitted,
// timeout, unblocked and fatal. Call sites return one of these (or wrap one)
// rather than an ad-hoc string, so skins and tests can discriminate with
// [errors.Is] / [errors.As].
package rterr

import "fmt"

// Sentinel instances for [errors.Is] comparisons against the bare kind, e.g.
// errors.Is(err, rterr.Timeout).
var (
	Timeout      = &TimeoutError{}
	Unblocked    = &UnblockedError{}
	Argument     = &ArgumentError{}
	Busy         = &BusyError{}
	Exhausted    = &ExhaustedError{}
	NotPermitted = &NotPermittedError{}
	Fatal        = &FatalError{}
)

// ArgumentError reports an invalid priority, an unknown task (magic
// mismatch), or an out-of-range IRQ/vector number.
type ArgumentError struct {
	Message string
	Cause   error
}

func (e *ArgumentError) Error() string {
	if e.Message == "" {
		return "rtexec: invalid argument"
	}
	return "rtexec: invalid argument: " + e.Message
}

func (e *ArgumentError) Unwrap() error { return e.Cause }

func (e *ArgumentError) Is(target error) bool {
	_, ok := target.(*ArgumentError)
	return ok
}

// BusyError reports that a slot was already occupied: an IRQ vector, a
// watchdog slot, or a named-task collision.
type BusyError struct {
	Message string
	Cause   error
}

func (e *BusyError) Error() string {
	if e.Message == "" {
		return "rtexec: resource busy"
	}
	return "rtexec: resource busy: " + e.Message
}

func (e *BusyError) Unwrap() error { return e.Cause }

func (e *BusyError) Is(target error) bool {
	_, ok := target.(*BusyError)
	return ok
}

// ExhaustedError reports that no free TCB, semaphore, mutex, or stack
// remained in the relevant pool.
type ExhaustedError struct {
	Message string
	Cause   error
}

func (e *ExhaustedError) Error() string {
	if e.Message == "" {
		return "rtexec: pool exhausted"
	}
	return "rtexec: pool exhausted: " + e.Message
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

func (e *ExhaustedError) Is(target error) bool {
	_, ok := target.(*ExhaustedError)
	return ok
}

// NotPermittedError reports that the operation needed hard/soft/RT-current
// context and the caller was not in it.
type NotPermittedError struct {
	Message string
	Cause   error
}

func (e *NotPermittedError) Error() string {
	if e.Message == "" {
		return "rtexec: not permitted in current context"
	}
	return "rtexec: not permitted: " + e.Message
}

func (e *NotPermittedError) Unwrap() error { return e.Cause }

func (e *NotPermittedError) Is(target error) bool {
	_, ok := target.(*NotPermittedError)
	return ok
}

// TimeoutError reports that a blocking call woke via its deadline, without
// the awaited event occurring. Distinguishable from [UnblockedError].
type TimeoutError struct {
	Message string
	Cause   error
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "rtexec: operation timed out"
	}
	return "rtexec: operation timed out: " + e.Message
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// UnblockedError reports that a blocking call woke because the target of
// the block (task, semaphore, mutex, message partner) was destroyed while
// the caller waited. Distinguishable from [TimeoutError].
type UnblockedError struct {
	Message string
	Cause   error
}

func (e *UnblockedError) Error() string {
	if e.Message == "" {
		return "rtexec: unblocked (target destroyed)"
	}
	return "rtexec: unblocked: " + e.Message
}

func (e *UnblockedError) Unwrap() error { return e.Cause }

func (e *UnblockedError) Is(target error) bool {
	_, ok := target.(*UnblockedError)
	return ok
}

// FatalError reports a stack overflow, FPU misconfiguration, or an
// unhandled trap taken from RT context. The task carrying the fault is
// forcibly demoted to soft (see the migration package) and the error is
// informational only — the GPOS signal path is what the caller ultimately
// observes.
type FatalError struct {
	Message string
	Cause   error
}

func (e *FatalError) Error() string {
	if e.Message == "" {
		return "rtexec: fatal fault, task demoted"
	}
	return fmt.Sprintf("rtexec: fatal fault, task demoted: %s", e.Message)
}

func (e *FatalError) Unwrap() error { return e.Cause }

func (e *FatalError) Is(target error) bool {
	_, ok := target.(*FatalError)
	return ok
}
