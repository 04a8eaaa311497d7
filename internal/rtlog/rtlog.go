// Package rtlog provides the structured logging facade used by every
// component of the executive core. It is a thin adapter over
// github.com/joeycumines/logiface, using github.com/joeycumines/stumpy as
// the zero-allocation-steady-state JSON backend.
//
// Logging must never gate or delay a scheduling decision: every call site
// in this module logs after the decision is made, never in place of it.
package rtlog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type threaded through every component's
// constructor. It is a type alias so call sites can depend on rtlog without
// importing logiface/stumpy directly.
type Logger = logiface.Logger[*stumpy.Event]

// Level re-exports logiface.Level so callers configuring verbosity do not
// need a second import.
type Level = logiface.Level

const (
	LevelDisabled      = logiface.LevelDisabled
	LevelEmergency     = logiface.LevelEmergency
	LevelAlert         = logiface.LevelAlert
	LevelCritical      = logiface.LevelCritical
	LevelError         = logiface.LevelError
	LevelWarning       = logiface.LevelWarning
	LevelNotice        = logiface.LevelNotice
	LevelInformational = logiface.LevelInformational
	LevelDebug         = logiface.LevelDebug
	LevelTrace         = logiface.LevelTrace
)

// New builds a Logger writing stumpy-encoded JSON lines to w at the given
// level. A nil w defaults to os.Stderr, a disabled level silences the
// logger entirely (AddField etc. become no-ops, per logiface's contract).
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return logiface.New[*stumpy.Event](
		stumpy.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*stumpy.Event](level),
	)
}

// Discard is a logger at LevelDisabled, for tests and callers that have not
// configured logging explicitly.
func Discard() *Logger {
	return New(io.Discard, LevelDisabled)
}

// Nop reports whether lg is nil, defensively treating an unconstructed
// *Logger the same as a LevelDisabled one. Internal packages accept a
// *Logger that may be nil (e.g. zero-value component structs in tests).
func Nop(lg *Logger) bool {
	return lg == nil
}
