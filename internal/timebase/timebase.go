// Package timebase implements the tuned constants and nanosecond<->tick
// time base: calibrated CPU/timer frequencies, and exact, overflow-safe,
// round-toward-zero conversion both ways. The exact-rational
// arithmetic technique (big.Int numerator/denominator, no float64 in the
// hot conversion path) is grounded on floater's UnitsNanosToRat /
// RatToUnitsNanos round-trip conversion core.
package timebase

import (
	"math/big"
	"time"

	"github.com/joeycumines/go-rtexec/internal/rterr"
)

// Mode selects which frequency a Base uses as its conversion denominator:
// TSC in one-shot mode, the hardware timer frequency in periodic mode.
type Mode uint8

const (
	// ModePeriodic converts using the hardware timer frequency.
	ModePeriodic Mode = iota
	// ModeOneshot converts using the calibrated CPU (TSC) frequency.
	ModeOneshot
)

// Tuned holds the calibrated constants derived from measured frequencies:
// worst-case interrupt-to-scheduler latency and one-shot re-arm setup time,
// expressed in both ticks and nanoseconds for the active Mode.
type Tuned struct {
	LatencyCPUUnits int64 // latency_cpu_units, in CPU-frequency ticks
	SetupCPUUnit    int64 // setup_cpunit, in CPU-frequency ticks
	SetupTimerUnit  int64 // setup_timer_unit, in timer-frequency ticks
	HalfTick        int64 // half_tick, in the active Base's ticks
}

// Base converts between nanoseconds and ticks for one frequency, and tracks
// which Mode it was calibrated for.
type Base struct {
	mode   Mode
	freqHz uint64 // ticks per second
	Tuned  Tuned
}

// New constructs a Base for the given mode and frequency. freqHz must be
// positive.
func New(mode Mode, freqHz uint64, latency, setupCPU, setupTimer time.Duration) (*Base, error) {
	if freqHz == 0 {
		return nil, &rterr.ArgumentError{Message: "timebase: frequency must be > 0"}
	}
	b := &Base{mode: mode, freqHz: freqHz}
	b.Tuned = Tuned{
		LatencyCPUUnits: b.NanoToCount(latency.Nanoseconds()),
		SetupCPUUnit:    b.NanoToCount(setupCPU.Nanoseconds()),
		SetupTimerUnit:  b.NanoToCount(setupTimer.Nanoseconds()),
	}
	// HalfTick is NanoToCount of half of one tick's nanosecond period.
	// Half a tick is less than one count, so the truncating conversion
	// yields 0 at every frequency and timed wakeups get no anticipation
	// tolerance; the value is not derived from a periodic timer's period.
	b.Tuned.HalfTick = b.NanoToCount(int64(time.Second) / int64(freqHz) / 2)
	return b, nil
}

// Mode reports which frequency this Base converts against.
func (b *Base) Mode() Mode { return b.mode }

// FreqHz reports the calibrated frequency, in Hz.
func (b *Base) FreqHz() uint64 { return b.freqHz }

// NanoToCount converts a signed nanosecond duration to a tick count using
// exact rational arithmetic (avoids the overflow that a naive
// ns*freq/1e9 int64 multiply risks at high frequencies), then rounds
// toward zero.
func (b *Base) NanoToCount(ns int64) int64 {
	if ns == 0 {
		return 0
	}
	num := big.NewInt(ns)
	num.Mul(num, new(big.Int).SetUint64(b.freqHz))
	den := big.NewInt(1_000_000_000)
	q := new(big.Int).Quo(num, den) // big.Int.Quo truncates toward zero
	return q.Int64()
}

// CountToNano converts a tick count back to nanoseconds, exactly and
// rounding toward zero. NanoToCount(CountToNano(n)) == n whenever the
// frequency divides 1e9 evenly; otherwise the two truncations together
// lose less than one nanosecond's worth of ticks plus one tick.
func (b *Base) CountToNano(count int64) int64 {
	if count == 0 {
		return 0
	}
	num := big.NewInt(count)
	num.Mul(num, big.NewInt(1_000_000_000))
	den := new(big.Int).SetUint64(b.freqHz)
	q := new(big.Int).Quo(num, den)
	return q.Int64()
}

// NanoToCountDuration is a convenience wrapper over NanoToCount for
// time.Duration values.
func (b *Base) NanoToCountDuration(d time.Duration) int64 {
	return b.NanoToCount(int64(d))
}

// CountToNanoDuration is a convenience wrapper over CountToNano, returning
// a time.Duration.
func (b *Base) CountToNanoDuration(count int64) time.Duration {
	return time.Duration(b.CountToNano(count))
}
