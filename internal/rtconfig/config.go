// Package rtconfig models the module-load parameters of the executive
// core: calibrated latencies, clock overrides, timer mode, and the
// soft-task kernel-thread reservoir size. It follows the same functional-
// option idiom as eventloop.LoopOption/WithXxx, resolved once at
// construction time into an immutable Config.
package rtconfig

import (
	"time"

	"github.com/joeycumines/go-rtexec/internal/rterr"
)

// Config is the resolved, immutable set of module-load parameters.
type Config struct {
	// Latency is the calibrated worst-case interrupt-to-scheduler latency.
	Latency time.Duration

	// SetupTimeTimer is the calibrated one-shot timer re-arm overhead.
	SetupTimeTimer time.Duration

	// CPUFreqHz overrides the autodetected CPU frequency, in Hz, when
	// nonzero.
	CPUFreqHz uint64

	// APICFreqHz overrides the local timer frequency, in Hz, when nonzero.
	APICFreqHz uint64

	// Oneshot selects one-shot timer mode at boot. Periodic mode (false) is
	// the default, matching the original module's default.
	Oneshot bool

	// PreemptAlways arms the one-shot timer even when the idle task is
	// current, trading idle-CPU power for lower wake latency.
	PreemptAlways bool

	// Reservoir is the size of the pre-spawned GPOS-thread pool kept per
	// CPU for hard/soft migration (see the migration package).
	Reservoir int
}

// defaults mirrors the original module's documented parameter defaults.
func defaults() Config {
	return Config{
		Latency:        0,
		SetupTimeTimer: 0,
		Oneshot:        false,
		PreemptAlways:  false,
		Reservoir:      4,
	}
}

// Option configures a Config, applied in order by New.
type Option func(*Config)

// WithLatency sets the `latency` parameter.
func WithLatency(d time.Duration) Option {
	return func(c *Config) { c.Latency = d }
}

// WithSetupTimeTimer sets the `setup_time_timer` parameter.
func WithSetupTimeTimer(d time.Duration) Option {
	return func(c *Config) { c.SetupTimeTimer = d }
}

// WithCPUFreq sets the `cpu_freq` override, in Hz.
func WithCPUFreq(hz uint64) Option {
	return func(c *Config) { c.CPUFreqHz = hz }
}

// WithAPICFreq sets the `apic_freq` override, in Hz.
func WithAPICFreq(hz uint64) Option {
	return func(c *Config) { c.APICFreqHz = hz }
}

// WithOneshot sets the `oneshot` parameter.
func WithOneshot(enabled bool) Option {
	return func(c *Config) { c.Oneshot = enabled }
}

// WithPreemptAlways sets the `preempt_always` parameter.
func WithPreemptAlways(enabled bool) Option {
	return func(c *Config) { c.PreemptAlways = enabled }
}

// WithReservoir sets the `reservoir` parameter: pre-spawned GPOS threads
// per CPU.
func WithReservoir(n int) Option {
	return func(c *Config) { c.Reservoir = n }
}

// New resolves options into a validated Config.
func New(opts ...Option) (Config, error) {
	c := defaults()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&c)
	}

	if c.Latency < 0 {
		return Config{}, &rterr.ArgumentError{Message: "latency must be >= 0"}
	}
	if c.SetupTimeTimer < 0 {
		return Config{}, &rterr.ArgumentError{Message: "setup_time_timer must be >= 0"}
	}
	if c.Reservoir < 0 {
		return Config{}, &rterr.ArgumentError{Message: "reservoir must be >= 0"}
	}

	return c, nil
}
