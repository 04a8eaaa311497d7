// Package jitter implements two diagnostics that grow out of the timer
// service's anticipation window: a sliding-window tracker recording how
// far each timer wakeup actually landed from its requested resume time,
// and a throttle bounding how many cross-CPU reschedule signals may be
// sent to a given CPU set within a window.
//
// Both are grounded on catrate's per-category sliding-window rate
// limiter: a bounded window of recent event timestamps per key, pruned on
// every observation. AnticipationTracker adapts this from "deny an event
// past the rate" to "count samples past a bound" — it is a diagnostic,
// never a gate on the scheduler's actual wakeup decision. IPIThrottle
// keeps the gating behavior itself, keyed by a CPU-set signature instead
// of an arbitrary category. Pruning the aged-out prefix of each window
// uses golang.org/x/exp/slices.IndexFunc rather than a hand-rolled scan.
package jitter

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Sample is one observed timer wakeup: how far its actual fire time
// deviated from the requested resume_time, signed (negative means early).
type Sample struct {
	When  time.Time
	Delta time.Duration
}

// AnticipationTracker keeps a bounded sliding window of recent wakeup
// samples per CPU index and reports how many in the window exceeded the
// configured anticipation bound in magnitude.
type AnticipationTracker struct {
	mu      sync.Mutex
	bound   time.Duration
	window  time.Duration
	samples map[int][]Sample
}

// NewAnticipationTracker configures a tracker flagging any sample whose
// |delta| exceeds bound, over a sliding window of the given duration.
func NewAnticipationTracker(bound, window time.Duration) *AnticipationTracker {
	return &AnticipationTracker{
		bound:   bound,
		window:  window,
		samples: make(map[int][]Sample),
	}
}

// Observe records one wakeup sample for cpuIdx and prunes samples that
// have aged out of the window.
func (a *AnticipationTracker) Observe(cpuIdx int, when time.Time, delta time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := append(a.samples[cpuIdx], Sample{When: when, Delta: delta})
	cutoff := when.Add(-a.window)
	i := slices.IndexFunc(s, func(sm Sample) bool { return !sm.When.Before(cutoff) })
	if i < 0 {
		i = len(s)
	}
	a.samples[cpuIdx] = s[i:]
}

// Violations reports how many samples in cpuIdx's current window exceeded
// the configured anticipation bound in magnitude.
func (a *AnticipationTracker) Violations(cpuIdx int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.samples[cpuIdx] {
		d := s.Delta
		if d < 0 {
			d = -d
		}
		if d > a.bound {
			n++
		}
	}
	return n
}

// Len reports how many samples are currently held for cpuIdx, for tests
// and diagnostics.
func (a *AnticipationTracker) Len(cpuIdx int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples[cpuIdx])
}

// IPIThrottle limits how many reschedule signals may be sent to a given
// CPU set within a window, so a storm of priority changes cannot flood
// cross-CPU wakeups the real IPI wiring this module abstracts away.
type IPIThrottle struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
}

// NewIPIThrottle allows up to limit sends per cpuSet key within window.
func NewIPIThrottle(limit int, window time.Duration) *IPIThrottle {
	return &IPIThrottle{limit: limit, window: window, events: make(map[string][]time.Time)}
}

// Allow reports whether one more reschedule signal to cpuSetKey is within
// budget at now; if not, it also reports the time at which the oldest
// event in the window will age out and free up budget.
func (t *IPIThrottle) Allow(cpuSetKey string, now time.Time) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := now.Add(-t.window)
	evs := t.events[cpuSetKey]
	i := slices.IndexFunc(evs, func(ev time.Time) bool { return !ev.Before(cutoff) })
	if i < 0 {
		i = len(evs)
	}
	evs = evs[i:]
	if len(evs) >= t.limit {
		t.events[cpuSetKey] = evs
		return evs[0].Add(t.window), false
	}
	t.events[cpuSetKey] = append(evs, now)
	return time.Time{}, true
}
