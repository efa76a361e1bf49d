// Package stability implements the meter stability filter (spec §4.2):
// it consumes one meter reading at a time and decides when the reading
// has settled, the way the teacher's closedetector decides when a tick
// price has settled after market close.
package stability

import (
	"time"

	"github.com/fleetops/refilld/internal/model"
	"github.com/fleetops/refilld/internal/ringbuf"
)

// Filter tracks current, last_stable, last_saved, and a bounded window of
// recent readings for one refill. It never blocks and holds no internal
// synchronization — callers (the supervisor's single event loop) drive it
// serially.
type Filter struct {
	n        int
	duration time.Duration
	window   *ringbuf.Ring[model.MeterReading]

	current    model.Liters
	lastStable model.Liters
	lastSaved  model.Liters

	runValue  model.Liters
	runCount  int
	runStart  time.Time
	haveRun   bool
	wasStable bool
}

// New creates a Filter requiring n consecutive bit-exact readings spanning
// at least duration before a value is considered stable.
func New(n int, duration time.Duration) *Filter {
	if n < 1 {
		n = 1
	}
	return &Filter{
		n:        n,
		duration: duration,
		window:   ringbuf.New[model.MeterReading](2 * n),
	}
}

// Observe records one reading and reports whether this call is the exact
// unstable→stable transition — callers emit a stable-value signal only on
// that edge, not on every subsequent read while the value holds.
func (f *Filter) Observe(value model.Liters, now time.Time) bool {
	f.current = value
	f.window.Push(model.MeterReading{Value: value, At: now.UnixNano()})

	if !f.haveRun || value != f.runValue {
		f.runValue = value
		f.runCount = 1
		f.runStart = now
		f.haveRun = true
		f.wasStable = false
	} else {
		f.runCount++
	}

	if f.wasStable {
		return false
	}
	if f.runCount < f.n || now.Sub(f.runStart) < f.duration {
		return false
	}

	// I2: last_stable never decreases. A run of bit-exact readings below
	// the current last_stable is reported (current still moves) but does
	// not regress it — meters may wrap or glitch.
	if value > f.lastStable {
		f.lastStable = value
	}
	f.wasStable = true
	return true
}

// Current returns the most recent reading, unconditionally.
func (f *Filter) Current() model.Liters { return f.current }

// LastStable returns the most recently confirmed stable value.
func (f *Filter) LastStable() model.Liters { return f.lastStable }

// LastSaved returns the value most recently persisted to the store.
func (f *Filter) LastSaved() model.Liters { return f.lastSaved }

// MarkSaved records that value has just been persisted.
func (f *Filter) MarkSaved(value model.Liters) { f.lastSaved = value }

// Snapshot returns the public view embedded in state-change events.
func (f *Filter) Snapshot() model.MeterSnapshot {
	return model.MeterSnapshot{
		Current:    f.current,
		LastStable: f.lastStable,
		LastSaved:  f.lastSaved,
	}
}

// Reset clears all refill-scoped state for a fresh cycle, keeping the
// configured threshold and duration.
func (f *Filter) Reset() {
	n, d := f.n, f.duration
	*f = Filter{n: n, duration: d, window: ringbuf.New[model.MeterReading](2 * n)}
}
