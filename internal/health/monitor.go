// Package health implements the three independent last-seen/timeout
// watches the supervisor consumes every tick (spec §4.3). Each watch is a
// (last-seen timestamp, timeout budget) pair, generalizing the teacher's
// single-watch closedetector into several.
package health

import "time"

// Name identifies one of the three watches.
type Name string

const (
	Board    Name = "board_heartbeat"
	Nozzle   Name = "nozzle_heartbeat"
	Operator Name = "operator_contact"
)

type watch struct {
	lastSeen  time.Time
	budget    time.Duration
	unbounded bool
}

func (w *watch) refresh(now time.Time) { w.lastSeen = now }

func (w *watch) expired(now time.Time) bool {
	if w.unbounded || w.budget <= 0 || w.lastSeen.IsZero() {
		return false
	}
	return now.Sub(w.lastSeen) >= w.budget
}

// Monitor tracks board heartbeat, nozzle heartbeat, and operator contact.
type Monitor struct {
	watches map[Name]*watch

	operatorActiveBudget time.Duration
}

// New creates a Monitor with the given budgets. operatorActiveBudget
// applies only while SetRefillActive(true); operator contact is unbounded
// in Idle (spec §4.3).
func New(boardBudget, nozzleBudget, operatorActiveBudget time.Duration) *Monitor {
	return &Monitor{
		watches: map[Name]*watch{
			Board:    {budget: boardBudget},
			Nozzle:   {budget: nozzleBudget},
			Operator: {budget: operatorActiveBudget, unbounded: true},
		},
		operatorActiveBudget: operatorActiveBudget,
	}
}

// Refresh records a fresh last-seen timestamp for name.
func (m *Monitor) Refresh(name Name, now time.Time) {
	if w, ok := m.watches[name]; ok {
		w.refresh(now)
	}
}

// SetRefillActive toggles whether the operator-contact watch enforces its
// budget. Idle is unbounded; every other state enforces it.
func (m *Monitor) SetRefillActive(active bool, now time.Time) {
	w := m.watches[Operator]
	w.unbounded = !active
	if active && w.lastSeen.IsZero() {
		w.refresh(now)
	}
}

// Expired returns the set of watches currently past their budget. Called
// once per tick; the supervisor consumes the result as events, never as
// exceptions (spec §4.3).
func (m *Monitor) Expired(now time.Time) []Name {
	var out []Name
	for _, name := range []Name{Board, Nozzle, Operator} {
		if m.watches[name].expired(now) {
			out = append(out, name)
		}
	}
	return out
}

// LastSeen returns the most recent refresh timestamp for name, or the zero
// time if it was never refreshed.
func (m *Monitor) LastSeen(name Name) time.Time {
	if w, ok := m.watches[name]; ok {
		return w.lastSeen
	}
	return time.Time{}
}

// Reset clears the last-seen timestamps for a fresh refill cycle but keeps
// configured budgets.
func (m *Monitor) Reset() {
	for name, w := range m.watches {
		w.lastSeen = time.Time{}
		if name == Operator {
			w.unbounded = true
		}
	}
}
