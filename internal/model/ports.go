package model

import "context"

// ── External collaborator interfaces ──
// These decouple the Refill Supervisor from the concrete Nozzle Port,
// Fleet Directory Client, and Transaction Store implementations, the way
// the teacher's model.CandleWriter/CandleReader decouple its engines from
// concrete Redis/SQLite stores. The supervisor holds only these
// interfaces; it never reaches into nozzleport/directory/txstore directly.

// NozzleEvent is one inbound frame, already classified by verb family.
type NozzleEvent struct {
	Family string // "heartbeat", "nhb", "rfid_get", "rfid_match", "rfid_alarm", "meter_read", "hls_read"
	Args   []string
	Raw    string
}

// NozzlePort is the line-framed request/response transport to the nozzle
// controller (spec §4.1).
type NozzlePort interface {
	// Send issues an expect-response command and blocks for the next
	// matching frame or the port's deadline, whichever comes first.
	Send(ctx context.Context, verb string, args ...string) (NozzleEvent, error)

	// Fire issues a fire-and-forget command; it does not wait for a reply.
	Fire(verb string, args ...string) error

	// Events delivers every inbound frame, including ones consumed for
	// request/response correlation — "Always emits a data(frame) event
	// before attempting correlation."
	Events() <-chan NozzleEvent

	Close() error
}

// DirectoryClient validates tags and persists best-effort vehicle updates
// against the remote fleet API (spec §4, §6).
type DirectoryClient interface {
	// AvailableTags returns the set of tags currently permitted for tankID.
	AvailableTags(ctx context.Context, tankID int) (map[Tag]VehicleRecord, error)

	// ValidateTag looks up tag in the most recently fetched permitted set.
	ValidateTag(ctx context.Context, tankID int, tag Tag) (VehicleRecord, bool, error)

	// UpdateVehicleHours is best-effort and non-fatal: callers log failures
	// but never let them affect refill completion.
	UpdateVehicleHours(ctx context.Context, tag Tag, hours float64) error
}

// TransactionStore persists the lifecycle of a single refill's Transaction
// row (spec §3, §4, invariants I4/I5).
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tag Tag, fleetNumber string, startMeter Liters, machineHours float64) (*Transaction, error)
	UpdateLiters(ctx context.Context, id int64, liters Liters) error
	AddDispensed(ctx context.Context, id int64, liters Liters) error
	ClearIncomplete(ctx context.Context, id int64) error
	DeleteTransaction(ctx context.Context, id int64) error
	FlagNeedsReview(ctx context.Context, id int64, reason string) error
}

// MeterSnapshot is the stability filter's public view, embedded in every
// state-change event and the /api/state response.
type MeterSnapshot struct {
	Current    Liters `json:"current"`
	LastStable Liters `json:"lastStable"`
	LastSaved  Liters `json:"lastSaved"`
}

// StateChangeEvent is what the supervisor emits on every transition
// (spec §2 "emits a state-change event"). EventSink implementations never
// mutate the supervisor; they only observe.
type StateChangeEvent struct {
	Transition  Transition
	Transaction *Transaction
	Vehicle     *VehicleRecord
	Meter       MeterSnapshot
	Message     string
}

// EventSink receives state-change events for fan-out to operators.
type EventSink interface {
	Publish(evt StateChangeEvent)
}
