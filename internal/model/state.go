package model

// State is one of the Refill Supervisor's thirteen named states (spec §3).
type State int

const (
	Idle State = iota
	Starting
	AwaitingFirstRfid
	AwaitingOdometer
	ReadingFirstMeter
	AwaitingTagMatch
	Dispensing
	Interrupted
	FinalMeterRead
	AwaitingStability
	AwaitingOperatorAck
	ForceStopping
	Faulted
)

var stateNames = map[State]string{
	Idle:                "Idle",
	Starting:            "Starting",
	AwaitingFirstRfid:   "AwaitingFirstRfid",
	AwaitingOdometer:    "AwaitingOdometer",
	ReadingFirstMeter:   "ReadingFirstMeter",
	AwaitingTagMatch:    "AwaitingTagMatch",
	Dispensing:          "Dispensing",
	Interrupted:         "Interrupted",
	FinalMeterRead:      "FinalMeterRead",
	AwaitingStability:   "AwaitingStability",
	AwaitingOperatorAck: "AwaitingOperatorAck",
	ForceStopping:       "ForceStopping",
	Faulted:             "Faulted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// MarshalJSON renders the state as its name, the way the operator surface
// expects it (spec §6 GET /api/state).
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Transition records a single state change, always carrying a non-empty
// reason and a monotonic timestamp (I3).
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp int64 // unix nanos
}
