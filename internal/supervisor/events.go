package supervisor

import "github.com/fleetops/refilld/internal/model"

// Operator-originated commands (spec §6 operator HTTP surface). Each
// carries a response channel so the HTTP handler that submitted it can
// block for the reactor's synchronous answer without the reactor itself
// blocking on network I/O.

// StartCommand is "POST /api/fill".
type StartCommand struct {
	Resp chan StartResult
}

type StartResult struct {
	OK           bool
	State        model.State
	AllowedState model.State
}

// OdometerCommand is "POST /api/drf-submit".
type OdometerCommand struct {
	Kilometers int
	Resp       chan OdometerResult
}

type OdometerResult struct {
	OK    bool
	State model.State
	Error string
}

// ForceStopCommand is the direct force-stop request (Supervisor.ForceStop).
// "POST /api/operation {request: refill_finish}" reaches the same
// ForceStopping transition through OperationCommand instead.
type ForceStopCommand struct {
	Resp chan ForceStopResult
}

type ForceStopResult struct {
	OK    bool
	State model.State
}

// StatusQuery is "GET /api/state". Answering it always refreshes the
// operator-contact watch (spec §6: "every operator interaction refreshes
// the operator-contact watch").
type StatusQuery struct {
	Resp chan StatusSnapshot
}

// StatusSnapshot is the full public view of the supervisor at one instant.
type StatusSnapshot struct {
	State         model.State
	PreviousState model.State
	Timestamp     int64
	Transaction   *model.Transaction
	Vehicle       *model.VehicleRecord
	Meter         model.MeterSnapshot
	Message       string
}

// OperationCommand is "POST /api/operation", the token-authenticated
// façade carrying one of a small fixed set of request names.
type OperationCommand struct {
	Request    string
	Kilometers int
	Resp       chan OperationResult
}

// OperationResult is the tagged response the façade returns.
type OperationResult struct {
	Response    string `json:"response"`
	Tag         string `json:"tag,omitempty"`
	FleetNumber string `json:"fleetNumber,omitempty"`
	Liters      string `json:"liters,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Message     string `json:"message,omitempty"`
}

const (
	OpRefillReq    = "refill_req"
	OpRefillDRF    = "refill_drf"
	OpRefillParams = "refill_params"
	OpRefillFinish = "refill_finish"
	OpVehicleInfo  = "vehicle_info"

	RespRefillDRF      = "refill_drf"
	RespRefillStarted  = "refill_started"
	RespRefillParams   = "refill_params"
	RespRefillFinished = "refill_finished"
	RespVehicleInfo    = "vehicle_info"
	RespTagWaiting     = "tag_waiting"
	RespInvalid        = "invalid"
	RespInvalidToken   = "invalid_token"
)
