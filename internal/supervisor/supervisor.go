// Package supervisor implements the refill supervisor: a deterministic,
// single-threaded state machine coordinating the nozzle port, the fleet
// directory, the transaction store, the meter stability filter, and the
// health monitor. It is grounded on the teacher's internal/execution
// single select-loop shape (one reactor, one event at a time) generalized
// from one input channel to three, and on the FSM-with-independent-timers
// idiom of a BFD session: named states, per-state entry actions, explicit
// retry budgets instead of implicit recursion.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetops/refilld/config"
	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/logger"
	"github.com/fleetops/refilld/internal/model"
	"github.com/fleetops/refilld/internal/stability"
)

// Outbound verb literals. Kept local to this package rather than
// importing internal/nozzleport's constants, so the supervisor never
// reaches into the port's package directly — only through model.NozzlePort.
const (
	verbPairNozzle  = "pair_nozzle"
	verbHeartbeat   = "heartbeat"
	verbRFIDGet     = "rfid_get"
	verbRFIDGetCont = "rfid_get_cont"
	verbRFIDGetStop = "rfid_get_stop"
	verbRFIDStop    = "rfid_stop"
	verbMeterRead   = "meter_read"
	verbMeterReset  = "meter_reset"
	verbSetSolenoid = "set_solenoid"
	verbCBHB        = "cbhb"
)

// Solenoid commands. I1: open only in {Dispensing, Interrupted-while-
// recovering}; commanded closed on every exit from those states.
const (
	solenoidClosed = "0"
	solenoidOpen   = "1"
)

// Supervisor is the refill state machine. One instance serves one
// nozzle for the process lifetime.
type Supervisor struct {
	cfg      *config.Config
	nozzleID string
	tankID   int

	port      model.NozzlePort
	directory model.DirectoryClient
	store     model.TransactionStore
	monitor   *health.Monitor
	filter    *stability.Filter
	sink      model.EventSink
	log       *slog.Logger

	cmdCh chan any

	// Current/previous state and transition log.
	state         model.State
	previousState model.State
	enteredAt     time.Time
	message       string
	transitions   []model.Transition

	// traceID correlates one refill's frames, operator calls, and store
	// writes in the log stream. Generated fresh each time a refill starts
	// (enterStarting) and cleared with the rest of the refill scope.
	traceID string

	// Idle
	pairedOnce         bool
	lastHeartbeatProbe time.Time

	// Starting / AwaitingFirstRfid
	rfidRetryBudget      int
	sawValidRfidResponse bool

	// Pending expect-response bookkeeping, tracked by the supervisor
	// itself rather than blocking on model.NozzlePort.Send — the reactor
	// must stay responsive to force-stop and tick events while a request
	// is outstanding (spec §5 back-pressure; see DESIGN.md).
	requestPending  string
	requestDeadline time.Time

	// Bound vehicle for the in-flight refill.
	vehicle *model.VehicleRecord

	// ReadingFirstMeter
	meterRetryBudget int

	// AwaitingTagMatch
	boundTag            model.Tag
	tagMatchRetryBudget int
	tagMatchDeadline    time.Time
	rfidInContact       bool

	// Transaction for the in-flight refill.
	tx *model.Transaction

	// Dispensing
	dispenseMeterRetryBudget int

	// Interrupted
	interruptedRetryBudget int

	// FinalMeterRead / AwaitingStability
	finalMeterRetryBudget int
	awaitingStabilitySince time.Time

	// AwaitingOperatorAck
	appInformed bool

	// Faulted
	faultedAt            time.Time
	faultRecoveries      int
	faultNextRecoveryAt  time.Time

	solenoidIsOpen bool
}

// Deps bundles the Supervisor's external collaborators.
type Deps struct {
	Cfg       *config.Config
	Port      model.NozzlePort
	Directory model.DirectoryClient
	Store     model.TransactionStore
	Monitor   *health.Monitor
	Filter    *stability.Filter
	Sink      model.EventSink // optional
	Log       *slog.Logger    // optional, defaults to slog.Default()
}

// New constructs a Supervisor in Idle.
func New(d Deps) *Supervisor {
	logger := d.Log
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cfg:       d.Cfg,
		nozzleID:  d.Cfg.NozzleID,
		tankID:    d.Cfg.TankID,
		port:      d.Port,
		directory: d.Directory,
		store:     d.Store,
		monitor:   d.Monitor,
		filter:    d.Filter,
		sink:      d.Sink,
		log:       logger,
		cmdCh:     make(chan any, 16),
		state:     model.Idle,
	}
	return s
}

// Run is the reactor: one event at a time, drawn from tick, nozzle
// frame, or operator command (spec §5).
func (s *Supervisor) Run(ctx context.Context) {
	now := time.Now()
	s.enteredAt = now
	s.enterIdle(now)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.onTick(now)
		case ev, ok := <-s.port.Events():
			if !ok {
				s.transition(model.Faulted, "nozzle transport closed", time.Now())
				continue
			}
			s.onNozzleFrame(ev, time.Now())
		case cmd := <-s.cmdCh:
			s.onCommand(cmd, time.Now())
		}
	}
}

// ── Public command submission (called from the operator HTTP layer) ──

func (s *Supervisor) Start(ctx context.Context) StartResult {
	cmd := StartCommand{Resp: make(chan StartResult, 1)}
	if !s.submit(ctx, cmd) {
		return StartResult{}
	}
	return await(ctx, cmd.Resp)
}

func (s *Supervisor) SubmitOdometer(ctx context.Context, kilometers int) OdometerResult {
	cmd := OdometerCommand{Kilometers: kilometers, Resp: make(chan OdometerResult, 1)}
	if !s.submit(ctx, cmd) {
		return OdometerResult{}
	}
	return await(ctx, cmd.Resp)
}

func (s *Supervisor) ForceStop(ctx context.Context) ForceStopResult {
	cmd := ForceStopCommand{Resp: make(chan ForceStopResult, 1)}
	if !s.submit(ctx, cmd) {
		return ForceStopResult{}
	}
	return await(ctx, cmd.Resp)
}

func (s *Supervisor) Status(ctx context.Context) StatusSnapshot {
	cmd := StatusQuery{Resp: make(chan StatusSnapshot, 1)}
	if !s.submit(ctx, cmd) {
		return StatusSnapshot{}
	}
	return await(ctx, cmd.Resp)
}

func (s *Supervisor) Operation(ctx context.Context, request string, kilometers int) OperationResult {
	cmd := OperationCommand{Request: request, Kilometers: kilometers, Resp: make(chan OperationResult, 1)}
	if !s.submit(ctx, cmd) {
		return OperationResult{}
	}
	return await(ctx, cmd.Resp)
}

func (s *Supervisor) submit(ctx context.Context, cmd any) bool {
	select {
	case s.cmdCh <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

// await blocks for a command's response or ctx cancellation, whichever
// comes first. Generic over the five response types so each public
// method above stays a two-line wrapper.
func await[T any](ctx context.Context, ch chan T) T {
	var zero T
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return zero
	}
}

// bgCtx opens a bounded context for one store/directory call, carrying the
// in-flight refill's trace id (if any) so implementations that log or
// propagate context can correlate the call back to its refill.
func (s *Supervisor) bgCtx() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if s.traceID != "" {
		ctx = logger.WithTraceID(ctx, s.traceID)
	}
	return ctx, cancel
}

// logWith returns the supervisor's logger, annotated with the in-flight
// refill's trace id when one exists, so every log line for a given
// refill's frames, operator calls, and store writes carries the same id.
func (s *Supervisor) logWith() *slog.Logger {
	if s.traceID == "" {
		return s.log
	}
	return s.log.With(slog.String("trace_id", s.traceID))
}
