package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/refilld/config"
	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/model"
	"github.com/fleetops/refilld/internal/stability"
)

func testConfig() *config.Config {
	return &config.Config{
		NozzleID:               "0076",
		TankID:                 1,
		UARTResponseTimeout:    5 * time.Second,
		RFIDRetryInterval:      5 * time.Second,
		RFIDTotalBudget:        180 * time.Second,
		DRFSubmitTimeout:       120 * time.Second,
		NozzleHeartbeatBudget:  40 * time.Second,
		AppCommBudgetActive:    600 * time.Second,
		AppInformTimeout:       10 * time.Second,
		MeterReadTimeout:       5 * time.Second,
		MeterStabilityN:        2,
		MeterStabilityDuration: 5 * time.Second,
		PersistStepLiters:      1.0,
		MaxRFIDRetries:         100,
		TickInterval:           time.Second,
		MaxInterruptDuration:   15 * time.Second,
	}
}

type harness struct {
	sup   *Supervisor
	port  *fakePort
	dir   *fakeDirectory
	store *fakeStore
	sink  *fakeSink
	now   time.Time
}

func newHarness() *harness {
	cfg := testConfig()
	port := newFakePort()
	dir := newFakeDirectory()
	store := newFakeStore()
	sink := newFakeSink()
	monitor := health.New(2*cfg.NozzleHeartbeatBudget, cfg.NozzleHeartbeatBudget, cfg.AppCommBudgetActive)
	filter := stability.New(cfg.MeterStabilityN, cfg.MeterStabilityDuration)
	sup := New(Deps{Cfg: cfg, Port: port, Directory: dir, Store: store, Monitor: monitor, Filter: filter, Sink: sink})

	now := time.Unix(1_700_000_000, 0)
	sup.enterIdle(now)

	return &harness{sup: sup, port: port, dir: dir, store: store, sink: sink, now: now}
}

func (h *harness) advance(d time.Duration) time.Time {
	h.now = h.now.Add(d)
	return h.now
}

func (h *harness) start(t *testing.T) StartResult {
	t.Helper()
	resp := make(chan StartResult, 1)
	h.sup.onCommand(StartCommand{Resp: resp}, h.now)
	return <-resp
}

func (h *harness) odometer(t *testing.T, km int) OdometerResult {
	t.Helper()
	resp := make(chan OdometerResult, 1)
	h.sup.onCommand(OdometerCommand{Kilometers: km, Resp: resp}, h.now)
	return <-resp
}

func (h *harness) operation(t *testing.T, req string, km int) OperationResult {
	t.Helper()
	resp := make(chan OperationResult, 1)
	h.sup.onCommand(OperationCommand{Request: req, Kilometers: km, Resp: resp}, h.now)
	return <-resp
}

func (h *harness) status(t *testing.T) StatusSnapshot {
	t.Helper()
	resp := make(chan StatusSnapshot, 1)
	h.sup.onCommand(StatusQuery{Resp: resp}, h.now)
	return <-resp
}

func (h *harness) frame(family string, args ...string) {
	h.sup.onNozzleFrame(model.NozzleEvent{Family: family, Args: args}, h.now)
}

func (h *harness) tick() {
	h.sup.onTick(h.now)
}

func mustLiters(t *testing.T, s string) model.Liters {
	t.Helper()
	v, err := model.ParseLiters(s)
	require.NoError(t, err)
	return v
}

const testTag = model.Tag("E200001D8914005717701BFC")

func bindVehicle(h *harness, tag model.Tag, capacityLiters model.Liters) {
	h.dir.tags[tag] = model.VehicleRecord{
		Tag:                 tag,
		FleetNumber:         "FL-1",
		TankCapacityLiters:  capacityLiters,
		CurrentMachineHours: 250,
	}
}

// driveToDispensing runs the harness from Idle through the first four
// states into Dispensing, with a bound vehicle of the given capacity.
func driveToDispensing(t *testing.T, h *harness, capacityLiters model.Liters) {
	t.Helper()
	bindVehicle(h, testTag, capacityLiters)

	res := h.start(t)
	require.True(t, res.OK)
	require.Equal(t, model.AwaitingFirstRfid, h.sup.state)

	h.advance(time.Second)
	h.frame("rfid_get", "0076", string(testTag), "2013")
	require.Equal(t, model.AwaitingOdometer, h.sup.state)

	h.advance(time.Second)
	ores := h.odometer(t, 250)
	require.True(t, ores.OK)
	require.Equal(t, model.ReadingFirstMeter, h.sup.state)

	h.advance(time.Second)
	h.frame("meter_read", "0.0")
	require.Equal(t, model.AwaitingTagMatch, h.sup.state)

	h.advance(time.Second)
	h.frame("rfid_match", "0076", "1")
	require.Equal(t, model.Dispensing, h.sup.state)
	require.NotNil(t, h.sup.tx)
}

// ── S1: happy path ──

func TestSupervisor_S1_HappyPathRefill(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "100.0"))

	for _, r := range []string{"4.1", "9.0", "12.3"} {
		h.advance(time.Second)
		h.frame("meter_read", r)
		require.Equal(t, model.Dispensing, h.sup.state)
	}
	// Repeat the final reading with a >=5s gap so the stability filter
	// crosses its edge (R2).
	h.advance(6 * time.Second)
	h.frame("meter_read", "12.3")
	require.Equal(t, model.Dispensing, h.sup.state)
	require.Equal(t, mustLiters(t, "12.3"), h.sup.filter.LastStable())

	h.advance(time.Second)
	opRes := h.operation(t, OpRefillFinish, 0)
	assert.Equal(t, RespRefillFinished, opRes.Response)
	require.Equal(t, model.ForceStopping, h.sup.state)

	h.advance(time.Second)
	h.frame("meter_read", "12.3")
	require.Equal(t, model.FinalMeterRead, h.sup.state)

	h.advance(time.Second)
	h.frame("meter_read", "12.3")
	require.Equal(t, model.AwaitingOperatorAck, h.sup.state)

	require.Equal(t, 1, h.store.count())
	var tx *model.Transaction
	for _, v := range h.store.txs {
		tx = v
	}
	require.NotNil(t, tx)
	assert.Equal(t, model.StatusCompleted, tx.Status)
	assert.Equal(t, mustLiters(t, "12.3"), tx.DispensedLiters)

	h.status(t)
	assert.True(t, h.sup.appInformed)
	h.advance(11 * time.Second)
	h.tick()
	assert.Equal(t, model.Idle, h.sup.state)

	// P2: equal open/close counts, last command is close.
	cmds := h.port.solenoidCommands()
	require.NotEmpty(t, cmds)
	opens, closes := 0, 0
	for _, c := range cmds {
		if c == solenoidOpen {
			opens++
		} else {
			closes++
		}
	}
	assert.Equal(t, opens, closes)
	assert.Equal(t, solenoidClosed, cmds[len(cmds)-1])
}

// ── S2: unknown tag loops, then ceiling returns to Idle with no transaction ──

func TestSupervisor_S2_UnknownTagTimesOutToIdle(t *testing.T) {
	h := newHarness()
	bindVehicle(h, testTag, mustLiters(t, "100.0"))

	res := h.start(t)
	require.True(t, res.OK)

	h.advance(time.Second)
	h.frame("rfid_get", "0076", "AAAAAAAAAAAAAAAAAAAAAAAA", "2013")
	require.Equal(t, model.AwaitingFirstRfid, h.sup.state, "unknown tag must not bind a vehicle")
	require.Nil(t, h.sup.vehicle)

	h.advance(awaitingFirstRfidCeiling + time.Second)
	h.tick()
	assert.Equal(t, model.Idle, h.sup.state)
	assert.Equal(t, 0, h.store.count())
}

// ── S3: nozzle comm loss, recovery, then a second loss exhausts retries ──

func TestSupervisor_S3_NozzleCommLossAndRecovery(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "100.0"))

	h.advance(41 * time.Second)
	h.tick()
	require.Equal(t, model.Interrupted, h.sup.state)
	assert.Contains(t, h.port.solenoidCommands(), solenoidClosed)

	h.advance(time.Second)
	h.frame("rfid_get", "0076", string(testTag), "2013")
	require.Equal(t, model.Dispensing, h.sup.state, "matching tag must recover into Dispensing")

	// Second loss: let every retry expire.
	budget := h.sup.cfg.InterruptRetryBudget()
	h.advance(41 * time.Second)
	h.tick()
	require.Equal(t, model.Interrupted, h.sup.state)
	for i := 0; i < budget+1; i++ {
		h.advance(h.sup.cfg.RFIDRetryInterval + time.Millisecond)
		h.tick()
	}
	assert.Equal(t, model.FinalMeterRead, h.sup.state)
	assert.Equal(t, "Nozzle removed. Ending refill.", h.sup.message)
}

// ── S4: 0-liter dispense leaves no transaction row ──

func TestSupervisor_S4_ZeroLiterDispenseDeletesTransaction(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "100.0"))

	h.advance(time.Second)
	opRes := h.operation(t, OpRefillFinish, 0)
	require.Equal(t, RespRefillFinished, opRes.Response)
	require.Equal(t, model.ForceStopping, h.sup.state)

	h.advance(time.Second)
	h.frame("meter_read", "0.0")
	assert.Equal(t, model.AwaitingOperatorAck, h.sup.state, "zero liters skips FinalMeterRead entirely")
	assert.Equal(t, 0, h.store.count(), "P4: 0-liter refills leave no transaction row")
	assert.Nil(t, h.sup.tx)
}

// ── S5: tank capacity reached ──

func TestSupervisor_S5_TankCapacityReached(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "50.0"))

	h.advance(time.Second)
	h.frame("meter_read", "50.0")
	require.Equal(t, model.FinalMeterRead, h.sup.state)
	assert.Equal(t, "Max Tank Capacity Reached", h.sup.message)

	opRes := h.operation(t, OpRefillParams, 0)
	assert.Equal(t, RespInvalid, opRes.Response)
	assert.Equal(t, "Max Tank Capacity Reached", opRes.Message)
}

// B2: a reading just below capacity does not terminate Dispensing.
func TestSupervisor_B2_BelowCapacityContinuesDispensing(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "50.0"))

	h.advance(time.Second)
	h.frame("meter_read", "49.999")
	assert.Equal(t, model.Dispensing, h.sup.state)
}

// ── S6: odometer out of range, then DRF-submit timeout ──

func TestSupervisor_S6_OdometerOutOfRangeThenTimeout(t *testing.T) {
	h := newHarness()
	bindVehicle(h, testTag, mustLiters(t, "100.0"))
	h.start(t)
	h.advance(time.Second)
	h.frame("rfid_get", "0076", string(testTag), "2013")
	require.Equal(t, model.AwaitingOdometer, h.sup.state)

	res := h.odometer(t, 9999)
	assert.False(t, res.OK)
	assert.Equal(t, model.AwaitingOdometer, h.sup.state)

	h.advance(h.sup.cfg.DRFSubmitTimeout + time.Second)
	h.tick()
	assert.Equal(t, model.Idle, h.sup.state)
}

// B1: kilometers boundary.
func TestSupervisor_B1_KilometersBoundary(t *testing.T) {
	h := newHarness()
	bindVehicle(h, testTag, mustLiters(t, "100.0"))
	h.start(t)
	h.advance(time.Second)
	h.frame("rfid_get", "0076", string(testTag), "2013")

	rejected := h.odometer(t, 1001)
	assert.False(t, rejected.OK)
	assert.Equal(t, model.AwaitingOdometer, h.sup.state)

	accepted := h.odometer(t, 1000)
	assert.True(t, accepted.OK)
	assert.Equal(t, model.ReadingFirstMeter, h.sup.state)
}

// B3: rfid_alarm always wins over a meter_read delivered in the same tick.
func TestSupervisor_B3_AlarmPreemptsMeterReadSameTick(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "100.0"))

	h.advance(time.Second)
	h.frame("rfid_alarm", "0076")
	require.Equal(t, model.Interrupted, h.sup.state)

	// A meter_read that arrives right after must not be processed as a
	// Dispensing-state reading (e.g. must not reopen the solenoid).
	closesBefore := len(h.port.solenoidCommands())
	h.frame("meter_read", "13.0")
	assert.Equal(t, model.Interrupted, h.sup.state)
	assert.Equal(t, closesBefore, len(h.port.solenoidCommands()), "a stray meter_read in Interrupted must not drive any solenoid command")
}

// P1: every recorded transition's From state is the state previously
// current when it was recorded (the machine never jumps in place).
func TestSupervisor_P1_TransitionChainIsConsistent(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "100.0"))

	transitions := h.sup.transitions
	require.NotEmpty(t, transitions)
	for i := 1; i < len(transitions); i++ {
		assert.Equal(t, transitions[i-1].To, transitions[i].From,
			"transition %d should continue from transition %d's target", i, i-1)
		assert.NotEmpty(t, transitions[i].Reason)
	}
}

// P5: last_saved never exceeds last_stable; last_stable never exceeds
// current at the moment of observation.
func TestSupervisor_P5_MeterOrderingInvariant(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "100.0"))

	for _, r := range []string{"2.0", "2.0", "5.5", "5.5", "5.5"} {
		h.advance(2 * time.Second)
		h.frame("meter_read", r)
		snap := h.sup.filter.Snapshot()
		assert.LessOrEqual(t, int64(snap.LastSaved), int64(snap.LastStable))
		assert.LessOrEqual(t, int64(snap.LastStable), int64(snap.Current))
	}
}

// P6 (spot check): AwaitingOperatorAck is never retained past its
// documented 10s timeout.
func TestSupervisor_P6_AwaitingOperatorAckBoundedByTimeout(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "100.0"))

	// Settle the meter at 12.3 so FinalMeterRead finds it equal to last_stable.
	h.advance(time.Second)
	h.frame("meter_read", "12.3")
	h.advance(6 * time.Second)
	h.frame("meter_read", "12.3")
	require.Equal(t, mustLiters(t, "12.3"), h.sup.filter.LastStable())

	h.advance(time.Second)
	h.operation(t, OpRefillFinish, 0)
	h.advance(time.Second)
	h.frame("meter_read", "12.3")
	require.Equal(t, model.FinalMeterRead, h.sup.state)
	h.advance(time.Second)
	h.frame("meter_read", "12.3")
	require.Equal(t, model.AwaitingOperatorAck, h.sup.state)

	h.advance(h.sup.cfg.AppInformTimeout + time.Second)
	h.tick()
	assert.Equal(t, model.Idle, h.sup.state)
}

// R1: a bound vehicle always matches directory lookup(tag).
func TestSupervisor_R1_BoundVehicleMatchesDirectoryLookup(t *testing.T) {
	h := newHarness()
	vehicle := model.VehicleRecord{Tag: testTag, FleetNumber: "FL-9", TankCapacityLiters: mustLiters(t, "80.0"), CurrentMachineHours: 12}
	h.dir.tags[testTag] = vehicle

	h.start(t)
	h.advance(time.Second)
	h.frame("rfid_get", "0076", string(testTag), "2013")

	require.Equal(t, model.AwaitingOdometer, h.sup.state)
	require.NotNil(t, h.sup.vehicle)
	assert.Equal(t, vehicle, *h.sup.vehicle)
}

// Database error during tag match routes to AwaitingOperatorAck with a
// message, per spec §4.4/§7.
func TestSupervisor_StoreErrorOnCreateTransactionRoutesToOperatorAck(t *testing.T) {
	h := newHarness()
	bindVehicle(h, testTag, mustLiters(t, "100.0"))
	h.store.createErr = assertErr{"boom"}

	h.start(t)
	h.advance(time.Second)
	h.frame("rfid_get", "0076", string(testTag), "2013")
	h.advance(time.Second)
	h.odometer(t, 250)
	h.advance(time.Second)
	h.frame("meter_read", "0.0")
	h.advance(time.Second)
	h.frame("rfid_match", "0076", "1")

	require.Equal(t, model.AwaitingOperatorAck, h.sup.state)
	assert.Equal(t, "Database Error", h.sup.message)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

// A store failure while persisting the final reading must flag the
// transaction for operator review, not just log a warning.
func TestSupervisor_Finalize_UpdateLitersFailureFlagsNeedsReview(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "100.0"))

	for _, r := range []string{"4.1", "9.0", "12.3"} {
		h.advance(time.Second)
		h.frame("meter_read", r)
	}
	h.advance(6 * time.Second)
	h.frame("meter_read", "12.3")
	require.Equal(t, mustLiters(t, "12.3"), h.sup.filter.LastStable())

	h.store.updateLitersErr = assertErr{"disk full"}

	h.advance(time.Second)
	res := h.operation(t, OpRefillFinish, 0)
	require.Equal(t, RespRefillFinished, res.Response)
	require.Equal(t, model.ForceStopping, h.sup.state)

	h.advance(time.Second)
	h.frame("meter_read", "12.3")
	require.Equal(t, model.FinalMeterRead, h.sup.state)

	h.advance(time.Second)
	h.frame("meter_read", "12.3")

	require.Equal(t, model.AwaitingOperatorAck, h.sup.state)
	assert.Equal(t, 1, h.store.flagCalls)
	require.Len(t, h.store.flaggedReasons, 1)
	assert.Contains(t, h.store.flaggedReasons[0], "update_liters failed")
}

// ── Faulted recovery ──

func enterFaulted(h *harness) {
	h.sup.transition(model.Faulted, "test induced fault", h.now)
}

// Faulted must not recover before its recovery window opens, and must
// not recover on the heartbeat timer alone — only a heartbeat(0) reply
// counts.
func TestSupervisor_Faulted_NoRecoveryBeforeWindowOpens(t *testing.T) {
	h := newHarness()
	enterFaulted(h)

	h.advance(faultRecoveryWindowStart - time.Second)
	h.tick()

	require.Equal(t, model.Faulted, h.sup.state)
	require.Equal(t, "", h.sup.requestPending)
}

func TestSupervisor_Faulted_ProbeFiresHeartbeatAndWaitsForReply(t *testing.T) {
	h := newHarness()
	enterFaulted(h)

	h.advance(faultRecoveryWindowStart)
	h.tick()

	require.Equal(t, model.Faulted, h.sup.state, "must not recover until the probe's reply arrives")
	assert.Equal(t, verbHeartbeat, h.sup.requestPending)
	assert.Contains(t, h.port.firedVerbs(), verbHeartbeat)
}

func TestSupervisor_Faulted_HeartbeatZeroRecoversToIdle(t *testing.T) {
	h := newHarness()
	enterFaulted(h)

	h.advance(faultRecoveryWindowStart)
	h.tick()
	require.Equal(t, verbHeartbeat, h.sup.requestPending)

	h.frame("heartbeat", "0")

	require.Equal(t, model.Idle, h.sup.state)
}

func TestSupervisor_Faulted_NonZeroHeartbeatReplyStaysFaulted(t *testing.T) {
	h := newHarness()
	enterFaulted(h)

	h.advance(faultRecoveryWindowStart)
	h.tick()
	require.Equal(t, verbHeartbeat, h.sup.requestPending)

	h.frame("heartbeat", "1")

	require.Equal(t, model.Faulted, h.sup.state)
	require.Equal(t, "", h.sup.requestPending)
}

func TestSupervisor_Faulted_ProbeTimeoutStaysFaultedAndRetries(t *testing.T) {
	h := newHarness()
	enterFaulted(h)

	h.advance(faultRecoveryWindowStart)
	h.tick()
	require.Equal(t, verbHeartbeat, h.sup.requestPending)

	// Let the outstanding probe's deadline pass with no reply.
	h.advance(h.sup.cfg.UARTResponseTimeout + time.Second)
	h.tick()

	// The timed-out probe is cleared and, with the next recovery slot
	// already due, a fresh probe goes out on the same tick.
	require.Equal(t, model.Faulted, h.sup.state)
	require.Equal(t, verbHeartbeat, h.sup.requestPending, "timed-out probe must be replaced by a fresh one")
	require.Equal(t, h.now.Add(h.sup.cfg.UARTResponseTimeout), h.sup.requestDeadline, "fresh probe carries a new deadline")
	assert.Equal(t, 2, h.sup.faultRecoveries)
}

// Once the recovery window has elapsed with no answered probe, Faulted
// falls back to a full reset rather than recovering blind.
func TestSupervisor_Faulted_WindowEndForcesFullReset(t *testing.T) {
	h := newHarness()
	enterFaulted(h)

	h.advance(faultRecoveryWindowEnd + time.Second)
	h.tick()

	require.Equal(t, model.Idle, h.sup.state)
}

// A transaction in flight when the board recovers routes to
// AwaitingOperatorAck instead of silently resuming in Idle.
func TestSupervisor_Faulted_RecoveryWithTransactionRoutesToOperatorAck(t *testing.T) {
	h := newHarness()
	driveToDispensing(t, h, mustLiters(t, "100.0"))

	h.advance(6 * time.Second)
	h.frame("meter_read", "5.0")
	h.advance(6 * time.Second)
	h.frame("meter_read", "5.0")
	require.True(t, h.sup.filter.LastStable() > 0, "precondition: a stable reading must be recorded")

	enterFaulted(h)

	h.advance(faultRecoveryWindowStart)
	h.tick()
	h.frame("heartbeat", "0")

	require.Equal(t, model.AwaitingOperatorAck, h.sup.state)
}

// ── trace id propagation ──

func TestSupervisor_TraceID_SetOnStartingAndClearedOnReturnToIdle(t *testing.T) {
	h := newHarness()
	require.Equal(t, "", h.sup.traceID, "idle supervisor carries no trace id")

	res := h.start(t)
	require.True(t, res.OK)
	require.Equal(t, model.AwaitingFirstRfid, h.sup.state)
	require.NotEqual(t, "", h.sup.traceID, "entering Starting must generate a trace id")
	require.Contains(t, h.sup.traceID, h.sup.nozzleID)

	firstTrace := h.sup.traceID

	// Exhaust the rfid retry budget to drive the supervisor back to Idle
	// without needing a separate cancel command.
	h.sup.rfidRetryBudget = 0
	h.advance(h.sup.cfg.UARTResponseTimeout + time.Second)
	h.tick()
	require.Equal(t, model.Idle, h.sup.state)
	require.Equal(t, "", h.sup.traceID, "returning to Idle must clear the prior refill's trace id")

	res3 := h.start(t)
	require.True(t, res3.OK)
	require.NotEqual(t, firstTrace, h.sup.traceID, "each refill attempt gets a fresh trace id")
}

func TestSupervisor_TraceID_AnnotatesLogLinesWhileRefillInFlight(t *testing.T) {
	h := newHarness()
	require.Equal(t, h.sup.log, h.sup.logWith(), "no trace id outside a refill: logWith returns the base logger")

	res := h.start(t)
	require.True(t, res.OK)

	annotated := h.sup.logWith()
	require.NotEqual(t, h.sup.log, annotated, "a trace id must produce a distinct annotated logger")
}
