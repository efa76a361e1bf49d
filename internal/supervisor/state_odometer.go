package supervisor

import (
	"time"

	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/model"
)

// firstMeterAttemptTimeout is ReadingFirstMeter's own per-attempt
// cadence (2 s), distinct from the general meter_read_timeout used by
// Dispensing and FinalMeterRead (5 s) — spec §4.4 gives it literally.
const firstMeterAttemptTimeout = 2 * time.Second

const firstMeterRetryBudget = 150

func (s *Supervisor) onCommandOdometer(cmd OdometerCommand, now time.Time) {
	s.monitor.Refresh(health.Operator, now)
	if s.state != model.AwaitingOdometer {
		cmd.Resp <- OdometerResult{OK: false, State: s.state, Error: "wrong state"}
		return
	}
	if cmd.Kilometers < 0 || cmd.Kilometers > 1000 {
		cmd.Resp <- OdometerResult{OK: false, State: s.state, Error: "kilometers out of range"}
		return
	}
	s.transition(model.ReadingFirstMeter, "odometer accepted", now)
	cmd.Resp <- OdometerResult{OK: true, State: s.state}
}

func (s *Supervisor) tickAwaitingOdometer(now time.Time, expired []health.Name) {
	if now.Sub(s.enteredAt) > s.cfg.DRFSubmitTimeout {
		s.fire(verbRFIDGetStop, s.nozzleID)
		s.transition(model.Idle, "drf submit timeout", now)
		return
	}
	if containsName(expired, health.Operator) {
		s.fire(verbRFIDGetStop, s.nozzleID)
		s.transition(model.Idle, "operator contact timeout", now)
	}
}

func (s *Supervisor) enterReadingFirstMeter(now time.Time) {
	s.meterRetryBudget = firstMeterRetryBudget
	s.fire(verbMeterReset)
	s.fireExpect(verbMeterRead, nil, firstMeterAttemptTimeout, now)
}

func (s *Supervisor) frameReadingFirstMeter(ev model.NozzleEvent, now time.Time) {
	if ev.Family != "meter_read" || len(ev.Args) == 0 {
		return
	}
	val, err := model.ParseLiters(ev.Args[0])
	if err != nil {
		return
	}
	s.clearRequest()
	s.filter.Observe(val, now)
	s.transition(model.AwaitingTagMatch, "first meter read", now)
}

func (s *Supervisor) tickReadingFirstMeter(now time.Time) {
	if !s.requestExpired(verbMeterRead, now) {
		return
	}
	if s.meterRetryBudget > 0 {
		s.meterRetryBudget--
		s.fireExpect(verbMeterRead, nil, firstMeterAttemptTimeout, now)
		return
	}
	s.fire(verbRFIDGetStop, s.nozzleID)
	s.fire(verbSetSolenoid, solenoidClosed)
	s.solenoidIsOpen = false
	s.message = "Meter read error"
	s.transition(model.Idle, "meter read error", now)
}
