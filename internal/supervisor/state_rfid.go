package supervisor

import (
	"time"

	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/logger"
	"github.com/fleetops/refilld/internal/model"
)

const awaitingFirstRfidCeiling = 3 * time.Minute

func (s *Supervisor) enterStarting(now time.Time) {
	s.resetRefillScope(now)
	s.traceID = logger.GenerateTraceID(s.nozzleID, now)
	s.rfidRetryBudget = s.cfg.MaxRFIDRetries
	s.sawValidRfidResponse = false
	s.fireExpect(verbRFIDGet, []string{s.nozzleID}, s.cfg.UARTResponseTimeout, now)
	s.transition(model.AwaitingFirstRfid, "rfid_get issued", now)
}

func (s *Supervisor) frameAwaitingFirstRfid(ev model.NozzleEvent, now time.Time) {
	if ev.Family != "rfid_get" || len(ev.Args) < 2 {
		return
	}
	s.sawValidRfidResponse = true
	s.clearRequest()

	tag := model.Tag(ev.Args[1])
	if !tag.Present() {
		s.fireExpect(verbRFIDGet, []string{s.nozzleID}, s.cfg.UARTResponseTimeout, now)
		return
	}

	ctx, cancel := s.bgCtx()
	vehicle, ok, err := s.directory.ValidateTag(ctx, s.tankID, tag)
	cancel()
	if err != nil || !ok {
		s.fireExpect(verbRFIDGet, []string{s.nozzleID}, s.cfg.UARTResponseTimeout, now)
		return
	}

	s.boundTag = tag
	v := vehicle
	s.vehicle = &v
	s.transition(model.AwaitingOdometer, "rfid bound", now)
}

func (s *Supervisor) tickAwaitingFirstRfid(now time.Time, expired []health.Name) {
	if s.requestExpired(verbRFIDGet, now) {
		if s.rfidRetryBudget > 0 {
			s.rfidRetryBudget--
			s.fireExpect(verbRFIDGet, []string{s.nozzleID}, s.cfg.UARTResponseTimeout, now)
		} else {
			s.transition(model.Idle, "rfid max retries", now)
			return
		}
	}
	if s.sawValidRfidResponse && containsName(expired, health.Operator) {
		s.transition(model.Idle, "operator contact timeout", now)
		return
	}
	if now.Sub(s.enteredAt) > awaitingFirstRfidCeiling {
		s.transition(model.Idle, "awaiting first rfid ceiling", now)
	}
}

// tagMatchBudget derives AwaitingTagMatch's retry count as
// RFIDTotalBudget / RFIDRetryInterval, since the spec gives no separate
// explicit count for this state. AwaitingFirstRfid does not use this
// ratio: it is bounded by MaxRFIDRetries and awaitingFirstRfidCeiling.
func (s *Supervisor) tagMatchBudget() int {
	if s.cfg.RFIDRetryInterval <= 0 {
		return 0
	}
	return int(s.cfg.RFIDTotalBudget / s.cfg.RFIDRetryInterval)
}

func (s *Supervisor) enterAwaitingTagMatch(now time.Time) {
	s.tagMatchRetryBudget = s.tagMatchBudget()
	s.rfidInContact = false
	s.fire(verbRFIDGetCont, s.nozzleID, string(s.boundTag))
	s.tagMatchDeadline = now.Add(s.cfg.RFIDRetryInterval)
}

func (s *Supervisor) frameAwaitingTagMatch(ev model.NozzleEvent, now time.Time) {
	if ev.Family != "rfid_match" {
		return
	}
	s.rfidInContact = true

	ctx, cancel := s.bgCtx()
	tx, err := s.store.CreateTransaction(ctx, s.boundTag, s.vehicle.FleetNumber, s.filter.Current(), s.vehicle.CurrentMachineHours)
	cancel()
	if err != nil {
		s.message = "Database Error"
		s.transition(model.AwaitingOperatorAck, "database error", now)
		return
	}

	s.tx = tx
	s.fire(verbSetSolenoid, solenoidOpen)
	s.solenoidIsOpen = true
	s.fireExpect(verbMeterRead, nil, s.cfg.MeterReadTimeout, now)
	s.transition(model.Dispensing, "tag matched", now)
}

func (s *Supervisor) tickAwaitingTagMatch(now time.Time) {
	if !now.After(s.tagMatchDeadline) {
		return
	}
	if s.tagMatchRetryBudget > 0 {
		s.tagMatchRetryBudget--
		s.fire(verbRFIDGetCont, s.nozzleID, string(s.boundTag))
		s.tagMatchDeadline = now.Add(s.cfg.RFIDRetryInterval)
		return
	}
	s.fire(verbRFIDStop, s.nozzleID)
	s.transition(model.Idle, "tag match exhausted", now)
}
