package supervisor

import (
	"time"

	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/model"
)

func (s *Supervisor) enterInterrupted(now time.Time) {
	s.interruptedRetryBudget = s.cfg.InterruptRetryBudget()
	s.fireExpect(verbRFIDGet, []string{s.nozzleID}, s.cfg.RFIDRetryInterval, now)
}

func (s *Supervisor) frameInterrupted(ev model.NozzleEvent, now time.Time) {
	if ev.Family != "rfid_get" || len(ev.Args) < 2 {
		return
	}
	s.clearRequest()
	tag := model.Tag(ev.Args[1])
	if tag.Present() && tag == s.boundTag {
		s.rfidInContact = true
		s.fire(verbRFIDGetCont, s.nozzleID, string(s.boundTag))
		s.fire(verbSetSolenoid, solenoidOpen)
		s.solenoidIsOpen = true
		s.fireExpect(verbMeterRead, nil, s.cfg.MeterReadTimeout, now)
		s.transition(model.Dispensing, "RFID recovered", now)
		return
	}
	s.fireExpect(verbRFIDGet, []string{s.nozzleID}, s.cfg.RFIDRetryInterval, now)
}

func (s *Supervisor) tickInterrupted(now time.Time, expired []health.Name) {
	if containsName(expired, health.Operator) {
		s.transition(model.FinalMeterRead, "operator contact timeout", now)
		return
	}
	if !s.requestExpired(verbRFIDGet, now) {
		return
	}
	if s.interruptedRetryBudget > 0 {
		s.interruptedRetryBudget--
		s.fireExpect(verbRFIDGet, []string{s.nozzleID}, s.cfg.RFIDRetryInterval, now)
		return
	}
	s.fire(verbRFIDStop, s.nozzleID)
	s.message = "Nozzle removed. Ending refill."
	s.transition(model.FinalMeterRead, "nozzle removed", now)
}
