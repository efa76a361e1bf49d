package supervisor

import (
	"time"

	"github.com/fleetops/refilld/internal/model"
)

// enterForceStopping executes the atomic force-stop procedure: fetch one
// meter_read, close the solenoid, stop the RFID reader. The meter_read
// is issued non-blocking (Fire-equivalent via fireExpect's bookkeeping)
// so the reactor stays responsive; its reply or its timeout both resolve
// through resolveForceStop.
func (s *Supervisor) enterForceStopping(now time.Time) {
	s.fireExpect(verbMeterRead, nil, s.cfg.MeterReadTimeout, now)
	s.fire(verbSetSolenoid, solenoidClosed)
	s.solenoidIsOpen = false
	s.fire(verbRFIDStop, s.nozzleID)
	s.message = "Refill ended by user"
}

func (s *Supervisor) frameForceStopping(ev model.NozzleEvent, now time.Time) {
	if ev.Family != "meter_read" {
		return
	}
	s.clearRequest()
	var val model.Liters
	if len(ev.Args) > 0 {
		if v, err := model.ParseLiters(ev.Args[0]); err == nil {
			val = v
		}
	}
	s.resolveForceStop(val, true, now)
}

func (s *Supervisor) tickForceStopping(now time.Time) {
	if s.requestExpired(verbMeterRead, now) {
		s.resolveForceStop(0, false, now)
	}
}

func (s *Supervisor) resolveForceStop(reply model.Liters, haveReply bool, now time.Time) {
	useVal := s.filter.LastStable()
	if haveReply && reply > 0 {
		useVal = reply
	}
	if useVal > 0 {
		s.transition(model.FinalMeterRead, "force stop", now)
		return
	}
	s.finalize(0, now)
}
