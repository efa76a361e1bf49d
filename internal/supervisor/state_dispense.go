package supervisor

import (
	"time"

	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/model"
)

const dispenseMeterRetryBudget = 5

func (s *Supervisor) enterDispensing(now time.Time) {
	// set_solenoid(1) and the first meter_read were already issued by the
	// caller (AwaitingTagMatch's match handler, or Interrupted's recovery
	// path) before this transition, per the ordering guarantee in spec §5.
	s.dispenseMeterRetryBudget = dispenseMeterRetryBudget
}

func (s *Supervisor) frameDispensing(ev model.NozzleEvent, now time.Time) {
	switch ev.Family {
	case "rfid_alarm":
		s.rfidInContact = false
		s.fire(verbSetSolenoid, solenoidClosed)
		s.solenoidIsOpen = false
		s.transition(model.Interrupted, "tag contact lost", now)
	case "meter_read":
		s.onDispenseMeterRead(ev, now)
	}
}

func (s *Supervisor) onDispenseMeterRead(ev model.NozzleEvent, now time.Time) {
	if len(ev.Args) == 0 {
		return
	}
	val, err := model.ParseLiters(ev.Args[0])
	if err != nil {
		return
	}
	s.clearRequest()
	s.filter.Observe(val, now)

	cur := s.filter.Current()
	if cur-s.filter.LastSaved() >= litersFromFloat(s.cfg.PersistStepLiters) {
		ctx, cancel := s.bgCtx()
		if err := s.store.UpdateLiters(ctx, s.tx.ID, cur); err != nil {
			s.logWith().Warn("persist step failed", "err", err)
		} else {
			s.filter.MarkSaved(cur)
		}
		cancel()
	}

	if s.vehicle != nil && cur >= s.vehicle.TankCapacityLiters {
		s.fire(verbSetSolenoid, solenoidClosed)
		s.solenoidIsOpen = false
		s.fire(verbRFIDStop, s.nozzleID)
		s.message = "Max Tank Capacity Reached"
		s.transition(model.FinalMeterRead, "tank capacity", now)
		return
	}

	s.dispenseMeterRetryBudget = dispenseMeterRetryBudget
	s.fireExpect(verbMeterRead, nil, s.cfg.MeterReadTimeout, now)
}

func (s *Supervisor) tickDispensing(now time.Time, expired []health.Name) {
	if containsName(expired, health.Nozzle) {
		s.fire(verbSetSolenoid, solenoidClosed)
		s.solenoidIsOpen = false
		s.message = "Nozzle communication lost"
		s.transition(model.Interrupted, "nozzle comm lost", now)
		return
	}
	if containsName(expired, health.Operator) {
		s.fire(verbSetSolenoid, solenoidClosed)
		s.solenoidIsOpen = false
		s.fire(verbRFIDStop, s.nozzleID)
		s.message = "App comm. timeout"
		s.transition(model.FinalMeterRead, "operator contact timeout", now)
		return
	}
	if s.requestExpired(verbMeterRead, now) {
		if s.dispenseMeterRetryBudget > 0 {
			s.dispenseMeterRetryBudget--
			s.fireExpect(verbMeterRead, nil, s.cfg.MeterReadTimeout, now)
			return
		}
		s.fire(verbSetSolenoid, solenoidClosed)
		s.solenoidIsOpen = false
		s.fire(verbRFIDStop, s.nozzleID)
		s.message = "Meter read error"
		s.transition(model.FinalMeterRead, "meter timeout", now)
	}
}
