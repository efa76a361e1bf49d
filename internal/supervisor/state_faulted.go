package supervisor

import (
	"time"

	"github.com/fleetops/refilld/internal/model"
)

const (
	faultRecoveryWindowStart = 5 * time.Second
	faultRecoveryWindowEnd   = 30 * time.Second
	faultRecoveryInterval    = 5 * time.Second
	faultMaxRecoveries       = 3
)

func (s *Supervisor) enterFaulted(now time.Time) {
	s.faultedAt = now
	s.faultRecoveries = 0
	s.faultNextRecoveryAt = now.Add(faultRecoveryWindowStart)
	s.fire(verbSetSolenoid, solenoidClosed)
	s.solenoidIsOpen = false
}

// frameFaulted completes an outstanding recovery probe. A probe only
// succeeds on an explicit heartbeat(0) reply (spec §4.4); anything else —
// a different value, or no reply before the request's deadline — leaves
// the supervisor in Faulted to try again on the next recovery tick.
func (s *Supervisor) frameFaulted(ev model.NozzleEvent, now time.Time) {
	if ev.Family != "heartbeat" || s.requestPending != verbHeartbeat {
		return
	}
	s.clearRequest()
	if len(ev.Args) == 0 || ev.Args[0] != "0" {
		s.logWith().Warn("fault recovery: heartbeat reply was not heartbeat(0), staying faulted", "args", ev.Args)
		return
	}
	s.completeFaultRecovery(now)
}

func (s *Supervisor) tickFaulted(now time.Time) {
	elapsed := now.Sub(s.faultedAt)

	if elapsed > faultRecoveryWindowEnd {
		s.performFullReset(now)
		return
	}

	if s.requestExpired(verbHeartbeat, now) {
		s.clearRequest()
		s.logWith().Warn("fault recovery: heartbeat probe timed out, staying faulted")
	}

	if elapsed >= faultRecoveryWindowStart && s.faultRecoveries < faultMaxRecoveries &&
		!now.Before(s.faultNextRecoveryAt) && s.requestPending == "" {
		s.faultRecoveries++
		s.faultNextRecoveryAt = now.Add(faultRecoveryInterval)
		s.probeFaultRecovery(now)
	}
}

// probeFaultRecovery forces every actuator back to its safe state, then
// issues the heartbeat probe that gates actually leaving Faulted.
func (s *Supervisor) probeFaultRecovery(now time.Time) {
	s.fire(verbSetSolenoid, solenoidClosed)
	s.fire(verbRFIDStop, s.nozzleID)
	s.fire(verbMeterReset)
	s.fireExpect(verbHeartbeat, nil, s.cfg.UARTResponseTimeout, now)
}

// completeFaultRecovery runs once a heartbeat(0) reply confirms the board
// is answering again.
func (s *Supervisor) completeFaultRecovery(now time.Time) {
	if s.tx != nil && s.filter.LastStable() > 0 {
		ctx, cancel := s.bgCtx()
		if err := s.store.UpdateLiters(ctx, s.tx.ID, s.filter.LastStable()); err != nil {
			s.logWith().Error("fault recovery: persisting in-flight transaction failed", "err", err)
		}
		cancel()
		s.transition(model.AwaitingOperatorAck, "fault recovery with transaction in flight", now)
		return
	}
	s.transition(model.Idle, "fault recovery clean", now)
}

func (s *Supervisor) performFullReset(now time.Time) {
	s.resetRefillScope(now)
	s.monitor.Reset()
	s.transition(model.Idle, "faulted timeout full reset", now)
}
