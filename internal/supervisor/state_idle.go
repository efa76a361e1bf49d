package supervisor

import (
	"time"

	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/model"
)

const idleHeartbeatProbeInterval = 10 * time.Second

func (s *Supervisor) enterIdle(now time.Time) {
	s.resetRefillScope(now)
	s.monitor.Reset()
	s.monitor.Refresh(health.Board, now)
	s.monitor.Refresh(health.Nozzle, now)
	s.monitor.Refresh(health.Operator, now)
	s.monitor.SetRefillActive(false, now)

	if !s.pairedOnce {
		s.fire(verbPairNozzle, s.nozzleID)
		s.pairedOnce = true
	}
	s.lastHeartbeatProbe = now
}

func (s *Supervisor) tickIdle(now time.Time, expired []health.Name) {
	if containsName(expired, health.Board) {
		s.transition(model.Faulted, "board heartbeat timeout", now)
		return
	}
	if now.Sub(s.lastHeartbeatProbe) >= idleHeartbeatProbeInterval {
		s.fire(verbHeartbeat)
		s.lastHeartbeatProbe = now
	}
}
