package supervisor

import (
	"time"

	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/model"
)

// transition records a state change and dispatches the target state's
// entry action. Every caller must supply a reason (I3); an empty one is
// a programming error, logged and substituted rather than propagated,
// since the supervisor itself never throws (spec §7).
func (s *Supervisor) transition(to model.State, reason string, now time.Time) {
	if reason == "" {
		s.log.Error("transition missing reason, treating as invariant violation",
			"from", s.state, "to", to)
		reason = "invariant violation: missing reason"
	}
	from := s.state
	s.previousState = from
	s.state = to
	s.enteredAt = now

	t := model.Transition{From: from, To: to, Reason: reason, Timestamp: now.UnixNano()}
	s.transitions = append(s.transitions, t)
	s.monitor.SetRefillActive(to != model.Idle, now)
	s.publish(t, now)
	s.onEnter(to, now)
}

func (s *Supervisor) publish(t model.Transition, now time.Time) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(model.StateChangeEvent{
		Transition:  t,
		Transaction: s.tx,
		Vehicle:     s.vehicle,
		Meter:       s.filter.Snapshot(),
		Message:     s.message,
	})
}

func (s *Supervisor) onEnter(state model.State, now time.Time) {
	switch state {
	case model.Idle:
		s.enterIdle(now)
	case model.Starting:
		s.enterStarting(now)
	case model.ReadingFirstMeter:
		s.enterReadingFirstMeter(now)
	case model.AwaitingTagMatch:
		s.enterAwaitingTagMatch(now)
	case model.Dispensing:
		s.enterDispensing(now)
	case model.Interrupted:
		s.enterInterrupted(now)
	case model.FinalMeterRead:
		s.enterFinalMeterRead(now)
	case model.AwaitingStability:
		s.awaitingStabilitySince = now
	case model.AwaitingOperatorAck:
		s.appInformed = false
	case model.ForceStopping:
		s.enterForceStopping(now)
	case model.Faulted:
		s.enterFaulted(now)
	}
}

// resetRefillScope clears everything scoped to one refill attempt, the
// way the source's reset() does, without touching health watches.
func (s *Supervisor) resetRefillScope(now time.Time) {
	s.filter.Reset()
	s.vehicle = nil
	s.tx = nil
	s.boundTag = ""
	s.rfidInContact = false
	s.appInformed = false
	s.message = ""
	s.solenoidIsOpen = false
	s.requestPending = ""
	s.requestDeadline = time.Time{}
	s.tagMatchDeadline = time.Time{}
	s.traceID = ""
}

// fire issues a fire-and-forget nozzle command, logging failures rather
// than surfacing them — the supervisor never blocks on Fire.
func (s *Supervisor) fire(verb string, args ...string) {
	if err := s.port.Fire(verb, args...); err != nil {
		s.logWith().Warn("nozzle command failed", "verb", verb, "err", err)
	}
}

// fireExpect issues a command and records its own deadline bookkeeping,
// rather than blocking on model.NozzlePort.Send — the reactor must stay
// responsive to force-stop and alarm events while a reply is pending.
func (s *Supervisor) fireExpect(verb string, args []string, timeout time.Duration, now time.Time) {
	s.requestPending = verb
	s.requestDeadline = now.Add(timeout)
	s.fire(verb, args...)
}

func (s *Supervisor) clearRequest() {
	s.requestPending = ""
	s.requestDeadline = time.Time{}
}

func (s *Supervisor) requestExpired(verb string, now time.Time) bool {
	return s.requestPending == verb && !s.requestDeadline.IsZero() && now.After(s.requestDeadline)
}

func containsName(list []health.Name, n health.Name) bool {
	for _, x := range list {
		if x == n {
			return true
		}
	}
	return false
}

func litersFromFloat(f float64) model.Liters {
	return model.Liters(f * 1000)
}
