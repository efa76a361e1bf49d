package supervisor

import (
	"time"

	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/model"
)

func (s *Supervisor) onTick(now time.Time) {
	expired := s.monitor.Expired(now)
	switch s.state {
	case model.Idle:
		s.tickIdle(now, expired)
	case model.AwaitingFirstRfid:
		s.tickAwaitingFirstRfid(now, expired)
	case model.AwaitingOdometer:
		s.tickAwaitingOdometer(now, expired)
	case model.ReadingFirstMeter:
		s.tickReadingFirstMeter(now)
	case model.AwaitingTagMatch:
		s.tickAwaitingTagMatch(now)
	case model.Dispensing:
		s.tickDispensing(now, expired)
	case model.Interrupted:
		s.tickInterrupted(now, expired)
	case model.FinalMeterRead:
		s.tickFinalMeterRead(now)
	case model.AwaitingStability:
		s.tickAwaitingStability(now)
	case model.AwaitingOperatorAck:
		s.tickAwaitingOperatorAck(now)
	case model.ForceStopping:
		s.tickForceStopping(now)
	case model.Faulted:
		s.tickFaulted(now)
	}
}

func (s *Supervisor) onNozzleFrame(ev model.NozzleEvent, now time.Time) {
	switch ev.Family {
	case "heartbeat":
		s.monitor.Refresh(health.Board, now)
	case "nhb":
		s.monitor.Refresh(health.Nozzle, now)
		if len(ev.Args) > 0 {
			s.fire(verbCBHB, ev.Args[0])
		}
	case "rfid_match", "rfid_alarm", "rfid_get", "meter_read":
		s.monitor.Refresh(health.Nozzle, now)
	}

	switch s.state {
	case model.AwaitingFirstRfid:
		s.frameAwaitingFirstRfid(ev, now)
	case model.ReadingFirstMeter:
		s.frameReadingFirstMeter(ev, now)
	case model.AwaitingTagMatch:
		s.frameAwaitingTagMatch(ev, now)
	case model.Dispensing:
		s.frameDispensing(ev, now)
	case model.Interrupted:
		s.frameInterrupted(ev, now)
	case model.FinalMeterRead:
		s.frameFinalMeterRead(ev, now)
	case model.ForceStopping:
		s.frameForceStopping(ev, now)
	case model.Faulted:
		s.frameFaulted(ev, now)
	}
}

func (s *Supervisor) onCommand(cmd any, now time.Time) {
	switch c := cmd.(type) {
	case StartCommand:
		s.onCommandStart(c, now)
	case OdometerCommand:
		s.onCommandOdometer(c, now)
	case ForceStopCommand:
		s.onCommandForceStop(c, now)
	case StatusQuery:
		s.onCommandStatus(c, now)
	case OperationCommand:
		s.onCommandOperation(c, now)
	}
}

func (s *Supervisor) onCommandStart(cmd StartCommand, now time.Time) {
	s.monitor.Refresh(health.Operator, now)
	if s.state != model.Idle {
		cmd.Resp <- StartResult{OK: false, State: s.state, AllowedState: model.Idle}
		return
	}
	s.transition(model.Starting, "operator start", now)
	cmd.Resp <- StartResult{OK: true, State: s.state}
}

func (s *Supervisor) onCommandForceStop(cmd ForceStopCommand, now time.Time) {
	s.monitor.Refresh(health.Operator, now)
	if s.state != model.Dispensing && s.state != model.Interrupted {
		cmd.Resp <- ForceStopResult{OK: false, State: s.state}
		return
	}
	s.transition(model.ForceStopping, "operator force stop", now)
	cmd.Resp <- ForceStopResult{OK: true, State: s.state}
}

func (s *Supervisor) onCommandStatus(cmd StatusQuery, now time.Time) {
	s.monitor.Refresh(health.Operator, now)
	if s.state == model.AwaitingOperatorAck {
		s.appInformed = true
	}
	cmd.Resp <- StatusSnapshot{
		State:         s.state,
		PreviousState: s.previousState,
		Timestamp:     now.UnixNano(),
		Transaction:   s.tx,
		Vehicle:       s.vehicle,
		Meter:         s.filter.Snapshot(),
		Message:       s.message,
	}
}

// onCommandOperation serves the /api/operation façade: one request name
// in, one tagged response out, per spec §6.
func (s *Supervisor) onCommandOperation(cmd OperationCommand, now time.Time) {
	s.monitor.Refresh(health.Operator, now)
	switch cmd.Request {
	case OpRefillReq:
		s.handleOpRefillReq(cmd, now)
	case OpRefillDRF:
		s.handleOpRefillDRF(cmd, now)
	case OpRefillParams:
		s.handleOpRefillParams(cmd, now)
	case OpRefillFinish:
		s.handleOpRefillFinish(cmd, now)
	case OpVehicleInfo:
		s.handleOpVehicleInfo(cmd, now)
	default:
		cmd.Resp <- OperationResult{Response: RespInvalid, Message: "unknown request", Timestamp: now.UnixNano()}
	}
}

func (s *Supervisor) handleOpRefillReq(cmd OperationCommand, now time.Time) {
	if s.state != model.Idle {
		cmd.Resp <- OperationResult{Response: RespInvalid, Message: "refill already in progress", Timestamp: now.UnixNano()}
		return
	}
	s.transition(model.Starting, "operator start via operation facade", now)
	cmd.Resp <- OperationResult{Response: RespRefillStarted, Timestamp: now.UnixNano()}
}

func (s *Supervisor) handleOpRefillDRF(cmd OperationCommand, now time.Time) {
	if s.state != model.AwaitingOdometer {
		cmd.Resp <- OperationResult{Response: RespTagWaiting, Timestamp: now.UnixNano()}
		return
	}
	if cmd.Kilometers < 0 || cmd.Kilometers > 1000 {
		cmd.Resp <- OperationResult{Response: RespInvalid, Message: "kilometers out of range", Timestamp: now.UnixNano()}
		return
	}
	s.transition(model.ReadingFirstMeter, "odometer accepted via operation facade", now)
	cmd.Resp <- OperationResult{Response: RespRefillDRF, Timestamp: now.UnixNano()}
}

func (s *Supervisor) handleOpRefillParams(cmd OperationCommand, now time.Time) {
	if s.vehicle == nil || !s.boundTag.Present() {
		cmd.Resp <- OperationResult{Response: RespTagWaiting, Timestamp: now.UnixNano()}
		return
	}
	if s.message != "" {
		cmd.Resp <- OperationResult{Response: RespInvalid, Message: s.message, Timestamp: now.UnixNano()}
		return
	}
	cmd.Resp <- OperationResult{
		Response:    RespRefillParams,
		Tag:         string(s.boundTag),
		FleetNumber: s.vehicle.FleetNumber,
		Liters:      s.filter.Current().String(),
		Timestamp:   now.UnixNano(),
	}
}

func (s *Supervisor) handleOpRefillFinish(cmd OperationCommand, now time.Time) {
	if s.state != model.Dispensing && s.state != model.Interrupted {
		cmd.Resp <- OperationResult{Response: RespInvalid, Message: "not dispensing", Timestamp: now.UnixNano()}
		return
	}
	liters := s.filter.Current().String()
	s.transition(model.ForceStopping, "operator refill finish via operation facade", now)
	cmd.Resp <- OperationResult{Response: RespRefillFinished, Liters: liters, Timestamp: now.UnixNano()}
}

func (s *Supervisor) handleOpVehicleInfo(cmd OperationCommand, now time.Time) {
	if s.vehicle == nil {
		cmd.Resp <- OperationResult{Response: RespTagWaiting, Timestamp: now.UnixNano()}
		return
	}
	cmd.Resp <- OperationResult{
		Response:    RespVehicleInfo,
		Tag:         string(s.boundTag),
		FleetNumber: s.vehicle.FleetNumber,
		Timestamp:   now.UnixNano(),
	}
}
