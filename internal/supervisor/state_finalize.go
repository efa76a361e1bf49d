package supervisor

import (
	"context"
	"time"

	"github.com/fleetops/refilld/internal/model"
)

const finalMeterRetryBudget = 2
const awaitingStabilityWait = 5 * time.Second

func (s *Supervisor) enterFinalMeterRead(now time.Time) {
	s.finalMeterRetryBudget = finalMeterRetryBudget
	s.fireExpect(verbMeterRead, nil, s.cfg.MeterReadTimeout, now)
}

func (s *Supervisor) frameFinalMeterRead(ev model.NozzleEvent, now time.Time) {
	if ev.Family != "meter_read" || len(ev.Args) == 0 {
		return
	}
	val, err := model.ParseLiters(ev.Args[0])
	if err != nil {
		return
	}
	s.clearRequest()
	if val != s.filter.LastStable() {
		s.filter.Observe(val, now)
		s.transition(model.AwaitingStability, "meter changed", now)
		return
	}
	s.finalize(val, now)
}

func (s *Supervisor) tickFinalMeterRead(now time.Time) {
	if !s.requestExpired(verbMeterRead, now) {
		return
	}
	if s.finalMeterRetryBudget > 0 {
		s.finalMeterRetryBudget--
		s.fireExpect(verbMeterRead, nil, s.cfg.MeterReadTimeout, now)
		return
	}
	s.finalize(s.filter.LastStable(), now)
}

func (s *Supervisor) tickAwaitingStability(now time.Time) {
	if now.Sub(s.awaitingStabilitySince) >= awaitingStabilityWait {
		s.transition(model.FinalMeterRead, "re-read after stability wait", now)
	}
}

// finalize persists or discards the in-flight transaction according to
// the final reading, then hands control to the operator (spec §4.4
// "Finalize").
func (s *Supervisor) finalize(final model.Liters, now time.Time) {
	ctx, cancel := s.bgCtx()
	defer cancel()

	if final > 0 {
		if s.tx != nil {
			s.tx.DispensedLiters = final
			if err := s.store.UpdateLiters(ctx, s.tx.ID, final); err != nil {
				s.logWith().Warn("finalize: update_liters failed", "err", err)
				s.flagNeedsReview(ctx, "update_liters failed: "+err.Error())
			}
			if err := s.store.AddDispensed(ctx, s.tx.ID, final); err != nil {
				s.logWith().Warn("finalize: add_dispensed failed", "err", err)
				s.flagNeedsReview(ctx, "add_dispensed failed: "+err.Error())
			}
			if err := s.store.ClearIncomplete(ctx, s.tx.ID); err != nil {
				s.logWith().Warn("finalize: clear_incomplete failed", "err", err)
				s.flagNeedsReview(ctx, "clear_incomplete failed: "+err.Error())
			}
			s.tx.Status = model.StatusCompleted
			if s.vehicle != nil {
				if err := s.directory.UpdateVehicleHours(ctx, s.tx.Tag, s.vehicle.CurrentMachineHours); err != nil {
					s.logWith().Warn("finalize: best-effort vehicle hours update failed", "err", err)
				}
			}
		}
	} else {
		if s.tx != nil {
			if err := s.store.DeleteTransaction(ctx, s.tx.ID); err != nil {
				s.logWith().Warn("finalize: delete_transaction failed", "err", err)
				s.flagNeedsReview(ctx, "delete_transaction failed: "+err.Error())
			}
			if err := s.store.ClearIncomplete(ctx, s.tx.ID); err != nil {
				s.logWith().Warn("finalize: clear_incomplete failed", "err", err)
				s.flagNeedsReview(ctx, "clear_incomplete failed: "+err.Error())
			}
			s.tx = nil
		}
	}
	s.appInformed = false
	s.transition(model.AwaitingOperatorAck, "finalize", now)
}

// flagNeedsReview marks the in-flight transaction for operator review
// after an unrecoverable store-write failure during finalize, rather than
// letting the row sit in whatever partial state the failed write left it
// in. Best-effort: a failure here only gets logged, never retried.
func (s *Supervisor) flagNeedsReview(ctx context.Context, reason string) {
	if s.tx == nil {
		return
	}
	if err := s.store.FlagNeedsReview(ctx, s.tx.ID, reason); err != nil {
		s.logWith().Error("finalize: flag_needs_review failed", "err", err)
	}
}

func (s *Supervisor) tickAwaitingOperatorAck(now time.Time) {
	if s.appInformed || now.Sub(s.enteredAt) >= s.cfg.AppInformTimeout {
		s.transition(model.Idle, "operator acked or timeout", now)
	}
}
