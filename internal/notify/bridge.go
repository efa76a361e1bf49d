package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetops/refilld/internal/model"
)

// FaultBridge implements model.EventSink and forwards exactly the
// transitions an operator needs paged for: entry into Faulted, and entry
// into AwaitingOperatorAck carrying one of the error-path messages (spec
// §7's "Database Error", "Meter read error", "App comm. timeout" family).
// Every other transition is ignored — this is an alerting sink, not the
// event bus.
type FaultBridge struct {
	notifier Notifier
	log      *slog.Logger
}

// NewFaultBridge wraps notifier as a model.EventSink.
func NewFaultBridge(notifier Notifier, log *slog.Logger) *FaultBridge {
	if log == nil {
		log = slog.Default()
	}
	return &FaultBridge{notifier: notifier, log: log}
}

func (b *FaultBridge) Publish(evt model.StateChangeEvent) {
	if !b.worthPaging(evt) {
		return
	}
	alert := Alert{
		Level:   b.levelFor(evt),
		Title:   fmt.Sprintf("refilld: %s -> %s", evt.Transition.From, evt.Transition.To),
		Message: b.messageFor(evt),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.notifier.Send(ctx, alert); err != nil {
		b.log.Error("notify: delivery failed", "err", err)
	}
}

func (b *FaultBridge) worthPaging(evt model.StateChangeEvent) bool {
	if evt.Transition.To == model.Faulted {
		return true
	}
	return evt.Transition.To == model.AwaitingOperatorAck && evt.Message != ""
}

func (b *FaultBridge) levelFor(evt model.StateChangeEvent) AlertLevel {
	if evt.Transition.To == model.Faulted {
		return AlertCritical
	}
	return AlertWarning
}

func (b *FaultBridge) messageFor(evt model.StateChangeEvent) string {
	if evt.Message != "" {
		return evt.Message
	}
	return evt.Transition.Reason
}
