package metrics

import "github.com/fleetops/refilld/internal/model"

// Sink implements model.EventSink, recording every transition as a
// Prometheus counter increment. Composed into the supervisor's
// eventbus.FanOut alongside the websocket bus and the fault-alerting
// bridge, so the supervisor itself never imports this package.
type Sink struct {
	m *Metrics
}

// NewSink wraps m as a model.EventSink.
func NewSink(m *Metrics) *Sink {
	return &Sink{m: m}
}

func (s *Sink) Publish(evt model.StateChangeEvent) {
	s.m.RecordTransition(evt.Transition.From.String(), evt.Transition.To.String(), evt.Transition.Reason)
}
