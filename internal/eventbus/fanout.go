package eventbus

import "github.com/fleetops/refilld/internal/model"

// FanOut implements model.EventSink by forwarding every event to a fixed
// list of sinks in order — the Refill Supervisor is constructed with
// exactly one model.EventSink, but the process wants every transition to
// reach both the websocket/poll Bus and the fault-alerting bridge.
// Grounded on the same fan-out idea as internal/nozzleport's frame bus
// (itself grounded on the teacher's internal/marketdata/bus/fanout.go),
// reapplied here one level up the stack.
type FanOut []model.EventSink

func (f FanOut) Publish(evt model.StateChangeEvent) {
	for _, sink := range f {
		sink.Publish(evt)
	}
}
