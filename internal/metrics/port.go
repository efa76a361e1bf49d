package metrics

import (
	"context"

	"github.com/fleetops/refilld/internal/model"
)

// InstrumentedPort wraps a model.NozzlePort to record solenoid open/close
// counts and inbound frame counts by family, without requiring
// internal/supervisor to import this package directly — the same
// cross-cutting-concern-via-wrapping idiom the operator layer uses for
// its requireToken HTTP middleware, applied one level down at the port
// boundary instead of the HTTP boundary.
type InstrumentedPort struct {
	model.NozzlePort
	m *Metrics
}

// Instrument wraps port so every set_solenoid command and inbound frame
// is counted.
func Instrument(port model.NozzlePort, m *Metrics) *InstrumentedPort {
	return &InstrumentedPort{NozzlePort: port, m: m}
}

func (p *InstrumentedPort) Fire(verb string, args ...string) error {
	if verb == "set_solenoid" && len(args) == 1 {
		p.recordSolenoid(args[0])
	}
	return p.NozzlePort.Fire(verb, args...)
}

func (p *InstrumentedPort) Send(ctx context.Context, verb string, args ...string) (model.NozzleEvent, error) {
	if verb == "set_solenoid" && len(args) == 1 {
		p.recordSolenoid(args[0])
	}
	return p.NozzlePort.Send(ctx, verb, args...)
}

func (p *InstrumentedPort) recordSolenoid(arg string) {
	switch arg {
	case "1":
		p.m.SolenoidOpenTotal.Inc()
	case "0":
		p.m.SolenoidCloseTotal.Inc()
	}
}

// Events passes through the wrapped port's event channel, counting each
// frame by family before handing it on.
func (p *InstrumentedPort) Events() <-chan model.NozzleEvent {
	in := p.NozzlePort.Events()
	out := make(chan model.NozzleEvent, 1)
	go func() {
		defer close(out)
		for evt := range in {
			p.m.NozzlePortFramesTotal.WithLabelValues(evt.Family).Inc()
			out <- evt
		}
	}()
	return out
}
