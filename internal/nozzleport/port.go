package nozzleport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fleetops/refilld/internal/model"
)

// Sentinel errors surfaced by Send. Locally-recoverable — callers retry or
// fold these into a supervisor transition; they never propagate further
// than the component that owns the port.
var (
	ErrTimeout         = errors.New("nozzleport: request timed out")
	ErrTransportClosed = errors.New("nozzleport: transport closed")
)

// pendingEntry is one outstanding expect-response request, keyed by verb
// family. At most one entry exists per family at a time (spec §4.1:
// "at most one request of each family is in flight").
type pendingEntry struct {
	result chan frameResult
}

type frameResult struct {
	frame Frame
	err   error
}

// Port is the line-framed request/response transport to the nozzle
// controller (spec §4.1), implementing model.NozzlePort. One Port serves
// one nozzle for the process lifetime.
type Port struct {
	nozzleID  string
	transport Transport

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingEntry

	bus    *frameBus
	sub    <-chan frameEnvelope
	events chan model.NozzleEvent

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewPort wraps transport and starts the read loop. The caller retains
// ownership of transport's lifecycle only through Port.Close.
func NewPort(nozzleID string, transport Transport) *Port {
	p := &Port{
		nozzleID:  nozzleID,
		transport: transport,
		pending:   make(map[string]*pendingEntry),
		bus:       newFrameBus(),
		events:    make(chan model.NozzleEvent, 64),
		closeCh:   make(chan struct{}),
	}
	p.sub = p.bus.subscribe()
	go p.readLoop()
	go p.forwardEvents()
	return p
}

// Send issues an expect-response command and blocks until the next
// matching frame, ctx's deadline, or transport closure — whichever comes
// first.
func (p *Port) Send(ctx context.Context, verb string, args ...string) (model.NozzleEvent, error) {
	ch := make(chan frameResult, 1)

	p.mu.Lock()
	if _, inFlight := p.pending[verb]; inFlight {
		p.mu.Unlock()
		return model.NozzleEvent{}, fmt.Errorf("nozzleport: request already in flight for verb %q", verb)
	}
	p.pending[verb] = &pendingEntry{result: ch}
	p.mu.Unlock()

	if err := p.write(verb, args...); err != nil {
		p.mu.Lock()
		delete(p.pending, verb)
		p.mu.Unlock()
		return model.NozzleEvent{}, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return model.NozzleEvent{}, res.err
		}
		return toNozzleEvent(res.frame), nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, verb)
		p.mu.Unlock()
		return model.NozzleEvent{}, fmt.Errorf("%s: %w", verb, ErrTimeout)
	case <-p.closeCh:
		return model.NozzleEvent{}, fmt.Errorf("%s: %w", verb, ErrTransportClosed)
	}
}

// Fire issues a fire-and-forget command. It does not wait for a reply and
// never resolves against a pending entry.
func (p *Port) Fire(verb string, args ...string) error {
	return p.write(verb, args...)
}

// Events delivers every inbound frame, including ones consumed for
// request/response correlation.
func (p *Port) Events() <-chan model.NozzleEvent {
	return p.events
}

func (p *Port) Close() error {
	p.closeOnce.Do(func() { close(p.closeCh) })
	return p.transport.Close()
}

func (p *Port) write(verb string, args ...string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	line := Format(verb, args...) + "\n"
	_, err := p.transport.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("nozzleport: write %s: %w", verb, err)
	}
	return nil
}

// readLoop is the single reader goroutine: it owns scanning the wire,
// publishing every frame to the bus before attempting correlation (spec
// §4.1 "always emits a data(frame) event before attempting correlation"),
// and resolving pending requests.
func (p *Port) readLoop() {
	scanner := bufio.NewScanner(p.transport)
	for scanner.Scan() {
		line := scanner.Text()
		frame, err := Parse(line)
		if err != nil {
			slog.Warn("nozzleport: dropping malformed frame", "line", line, "err", err)
			continue
		}
		p.bus.publish(frame)
		p.resolve(frame)
	}
	p.drainPending(fmt.Errorf("%w", ErrTransportClosed))
	p.bus.close()
}

// resolve delivers frame to the oldest pending request of its verb
// family, if any. Frames of unsolicited-only verbs never resolve a
// pending entry even if one happens to share the verb name.
func (p *Port) resolve(frame Frame) {
	if unsolicitedOnly[frame.Verb] {
		return
	}
	p.mu.Lock()
	entry, ok := p.pending[frame.Verb]
	if ok {
		delete(p.pending, frame.Verb)
	}
	p.mu.Unlock()
	if ok {
		entry.result <- frameResult{frame: frame}
	}
}

func (p *Port) drainPending(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for verb, entry := range p.pending {
		entry.result <- frameResult{err: err}
		delete(p.pending, verb)
	}
}

func (p *Port) forwardEvents() {
	for env := range p.sub {
		p.events <- toNozzleEvent(env.frame)
	}
	close(p.events)
}

func toNozzleEvent(f Frame) model.NozzleEvent {
	return model.NozzleEvent{Family: f.Verb, Args: f.Args, Raw: f.Raw}
}
