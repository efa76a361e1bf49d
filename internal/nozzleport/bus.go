package nozzleport

import "sync"

// frameBus broadcasts every inbound frame from a single input to N
// subscriber queues (the supervisor, plus any observers such as logging
// or metrics sinks). Adapted from the teacher's marketdata/bus.FanOut,
// generalized from model.Candle to model.NozzleEvent.
//
// Per spec §5 back-pressure, no frame may be silently dropped — a slow
// subscriber's queue grows instead of overflowing. The two verbs the spec
// calls out as idempotent, rfid_alarm and rfid_match, are the only ones
// allowed to coalesce: a fresh one replaces the last queued frame when
// that frame is a not yet delivered copy of the same verb, since only the
// latest value of either ever matters to a reader. An older copy with
// other frames queued after it is not replaced and is still delivered.
type frameBus struct {
	mu   sync.RWMutex
	subs []*frameSubscriber
}

type frameEnvelope struct {
	frame Frame
}

var coalescedVerbs = map[string]bool{
	VerbRFIDAlarm: true,
	VerbRFIDMatch: true,
}

func newFrameBus() *frameBus {
	return &frameBus{}
}

// subscribe creates and returns a new output channel, backed by an
// unbounded queue so a slow reader never causes a frame to be dropped.
func (b *frameBus) subscribe() <-chan frameEnvelope {
	sub := newFrameSubscriber()
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.out
}

// publish fans a frame out to every subscriber's queue. Never blocks on a
// subscriber's consumption rate.
func (b *frameBus) publish(f Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.enqueue(f)
	}
}

func (b *frameBus) close() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.close()
	}
}

// frameSubscriber holds one subscriber's queue and pumps it onto out as
// the reader drains it, growing the queue rather than dropping frames
// when the reader falls behind.
type frameSubscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []frameEnvelope
	closed bool
	out    chan frameEnvelope
}

func newFrameSubscriber() *frameSubscriber {
	s := &frameSubscriber{out: make(chan frameEnvelope)}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *frameSubscriber) enqueue(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.queue); n > 0 && coalescedVerbs[f.Verb] && s.queue[n-1].frame.Verb == f.Verb {
		s.queue[n-1] = frameEnvelope{frame: f}
	} else {
		s.queue = append(s.queue, frameEnvelope{frame: f})
	}
	s.cond.Signal()
}

func (s *frameSubscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// pump delivers queued frames to out in order, blocking on a slow reader
// rather than discarding anything still queued.
func (s *frameSubscriber) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		env := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.out <- env
	}
}
