package directory

import (
	"fmt"
	"sync"
	"time"
)

// cbState is the circuit breaker's state.
type cbState int

const (
	cbClosed   cbState = iota // normal operation, requests pass through
	cbOpen                    // tripped, requests rejected immediately
	cbHalfOpen                // probing: one request allowed through
)

func (s cbState) String() string {
	switch s {
	case cbClosed:
		return "closed"
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker is open and the reset
// timeout hasn't elapsed.
var ErrCircuitOpen = fmt.Errorf("directory: circuit breaker is open")

// circuitBreaker wraps the fleet directory's HTTP calls so a string of
// 5xx/transport failures stops hammering a downed remote instead of
// retrying every tick. After maxFailures consecutive failures it opens
// and rejects calls for resetTimeout, then allows one half-open probe.
type circuitBreaker struct {
	mu           sync.Mutex
	state        cbState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time

	onStateChange func(from, to cbState)
}

func newCircuitBreaker(maxFailures int, resetTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        cbClosed,
	}
}

// execute runs fn through the breaker.
func (cb *circuitBreaker) execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case cbOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.transition(cbHalfOpen)
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	case cbHalfOpen:
		// allow the probe through; the mutex already serializes it
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == cbHalfOpen {
			cb.transition(cbOpen)
		} else if cb.failures >= cb.maxFailures {
			cb.transition(cbOpen)
		}
		return err
	}

	if cb.state == cbHalfOpen {
		cb.transition(cbClosed)
	}
	cb.failures = 0
	return nil
}

func (cb *circuitBreaker) currentState() cbState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *circuitBreaker) transition(to cbState) {
	from := cb.state
	cb.state = to
	if to == cbClosed {
		cb.failures = 0
	}
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
