package directory

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := newCircuitBreaker(3, 100*time.Millisecond)
	if cb.currentState() != cbClosed {
		t.Errorf("expected closed, got %v", cb.currentState())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := newCircuitBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 3; i++ {
		if err := cb.execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}

	if cb.currentState() != cbOpen {
		t.Errorf("expected open after 3 failures, got %v", cb.currentState())
	}

	err := cb.execute(func() error { return nil })
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := newCircuitBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		cb.execute(func() error { return errFail })
	}
	if cb.currentState() != cbOpen {
		t.Fatal("expected open")
	}

	time.Sleep(60 * time.Millisecond)

	if err := cb.execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if cb.currentState() != cbClosed {
		t.Errorf("expected closed after successful probe, got %v", cb.currentState())
	}
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	cb := newCircuitBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 2; i++ {
		cb.execute(func() error { return errFail })
	}

	time.Sleep(60 * time.Millisecond)
	cb.execute(func() error { return errFail })

	if cb.currentState() != cbOpen {
		t.Errorf("expected open after failed probe, got %v", cb.currentState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newCircuitBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	cb.execute(func() error { return errFail })
	cb.execute(func() error { return errFail })
	cb.execute(func() error { return nil })

	cb.execute(func() error { return errFail })
	cb.execute(func() error { return errFail })

	if cb.currentState() != cbClosed {
		t.Errorf("expected closed (counter should have reset), got %v", cb.currentState())
	}
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []cbState
	cb := newCircuitBreaker(1, 50*time.Millisecond)
	cb.onStateChange = func(from, to cbState) {
		transitions = append(transitions, to)
	}

	cb.execute(func() error { return errors.New("fail") })

	if len(transitions) != 1 || transitions[0] != cbOpen {
		t.Errorf("expected [open], got %v", transitions)
	}

	time.Sleep(60 * time.Millisecond)
	cb.execute(func() error { return nil })

	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d: %v", len(transitions), transitions)
	}
	if transitions[1] != cbHalfOpen || transitions[2] != cbClosed {
		t.Errorf("expected [open, half-open, closed], got %v", transitions)
	}
}
