package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestCircuitBreakerOpensOnConsecutiveFailures(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.RecoveryTimeout = 100 * time.Millisecond

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.State())
	}

	// Successes don't change state.
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to remain closed, got %s", cb.State())
	}

	// A success resets the consecutive failure count.
	cb.Execute(ctx, func() error { return errors.New("boom") })
	cb.Execute(ctx, func() error { return errors.New("boom") })
	cb.Execute(ctx, func() error { return nil })
	if cb.State() != StateClosed {
		t.Errorf("Expected state to remain closed after reset, got %s", cb.State())
	}

	// Threshold consecutive failures open the circuit.
	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() error { return errors.New("boom") })
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected state to be open, got %s", cb.State())
	}
}

func TestCircuitBreakerFailsFastWhenOpen(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.RecoveryTimeout = time.Hour

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("Expected state to be open, got %s", cb.State())
	}

	invoked := false
	err := cb.Execute(ctx, func() error { invoked = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Expected ErrBreakerOpen, got %v", err)
	}
	if invoked {
		t.Error("Expected callable not to be invoked while open")
	}
}

func TestCircuitBreakerRecovery(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.RecoveryTimeout = 50 * time.Millisecond

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	time.Sleep(80 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open after recovery timeout, got %s", cb.State())
	}

	// First successful probe closes the circuit.
	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.RecoveryTimeout = 50 * time.Millisecond

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errors.New("boom") })
	time.Sleep(80 * time.Millisecond)

	err := cb.Execute(ctx, func() error { return errors.New("still down") })
	if err == nil || errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Expected the probe to run and fail, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected open after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenProbeLimit(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.RecoveryTimeout = 10 * time.Millisecond
	config.HalfOpenProbeLimit = 1

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errors.New("boom") })
	time.Sleep(30 * time.Millisecond)

	// Hold one probe slot open, then verify a second caller is rejected.
	probeStarted := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- cb.Execute(ctx, func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	err := cb.Execute(ctx, func() error { return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Expected second probe to be rejected with ErrBreakerOpen, got %v", err)
	}

	close(release)
	if err := <-probeDone; err != nil {
		t.Errorf("Expected held probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestRegistryReturnsSameBreakerPerTarget(t *testing.T) {
	r := NewRegistry(DefaultConfig(), zaptest.NewLogger(t))

	a := r.Get("hec")
	b := r.Get("hec")
	c := r.Get("webhook")
	if a != b {
		t.Error("Expected the same breaker for the same target")
	}
	if a == c {
		t.Error("Expected distinct breakers per target")
	}

	states := r.States()
	if len(states) != 2 {
		t.Errorf("Expected 2 breakers, got %d", len(states))
	}
}
