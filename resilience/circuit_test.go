package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failing(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State())
	}
	if cb.config.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cb.config.MaxFailures)
	}
	if cb.config.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout = %v, want 30s", cb.config.ResetTimeout)
	}
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		Now:          clock.Now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()
	upstream := errors.New("upstream down")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, failing(upstream)); err != upstream {
			t.Fatalf("Execute() error = %v, want %v", err, upstream)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() while open error = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("operation ran while circuit open")
	}

	clock.Advance(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}
	if err := cb.Execute(ctx, failing(nil)); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, Now: clock.Now})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing(errors.New("x")))
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, failing(errors.New("x")))

	if cb.State() != StateOpen {
		t.Errorf("State() = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	denied := errors.New("denied")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, denied) },
	})

	_ = cb.Execute(context.Background(), failing(denied))
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed for non-failure errors", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	_ = cb.Execute(context.Background(), failing(errors.New("x")))

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("State() after Reset = %v, want closed", cb.State())
	}
}
