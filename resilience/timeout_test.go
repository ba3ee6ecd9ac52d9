package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTimeout_Default(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{})

	if timeout.Duration() != 10*time.Second {
		t.Errorf("Duration() = %v, want 10s", timeout.Duration())
	}
}

func TestTimeout_ExecuteSuccess(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{Timeout: time.Second})

	executed := false
	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		executed = true
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !executed {
		t.Error("Operation was not executed")
	}
}

func TestTimeout_ExecuteError(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{Timeout: time.Second})

	testErr := errors.New("test error")
	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if err != testErr {
		t.Errorf("Execute() error = %v, want %v", err, testErr)
	}
}

func TestTimeout_OperationIgnoresContext(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{Timeout: 10 * time.Millisecond})

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Execute() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Execute() returned after %v, want prompt return", elapsed)
	}
}

func TestTimeout_OperationHonorsContext(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{Timeout: 10 * time.Millisecond})

	err := timeout.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Execute() error = %v, want ErrTimeout", err)
	}
}

func TestTimeout_ParentCanceled(t *testing.T) {
	timeout := NewTimeout(TimeoutConfig{Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := timeout.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}
