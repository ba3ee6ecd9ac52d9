package resilience

import (
	"context"
	"errors"
	"time"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for the operation.
	// Default: 10 seconds
	Timeout time.Duration
}

// Timeout bounds how long an operation may run.
//
// The operation receives a context carrying the deadline. Execute returns
// ErrTimeout as soon as the deadline passes, even if the operation ignores
// its context.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Timeout{config: config}
}

// Execute runs op under the configured deadline. A deadline already set on
// ctx that expires sooner still applies.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return errors.Join(ErrTimeout, err)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Duration returns the configured bound.
func (t *Timeout) Duration() time.Duration {
	return t.config.Timeout
}
