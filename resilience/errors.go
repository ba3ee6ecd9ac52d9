package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrTimeout is returned when an operation exceeds its time bound.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry with IsTransient stops
// at the first permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsTransient reports whether err is worth retrying: any non-nil error
// that is neither permanent nor an open circuit.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err) && !errors.Is(err, ErrCircuitOpen)
}
