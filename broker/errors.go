package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors for credential exchange.
var (
	ErrUpstreamUnreachable = errors.New("broker: upstream unreachable")
	ErrMalformedResponse   = errors.New("broker: malformed response")
	ErrDenied              = errors.New("broker: delegation denied")

	// ErrClosed is returned by Exchange after Close.
	ErrClosed = errors.New("broker: closed")

	// ErrInvalidRequest indicates an empty subject token or role.
	ErrInvalidRequest = errors.New("broker: invalid request")
)

// Reason classifies a failed exchange.
type Reason string

const (
	ReasonUpstreamUnreachable Reason = "upstream-unreachable"
	ReasonMalformedResponse   Reason = "malformed-response"
	ReasonDenied              Reason = "denied"
)

// Error reports a failed call to the trust service.
type Error struct {
	Reason Reason

	// Op is the trust-service operation, "login" or "delegate".
	Op string

	// Status is the HTTP status of the upstream response, or 0 when none
	// was received.
	Status int

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("broker: %s: %s", e.Op, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for Reason.
func (e *Error) Is(target error) bool {
	switch e.Reason {
	case ReasonUpstreamUnreachable:
		return target == ErrUpstreamUnreachable
	case ReasonMalformedResponse:
		return target == ErrMalformedResponse
	case ReasonDenied:
		return target == ErrDenied
	}
	return false
}

// ReasonOf returns the Reason carried by err, or "" when err is not an *Error.
func ReasonOf(err error) Reason {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Reason
	}
	return ""
}

func unreachable(op string, err error) *Error {
	return &Error{Reason: ReasonUpstreamUnreachable, Op: op, Err: err}
}

func malformed(op string, err error) *Error {
	return &Error{Reason: ReasonMalformedResponse, Op: op, Err: err}
}
