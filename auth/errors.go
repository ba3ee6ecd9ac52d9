package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for token verification and authorization.
var (
	// Verification errors
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrBadSignature       = errors.New("auth: bad signature")
	ErrIssuerUnreachable  = errors.New("auth: issuer unreachable")
	ErrKeyNotFound        = errors.New("auth: signing key not found")

	// Authorization errors
	ErrForbidden = errors.New("auth: access denied")
)

// VerificationReason classifies why a bearer token was rejected.
type VerificationReason string

const (
	ReasonExpired           VerificationReason = "expired"
	ReasonBadSignature      VerificationReason = "bad-signature"
	ReasonUnreachableIssuer VerificationReason = "unreachable-issuer"
	ReasonMalformed         VerificationReason = "malformed"
	ReasonWrongIssuer       VerificationReason = "wrong-issuer"
)

// VerificationError reports a rejected bearer token.
//
// errors.Is matches the sentinel that corresponds to Reason, so callers can
// branch on either form.
type VerificationError struct {
	Reason VerificationReason
	Cause  error
}

// NewVerificationError builds a VerificationError.
func NewVerificationError(reason VerificationReason, cause error) *VerificationError {
	return &VerificationError{Reason: reason, Cause: cause}
}

func (e *VerificationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("auth: token rejected: %s", e.Reason)
	}
	return fmt.Sprintf("auth: token rejected: %s: %v", e.Reason, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// Is maps the reason onto the package sentinels.
func (e *VerificationError) Is(target error) bool {
	switch e.Reason {
	case ReasonExpired:
		return target == ErrTokenExpired
	case ReasonBadSignature:
		return target == ErrBadSignature
	case ReasonUnreachableIssuer:
		return target == ErrIssuerUnreachable
	case ReasonMalformed:
		return target == ErrTokenMalformed
	case ReasonWrongIssuer:
		return target == ErrInvalidCredentials
	}
	return false
}

// ReasonOf returns the verification reason carried by err, or "" when err is
// not a VerificationError.
func ReasonOf(err error) VerificationReason {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return ""
}
