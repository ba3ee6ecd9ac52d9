package auth

import (
	"context"
	"errors"
	"io"
)

// IssuerVerifier pairs a verifier with the issuer whose tokens it accepts.
type IssuerVerifier struct {
	Issuer   string
	Verifier Verifier
}

// MultiVerifier accepts tokens from several issuers, typically the trust
// service plus one configured alternate issuer.
//
// The unverified iss claim only selects which verifier runs; that verifier
// then performs the full check, so an attacker choosing iss gains nothing.
type MultiVerifier struct {
	verifiers []IssuerVerifier
}

// NewMultiVerifier creates a MultiVerifier. An entry with an empty Issuer
// is a fallback used when no other issuer matches.
func NewMultiVerifier(verifiers ...IssuerVerifier) *MultiVerifier {
	return &MultiVerifier{verifiers: verifiers}
}

// Verify routes raw to the verifier for its issuer.
func (m *MultiVerifier) Verify(ctx context.Context, raw string) (*ClaimSet, error) {
	if len(m.verifiers) == 0 {
		return nil, NewVerificationError(ReasonMalformed, ErrMissingCredentials)
	}

	iss := ExtractUnverified(raw).Issuer

	var fallback Verifier
	for _, iv := range m.verifiers {
		if iv.Issuer == "" {
			if fallback == nil {
				fallback = iv.Verifier
			}
			continue
		}
		if iv.Issuer == iss {
			return iv.Verifier.Verify(ctx, raw)
		}
	}
	if fallback != nil {
		return fallback.Verify(ctx, raw)
	}
	return nil, NewVerificationError(ReasonWrongIssuer, nil)
}

// Close closes every verifier that holds resources.
func (m *MultiVerifier) Close() error {
	var errs []error
	for _, iv := range m.verifiers {
		if c, ok := iv.Verifier.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var _ Verifier = (*MultiVerifier)(nil)
