package auth

import (
	"context"
)

// Context keys for auth-related values.
type contextKey int

const (
	claimsKey contextKey = iota
	bearerKey
)

// WithClaims returns a new context carrying verified claims.
func WithClaims(ctx context.Context, claims *ClaimSet) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext retrieves the claims from the context.
// Returns nil if no claims are present.
func ClaimsFromContext(ctx context.Context) *ClaimSet {
	c, _ := ctx.Value(claimsKey).(*ClaimSet)
	return c
}

// SubjectFromContext returns the sub claim of the caller, or "".
func SubjectFromContext(ctx context.Context) string {
	c := ClaimsFromContext(ctx)
	if c == nil {
		return ""
	}
	return c.Subject
}

// WithBearer returns a new context carrying the caller's raw bearer token so
// that it can be exchanged for a downstream credential.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey, token)
}

// BearerFromContext retrieves the raw bearer token from the context.
func BearerFromContext(ctx context.Context) string {
	t, _ := ctx.Value(bearerKey).(string)
	return t
}
