package auth

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a raw bearer token and returns its verified claims.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Verify honors cancellation and deadlines of ctx.
// - Errors: rejected tokens return a *VerificationError.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*ClaimSet, error)
}

// VerifierFunc is an adapter to allow use of ordinary functions as Verifiers.
type VerifierFunc func(ctx context.Context, raw string) (*ClaimSet, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, raw string) (*ClaimSet, error) {
	return f(ctx, raw)
}

// KeyProvider retrieves signing keys for JWT validation.
type KeyProvider interface {
	// GetKey returns the key for the given key ID.
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider serves a fixed verification key.
type StaticKeyProvider struct {
	key any
}

// NewStaticKeyProvider creates a static key provider. key is a public key
// (*rsa.PublicKey, *ecdsa.PublicKey) or an HMAC secret ([]byte).
func NewStaticKeyProvider(key any) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// GetKey returns the static key.
func (p *StaticKeyProvider) GetKey(_ context.Context, _ string) (any, error) {
	return p.key, nil
}

// JWTConfig configures the JWT verifier.
type JWTConfig struct {
	// Issuer is the expected token issuer (iss claim). Empty disables the check.
	Issuer string

	// Audience is the expected token audience (aud claim). Empty disables the check.
	Audience string

	// Leeway is the clock skew tolerated on exp/nbf/iat.
	Leeway time.Duration

	// Methods are the accepted signing algorithms.
	// Default: RS256, RS384, RS512, PS256, ES256, ES384
	Methods []string
}

// JWTVerifier validates JWT bearer tokens against a KeyProvider.
type JWTVerifier struct {
	config      JWTConfig
	keyProvider KeyProvider
	parser      *jwt.Parser
}

// NewJWTVerifier creates a new JWT verifier.
func NewJWTVerifier(config JWTConfig, keyProvider KeyProvider) *JWTVerifier {
	if len(config.Methods) == 0 {
		config.Methods = []string{"RS256", "RS384", "RS512", "PS256", "ES256", "ES384"}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(config.Methods),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(config.Leeway))
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &JWTVerifier{
		config:      config,
		keyProvider: keyProvider,
		parser:      jwt.NewParser(opts...),
	}
}

// Issuer returns the configured issuer.
func (v *JWTVerifier) Issuer() string {
	return v.config.Issuer
}

// Verify checks signature, expiry, issuer and audience and returns the
// verified claims.
func (v *JWTVerifier) Verify(ctx context.Context, raw string) (*ClaimSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, NewVerificationError(ReasonMalformed, ErrMissingCredentials)
	}

	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keyProvider.GetKey(ctx, kid)
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !token.Valid {
		return nil, NewVerificationError(ReasonBadSignature, nil)
	}

	return newClaimSet(claims, true), nil
}

// Close releases the key provider when it holds resources.
func (v *JWTVerifier) Close() error {
	if c, ok := v.keyProvider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func classifyJWTError(err error) error {
	var verr *VerificationError
	switch {
	case errors.As(err, &verr):
		return verr
	case errors.Is(err, ErrIssuerUnreachable):
		return NewVerificationError(ReasonUnreachableIssuer, err)
	case errors.Is(err, ErrKeyNotFound):
		return NewVerificationError(ReasonBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return NewVerificationError(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return NewVerificationError(ReasonBadSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return NewVerificationError(ReasonWrongIssuer, err)
	default:
		return NewVerificationError(ReasonMalformed, err)
	}
}

var (
	_ Verifier    = (*JWTVerifier)(nil)
	_ KeyProvider = (*StaticKeyProvider)(nil)
)
