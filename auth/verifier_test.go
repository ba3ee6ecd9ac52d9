package auth_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/auth/authtest"
)

func newTrustVerifier(t *testing.T, iss *authtest.Issuer) *auth.JWTVerifier {
	t.Helper()
	v := auth.NewJWTVerifier(
		auth.JWTConfig{Issuer: iss.Name},
		auth.NewJWKSKeyProvider(auth.JWKSConfig{
			URL:           auth.JWKSURL(iss.URL(), ""),
			FetchAttempts: 1,
		}),
	)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestJWTVerifier_Valid(t *testing.T) {
	iss := authtest.NewIssuer(t, "trust")
	v := newTrustVerifier(t, iss)

	raw := iss.Mint(t, authtest.Delegated("alice", []string{"read:customers"}, []string{"read:customers"}))

	claims, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !claims.Verified() {
		t.Error("claims not marked verified")
	}
	if claims.Subject != "agent:alice" || claims.SubjectClaims.Subject != "alice" {
		t.Errorf("Subject = %q, SubjectClaims.Subject = %q", claims.Subject, claims.SubjectClaims.Subject)
	}
	if !auth.Decide(claims, "read:customers").Granted {
		t.Error("verified delegated claims should be granted read:customers")
	}
}

func TestJWTVerifier_Rejections(t *testing.T) {
	iss := authtest.NewIssuer(t, "trust")
	other := authtest.NewIssuer(t, "trust-impostor")
	v := newTrustVerifier(t, iss)

	now := time.Now()
	tests := []struct {
		name       string
		raw        string
		wantReason auth.VerificationReason
		wantErr    error
	}{
		{
			name: "expired",
			raw: iss.Mint(t, jwt.MapClaims{
				"sub": "agent",
				"iat": now.Add(-20 * time.Minute).Unix(),
				"exp": now.Add(-10 * time.Minute).Unix(),
			}),
			wantReason: auth.ReasonExpired,
			wantErr:    auth.ErrTokenExpired,
		},
		{
			// Same kid, different key.
			name:       "bad signature",
			raw:        other.Mint(t, jwt.MapClaims{"sub": "agent", "iss": "trust"}),
			wantReason: auth.ReasonBadSignature,
			wantErr:    auth.ErrBadSignature,
		},
		{
			name:       "wrong issuer",
			raw:        iss.Mint(t, jwt.MapClaims{"sub": "agent", "iss": "someone-else"}),
			wantReason: auth.ReasonWrongIssuer,
			wantErr:    auth.ErrInvalidCredentials,
		},
		{
			name:       "malformed",
			raw:        "not-a-jwt",
			wantReason: auth.ReasonMalformed,
			wantErr:    auth.ErrTokenMalformed,
		},
		{
			name:       "empty",
			raw:        "   ",
			wantReason: auth.ReasonMalformed,
			wantErr:    auth.ErrMissingCredentials,
		},
		{
			name: "disallowed algorithm",
			raw: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "agent", "iss": "trust"})
				s, _ := tok.SignedString([]byte("secret"))
				return s
			}(),
			wantReason: auth.ReasonBadSignature,
			wantErr:    auth.ErrBadSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(context.Background(), tt.raw)
			if err == nil {
				t.Fatalf("Verify() = %+v, want error", claims)
			}
			if got := auth.ReasonOf(err); got != tt.wantReason {
				t.Errorf("ReasonOf() = %q, want %q (err = %v)", got, tt.wantReason, err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantErr)
			}
		})
	}
}

func TestJWTVerifier_UnreachableIssuer(t *testing.T) {
	iss := authtest.NewIssuer(t, "trust")
	dead := httptest.NewServer(nil)
	dead.Close()

	v := auth.NewJWTVerifier(
		auth.JWTConfig{Issuer: "trust"},
		auth.NewJWKSKeyProvider(auth.JWKSConfig{
			URL:           auth.JWKSURL(dead.URL, ""),
			FetchAttempts: 2,
			RetryDelay:    time.Millisecond,
		}),
	)

	_, err := v.Verify(context.Background(), iss.Mint(t, jwt.MapClaims{"sub": "agent"}))
	if auth.ReasonOf(err) != auth.ReasonUnreachableIssuer {
		t.Fatalf("Verify() error = %v, want unreachable-issuer", err)
	}
	if !errors.Is(err, auth.ErrIssuerUnreachable) {
		t.Error("error should match ErrIssuerUnreachable")
	}
}

func TestJWTVerifier_StaleKeysDoNotWaitOnHungIssuer(t *testing.T) {
	iss := authtest.NewIssuer(t, "trust")
	v := auth.NewJWTVerifier(auth.JWTConfig{Issuer: "trust"}, auth.NewJWKSKeyProvider(auth.JWKSConfig{
		URL:                iss.JWKSURL(),
		CacheTTL:           20 * time.Millisecond,
		MinRefreshInterval: time.Millisecond,
		FetchTimeout:       500 * time.Millisecond,
		FetchAttempts:      2,
		RetryDelay:         time.Millisecond,
	}))
	ctx := context.Background()
	raw := iss.Mint(t, jwt.MapClaims{"sub": "agent"})

	if _, err := v.Verify(ctx, raw); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	iss.Hang(t)
	time.Sleep(40 * time.Millisecond)

	for i := range 5 {
		start := time.Now()
		if _, err := v.Verify(ctx, raw); err != nil {
			t.Fatalf("Verify() #%d with stale keys error = %v", i, err)
		}
		if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
			t.Errorf("Verify() #%d took %v, want the cached key without waiting on the issuer", i, elapsed)
		}
	}
	if got := iss.Fetches(); got > 3 {
		t.Errorf("Fetches() = %d, want a single coalesced background refresh", got)
	}
}

func TestJWTVerifier_Audience(t *testing.T) {
	iss := authtest.NewIssuer(t, "trust")
	v := auth.NewJWTVerifier(
		auth.JWTConfig{Issuer: "trust", Audience: "customer-tools"},
		auth.NewStaticKeyProvider(iss.PublicKey()),
	)

	ok := iss.Mint(t, jwt.MapClaims{"sub": "agent", "aud": "customer-tools"})
	if _, err := v.Verify(context.Background(), ok); err != nil {
		t.Errorf("Verify(matching aud) error = %v", err)
	}

	bad := iss.Mint(t, jwt.MapClaims{"sub": "agent", "aud": "billing"})
	if _, err := v.Verify(context.Background(), bad); auth.ReasonOf(err) != auth.ReasonWrongIssuer {
		t.Errorf("Verify(wrong aud) error = %v, want wrong-issuer", err)
	}
}

func TestJWTVerifier_ECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v := auth.NewJWTVerifier(auth.JWTConfig{}, auth.NewStaticKeyProvider(&key.PublicKey))

	raw, err := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"sub":   "agent",
		"exp":   time.Now().Add(time.Minute).Unix(),
		"scope": "read:customers",
	}).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !claims.HasScope("read:customers") {
		t.Errorf("Scope = %v", claims.Scope)
	}
}

func TestJWTVerifier_Leeway(t *testing.T) {
	iss := authtest.NewIssuer(t, "trust")
	v := auth.NewJWTVerifier(
		auth.JWTConfig{Leeway: time.Minute},
		auth.NewStaticKeyProvider(iss.PublicKey()),
	)

	raw := iss.Mint(t, jwt.MapClaims{
		"sub": "agent",
		"iat": time.Now().Add(-time.Minute).Unix(),
		"exp": time.Now().Add(-10 * time.Second).Unix(),
	})
	if _, err := v.Verify(context.Background(), raw); err != nil {
		t.Errorf("Verify() within leeway error = %v", err)
	}
}

func TestVerifierFunc(t *testing.T) {
	want := auth.VerifiedClaims(map[string]any{"sub": "x"})
	v := auth.VerifierFunc(func(ctx context.Context, raw string) (*auth.ClaimSet, error) {
		return want, nil
	})
	got, err := v.Verify(context.Background(), "t")
	if err != nil || got != want {
		t.Errorf("Verify() = %v, %v", got, err)
	}
}
