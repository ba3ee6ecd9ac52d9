// Package authtest provides a fake token issuer for tests: an RSA signing
// key, a JWKS endpoint served by httptest, and helpers to mint delegated
// session tokens.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityMount is the mount the fake issuer publishes its key set under.
const IdentityMount = "identity-delegation"

// Issuer is a fake trust service that signs tokens and serves their key set
// at /v1/identity-delegation/jwks. Extra routes can be added with Handle.
type Issuer struct {
	Name string

	mu      sync.RWMutex
	keyID   string
	key     *rsa.PrivateKey
	rotated int
	hang    chan struct{}

	mux     *http.ServeMux
	server  *httptest.Server
	fetches atomic.Int32
	failing atomic.Int32
}

// NewIssuer starts an issuer whose iss claim is name. The server is closed
// when the test ends.
func NewIssuer(t testing.TB, name string) *Issuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("authtest: generate key: %v", err)
	}

	iss := &Issuer{
		Name:  name,
		keyID: "key-1",
		key:   key,
		mux:   http.NewServeMux(),
	}
	iss.mux.HandleFunc("GET /v1/"+IdentityMount+"/jwks", iss.serveJWKS)
	iss.server = httptest.NewServer(iss.mux)
	t.Cleanup(iss.server.Close)
	return iss
}

// URL returns the base address of the fake trust service.
func (i *Issuer) URL() string {
	return i.server.URL
}

// JWKSURL returns the key-set endpoint.
func (i *Issuer) JWKSURL() string {
	return i.server.URL + "/v1/" + IdentityMount + "/jwks"
}

// Handle registers an extra route on the issuer's server.
func (i *Issuer) Handle(pattern string, h http.Handler) {
	i.mux.Handle(pattern, h)
}

// Fetches returns how many times the key set was requested.
func (i *Issuer) Fetches() int {
	return int(i.fetches.Load())
}

// FailNextFetches makes the next n key-set requests answer 503.
func (i *Issuer) FailNextFetches(n int) {
	i.failing.Store(int32(n))
}

// Hang makes every later key-set request block until the client gives up.
// Blocked requests are released when the test ends.
func (i *Issuer) Hang(t testing.TB) {
	t.Helper()

	ch := make(chan struct{})
	i.mu.Lock()
	i.hang = ch
	i.mu.Unlock()
	t.Cleanup(func() { close(ch) })
}

// PublicKey returns the current verification key.
func (i *Issuer) PublicKey() *rsa.PublicKey {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return &i.key.PublicKey
}

// KeyID returns the kid of the current signing key.
func (i *Issuer) KeyID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.keyID
}

// Rotate replaces the signing key with a new one under a new kid. The old
// key is no longer published.
func (i *Issuer) Rotate(t testing.TB) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("authtest: generate key: %v", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rotated++
	i.key = key
	i.keyID = "key-" + strconv.Itoa(i.rotated+1)
}

// Mint signs claims with the issuer key. iss, iat and exp are filled in
// when absent; exp defaults to five minutes from now.
func (i *Issuer) Mint(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()

	c := jwt.MapClaims{}
	for k, v := range claims {
		c[k] = v
	}
	now := time.Now()
	if _, ok := c["iss"]; !ok {
		c["iss"] = i.Name
	}
	if _, ok := c["iat"]; !ok {
		c["iat"] = now.Unix()
	}
	if _, ok := c["exp"]; !ok {
		c["exp"] = now.Add(5 * time.Minute).Unix()
	}

	i.mu.RLock()
	key, kid := i.key, i.keyID
	i.mu.RUnlock()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("authtest: sign token: %v", err)
	}
	return signed
}

// Delegated returns the claims of a delegated session token.
func Delegated(subject string, agentScope, subjectPermissions []string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "agent:" + subject,
		"scope": toAny(agentScope),
		"subject_claims": map[string]any{
			"sub":         subject,
			"permissions": toAny(subjectPermissions),
		},
	}
}

func (i *Issuer) serveJWKS(w http.ResponseWriter, r *http.Request) {
	i.fetches.Add(1)

	i.mu.RLock()
	hang := i.hang
	i.mu.RUnlock()
	if hang != nil {
		select {
		case <-hang:
		case <-r.Context().Done():
		}
		return
	}

	if n := i.failing.Load(); n > 0 && i.failing.CompareAndSwap(n, n-1) {
		http.Error(w, "sealed", http.StatusServiceUnavailable)
		return
	}

	i.mu.RLock()
	pub, kid := i.key.PublicKey, i.keyID
	i.mu.RUnlock()

	body := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
