package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/tooldelegate/resilience"
)

// DefaultIdentityMount is the trust-service mount that publishes the
// delegation key set.
const DefaultIdentityMount = "identity-delegation"

// JWKSURL returns the key-set endpoint for a trust-service address and
// identity mount: <addr>/v1/<mount>/jwks.
func JWKSURL(trustAddr, identityMount string) string {
	if identityMount == "" {
		identityMount = DefaultIdentityMount
	}
	return strings.TrimRight(trustAddr, "/") + "/v1/" + strings.Trim(identityMount, "/") + "/jwks"
}

// JWKSConfig configures the JWKS key provider.
type JWKSConfig struct {
	// URL is the JWKS endpoint URL.
	URL string

	// CacheTTL is how long fetched keys are trusted before a refresh.
	// Default: 1 hour
	CacheTTL time.Duration

	// MinRefreshInterval throttles refreshes triggered by unknown key IDs.
	// Default: 10 seconds
	MinRefreshInterval time.Duration

	// FetchTimeout bounds a single fetch of the key set.
	// Default: 10 seconds
	FetchTimeout time.Duration

	// FetchAttempts is the number of attempts per refresh.
	// Default: 3
	FetchAttempts int

	// RetryDelay is the initial delay between attempts.
	// Default: 100ms
	RetryDelay time.Duration

	// HTTPClient is the HTTP client to use for requests.
	// Default: http.Client with no timeout of its own (FetchTimeout applies).
	HTTPClient *http.Client
}

// JWKSKeyProvider retrieves signing keys from a JWKS endpoint.
//
// Refreshes are coalesced: concurrent callers that miss share one fetch.
// A stale or failed refresh keeps serving the last good key set; the next
// refresh is attempted no sooner than MinRefreshInterval later.
type JWKSKeyProvider struct {
	config  JWKSConfig
	timeout *resilience.Timeout
	retry   *resilience.Retry

	mu          sync.RWMutex
	keys        map[string]any
	cacheTime   time.Time
	lastAttempt time.Time
	lastErr     error
	closed      bool

	sfGroup    singleflight.Group
	refreshing atomic.Bool
}

// NewJWKSKeyProvider creates a new JWKS key provider.
func NewJWKSKeyProvider(config JWKSConfig) *JWKSKeyProvider {
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	if config.MinRefreshInterval <= 0 {
		config.MinRefreshInterval = 10 * time.Second
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	if config.FetchAttempts <= 0 {
		config.FetchAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &JWKSKeyProvider{
		config:  config,
		timeout: resilience.NewTimeout(resilience.TimeoutConfig{Timeout: config.FetchTimeout}),
		retry: resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  config.FetchAttempts,
			InitialDelay: config.RetryDelay,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
			RetryIf:      resilience.IsTransient,
		}),
		keys: make(map[string]any),
	}
}

// GetKey returns the key for the given key ID. An empty keyID resolves to
// the only key when the set holds exactly one.
//
// A known key from a stale set is returned at once while the set is
// refreshed in the background, so a hung issuer never delays requests that
// can still be verified. Only lookups that cannot be answered from memory
// wait for a fetch, and once a set is loaded those are throttled by
// MinRefreshInterval.
func (p *JWKSKeyProvider) GetKey(ctx context.Context, keyID string) (any, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("%w: key provider closed", ErrIssuerUnreachable)
	}
	loaded := !p.cacheTime.IsZero()
	fresh := loaded && time.Since(p.cacheTime) < p.config.CacheTTL
	key := p.lookupKeyLocked(keyID)
	throttled := time.Since(p.lastAttempt) < p.config.MinRefreshInterval
	lastErr := p.lastErr
	p.mu.RUnlock()

	switch {
	case key != nil && fresh:
		return key, nil
	case key != nil:
		if !throttled {
			p.refreshInBackground()
		}
		return key, nil
	case loaded && throttled:
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrKeyNotFound
	}

	err := p.refreshShared(ctx)

	p.mu.RLock()
	key = p.lookupKeyLocked(keyID)
	p.mu.RUnlock()

	if key != nil {
		return key, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrKeyNotFound
}

// refreshInBackground starts one detached refresh unless one is running.
func (p *JWKSKeyProvider) refreshInBackground() {
	if !p.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.refreshing.Store(false)
		_ = p.refreshShared(context.Background())
	}()
}

// Refresh forces a fetch of the key set.
func (p *JWKSKeyProvider) Refresh(ctx context.Context) error {
	return p.refreshShared(ctx)
}

// Check reports whether the last refresh succeeded, fetching once if the
// key set has never been loaded.
func (p *JWKSKeyProvider) Check(ctx context.Context) error {
	p.mu.RLock()
	loaded := !p.cacheTime.IsZero()
	lastErr := p.lastErr
	p.mu.RUnlock()

	if !loaded {
		return p.refreshShared(ctx)
	}
	return lastErr
}

// Close stops the provider; later lookups fail as unreachable.
func (p *JWKSKeyProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// refreshShared runs one coalesced refresh. The fetch itself is detached
// from ctx so one caller giving up does not fail the others, while each
// caller still stops waiting at its own deadline.
func (p *JWKSKeyProvider) refreshShared(ctx context.Context) error {
	ch := p.sfGroup.DoChan("refresh", func() (any, error) {
		return nil, p.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrIssuerUnreachable, ctx.Err())
	}
}

func (p *JWKSKeyProvider) refresh(ctx context.Context) error {
	var keys map[string]any
	err := p.retry.Execute(ctx, func(ctx context.Context) error {
		return p.timeout.Execute(ctx, func(ctx context.Context) error {
			fetched, err := p.fetch(ctx)
			if err != nil {
				return err
			}
			keys = fetched
			return nil
		})
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAttempt = time.Now()
	if err != nil {
		p.lastErr = fmt.Errorf("%w: %v", ErrIssuerUnreachable, err)
		return p.lastErr
	}

	// Keys absent from the new set are dropped; a rotated-out key must not
	// keep validating tokens.
	p.keys = keys
	p.cacheTime = p.lastAttempt
	p.lastErr = nil
	return nil
}

func (p *JWKSKeyProvider) fetch(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("fetch JWKS: unexpected status: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, resilience.Permanent(fmt.Errorf("fetch JWKS: unexpected status: %d", resp.StatusCode))
	}

	var set jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decode JWKS: %w", err))
	}

	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		key, err := jwk.publicKey()
		if err != nil {
			continue
		}
		keys[jwk.Kid] = key
	}
	if len(keys) == 0 {
		return nil, resilience.Permanent(errors.New("JWKS contains no usable signing keys"))
	}
	return keys, nil
}

// lookupKeyLocked finds a key by ID. Caller must hold at least RLock.
func (p *JWKSKeyProvider) lookupKeyLocked(keyID string) any {
	if keyID == "" {
		if len(p.keys) != 1 {
			return nil
		}
		for _, key := range p.keys {
			return key
		}
	}
	return p.keys[keyID]
}

// jwksResponse is the JWKS endpoint response format.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single JWK.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`

	// RSA
	N string `json:"n"`
	E string `json:"e"`

	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jwkKey) publicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		return parseRSAPublicKey(k)
	case "EC":
		return parseECPublicKey(k)
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

// parseRSAPublicKey converts a JWK to an RSA public key.
func parseRSAPublicKey(jwk jwkKey) (*rsa.PublicKey, error) {
	if jwk.N == "" || jwk.E == "" {
		return nil, errors.New("missing n or e parameter")
	}
	n, err := decodeBigInt(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	e, err := decodeBigInt(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// parseECPublicKey converts a JWK to an ECDSA public key.
func parseECPublicKey(jwk jwkKey) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch jwk.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", jwk.Crv)
	}
	x, err := decodeBigInt(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	y, err := decodeBigInt(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("decode y: %w", err)
	}
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("point not on curve")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func decodeBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// Ensure JWKSKeyProvider implements KeyProvider
var _ KeyProvider = (*JWKSKeyProvider)(nil)
