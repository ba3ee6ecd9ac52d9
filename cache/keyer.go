package cache

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// KeySize is the length of a DelegationKeyer secret.
const KeySize = 32

// DelegationKeyer derives cache keys for delegated credentials.
//
// The subject token is a credential, so it never appears in a key: keys
// carry a keyed BLAKE3 digest of the token instead. Without the keyer's
// secret, a key cannot be matched against a guessed token.
//
// Contract:
// - Determinism: the same (role, token) yields the same key for one keyer.
// - Concurrency: safe for concurrent use.
type DelegationKeyer struct {
	secret [KeySize]byte
}

// NewDelegationKeyer creates a keyer with the given 32-byte secret.
func NewDelegationKeyer(secret []byte) (*DelegationKeyer, error) {
	if len(secret) != KeySize {
		return nil, fmt.Errorf("cache: delegation key secret must be %d bytes, got %d", KeySize, len(secret))
	}
	k := &DelegationKeyer{}
	copy(k.secret[:], secret)
	return k, nil
}

// NewRandomDelegationKeyer creates a keyer with a per-process random secret.
func NewRandomDelegationKeyer() (*DelegationKeyer, error) {
	secret := make([]byte, KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("cache: generate delegation key secret: %w", err)
	}
	return NewDelegationKeyer(secret)
}

// Key returns "deleg:<role>:<hex digest of token>".
func (k *DelegationKeyer) Key(role, subjectToken string) (string, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return "", fmt.Errorf("%w: empty role", ErrInvalidKey)
	}

	hasher, err := blake3.NewKeyed(k.secret[:])
	if err != nil {
		return "", fmt.Errorf("cache: keyed hash: %w", err)
	}
	_, _ = hasher.Write([]byte(subjectToken))

	key := "deleg:" + role + ":" + hex.EncodeToString(hasher.Sum(nil))
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// Fingerprint returns a short digest of token suitable for logs.
func (k *DelegationKeyer) Fingerprint(subjectToken string) string {
	hasher, err := blake3.NewKeyed(k.secret[:])
	if err != nil {
		return ""
	}
	_, _ = hasher.Write([]byte(subjectToken))
	return hex.EncodeToString(hasher.Sum(nil)[:6])
}
