package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilCache   = errors.New("cache: cache is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Entry is a cached value with its bookkeeping timestamps.
type Entry[V any] struct {
	Value     V
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Cache stores values under string keys with a TTL.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Expiry: an entry whose expiry has passed is reported as a miss.
// - Errors: Get never errors; it returns (zero, false) on miss.
type Cache[V any] interface {
	// Get retrieves an unexpired entry.
	Get(ctx context.Context, key string) (Entry[V], bool)

	// Set stores a value with the given TTL. A TTL that resolves to zero
	// under the cache policy stores nothing.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

	// Delete removes a cached value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// Len returns the number of stored entries, expired ones included.
	Len() int
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
