package cache

import "time"

// DefaultMaxEntries bounds a cache created without an explicit capacity.
const DefaultMaxEntries = 1000

// Policy configures entry lifetimes.
type Policy struct {
	// DefaultTTL is the TTL to use when none is specified.
	// If zero, caching is disabled by default.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Requested TTLs are clamped to it.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the default caching policy: entries live for
// 5 minutes and never longer.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     5 * time.Minute,
	}
}

// FixedTTLPolicy returns a policy whose default and ceiling are both ttl.
func FixedTTLPolicy(ttl time.Duration) Policy {
	return Policy{DefaultTTL: ttl, MaxTTL: ttl}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if caching is enabled by this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
