package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Outcome reports how a Loader satisfied a lookup.
type Outcome int

const (
	// OutcomeHit means the entry was served from the cache.
	OutcomeHit Outcome = iota
	// OutcomeLoaded means the entry was loaded for this caller alone.
	OutcomeLoaded
	// OutcomeShared means one load served several concurrent callers.
	OutcomeShared
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeLoaded:
		return "miss"
	case OutcomeShared:
		return "shared"
	default:
		return "unknown"
	}
}

// LoadFunc produces a value on a cache miss together with the TTL it may be
// cached for; a zero TTL means the cache policy default.
type LoadFunc[V any] func(ctx context.Context) (V, time.Duration, error)

// Loader reads through a Cache, coalescing concurrent misses for the same
// key into one load. Load errors are returned to every waiter and are never
// cached.
type Loader[V any] struct {
	cache Cache[V]
	group singleflight.Group
}

// NewLoader creates a Loader over c.
func NewLoader[V any](c Cache[V]) *Loader[V] {
	return &Loader[V]{cache: c}
}

// Cache returns the underlying cache.
func (l *Loader[V]) Cache() Cache[V] {
	return l.cache
}

// Get returns the cached entry for key or loads it.
//
// The load runs detached from the caller's cancellation so that one waiter
// giving up does not fail the others; load must bound its own duration.
// Each caller still returns as soon as its own ctx is done.
func (l *Loader[V]) Get(ctx context.Context, key string, load LoadFunc[V]) (Entry[V], Outcome, error) {
	if l == nil || l.cache == nil {
		return Entry[V]{}, OutcomeLoaded, ErrNilCache
	}
	if err := ValidateKey(key); err != nil {
		return Entry[V]{}, OutcomeLoaded, err
	}

	if e, ok := l.cache.Get(ctx, key); ok {
		return e, OutcomeHit, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		// A load that finished between our miss and acquiring the flight
		// has already filled the cache.
		if e, ok := l.cache.Get(detached, key); ok {
			return e, nil
		}

		value, ttl, err := load(detached)
		if err != nil {
			return nil, err
		}
		if err := l.cache.Set(detached, key, value, ttl); err != nil {
			return nil, err
		}
		if e, ok := l.cache.Get(detached, key); ok {
			return e, nil
		}
		// Not cacheable under the policy; hand the value out uncached.
		return Entry[V]{Value: value}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Entry[V]{}, outcome(res.Shared), res.Err
		}
		return res.Val.(Entry[V]), outcome(res.Shared), nil
	case <-ctx.Done():
		return Entry[V]{}, OutcomeShared, ctx.Err()
	}
}

// Forget drops key from the cache. A load already in flight for key still
// completes and repopulates it.
func (l *Loader[V]) Forget(ctx context.Context, key string) error {
	l.group.Forget(key)
	return l.cache.Delete(ctx, key)
}

func outcome(shared bool) Outcome {
	if shared {
		return OutcomeShared
	}
	return OutcomeLoaded
}
