package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/tooldelegate/resilience"
)

// KeySet is a token key set that can report whether it is loaded.
type KeySet interface {
	Check(ctx context.Context) error
}

// KeySetChecker reports whether tokens can be verified: the key set has
// been fetched and its last refresh succeeded.
func KeySetChecker(keys KeySet) Checker {
	return NewCheckerFunc("key_set", func(ctx context.Context) Result {
		if err := keys.Check(ctx); err != nil {
			return Unhealthy("key set unavailable", fmt.Errorf("%w: %v", ErrCheckFailed, err))
		}
		return Healthy("key set loaded")
	})
}

// TrustService is the delegation endpoint's health surface.
type TrustService interface {
	Addr() string
	Health(ctx context.Context) error
}

// TrustServiceChecker reports whether the trust service answers its
// health endpoint.
func TrustServiceChecker(ts TrustService) Checker {
	return NewCheckerFunc("trust_service", func(ctx context.Context) Result {
		details := map[string]any{"addr": ts.Addr()}
		if err := ts.Health(ctx); err != nil {
			return Unhealthy("trust service unreachable", fmt.Errorf("%w: %v", ErrCheckFailed, err)).WithDetails(details)
		}
		return Healthy("trust service reachable").WithDetails(details)
	})
}

// Circuit exposes the state of a circuit breaker.
type Circuit interface {
	CircuitState() resilience.State
}

// CircuitChecker is degraded while the circuit is not closed: requests
// that need the guarded upstream fail fast, everything else still works.
func CircuitChecker(name string, c Circuit) Checker {
	return NewCheckerFunc(name, func(context.Context) Result {
		state := c.CircuitState()
		details := map[string]any{"state": state.String()}
		if state != resilience.StateClosed {
			return Degraded("circuit " + state.String()).WithDetails(details)
		}
		return Healthy("circuit closed").WithDetails(details)
	})
}

// Pinger is a dependency with a connectivity check, such as a database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker reports whether the database answers a ping.
func DatabaseChecker(db Pinger) Checker {
	return NewPingChecker("database", db.Ping)
}
