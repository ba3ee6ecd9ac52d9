package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/cache"
	"github.com/jonwraymond/tooldelegate/observe"
	"github.com/jonwraymond/tooldelegate/resilience"
)

// Defaults for Config.
const (
	DefaultCacheTTL        = 300 * time.Second
	DefaultMaxCacheEntries = cache.DefaultMaxEntries
	DefaultTimeout         = 10 * time.Second
)

// Config configures a Broker.
type Config struct {
	// Upstream issues session tokens. Usually a *Client.
	Upstream Delegator

	// Role is used when Exchange is called with an empty role.
	Role string

	// CacheTTL caps how long a session token is reused.
	// Default: 300s
	CacheTTL time.Duration

	// MaxCacheEntries bounds the session-token cache.
	// Default: 1000
	MaxCacheEntries int

	// Timeout bounds one exchange with the trust service, login included.
	// Default: 10s
	Timeout time.Duration

	// CircuitBreaker guards the trust service. Default: 5 consecutive
	// unreachable failures open it for 30s.
	CircuitBreaker *resilience.CircuitBreaker

	// Keyer derives cache keys. Default: a keyer with a random secret.
	Keyer *cache.DelegationKeyer

	Logger  observe.Logger
	Metrics observe.Metrics
	Tracer  trace.Tracer

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// SessionToken is a delegated credential scoped to one subject and role.
type SessionToken struct {
	Token string
	Role  string

	// ExpiresAt is when the broker stops reusing the token.
	ExpiresAt time.Time
}

// Broker exchanges subject tokens for delegated session tokens and caches
// the results.
//
// Contract:
//   - Concurrency: safe for concurrent use. Concurrent misses for the same
//     (subject token, role) share one upstream call; different pairs never
//     wait on each other.
//   - Errors: failed exchanges return *Error and are never cached.
//   - Retries: none. A failed exchange fails the call.
type Broker struct {
	config   Config
	cache    *cache.MemoryCache[string]
	loader   *cache.Loader[string]
	executor *resilience.Executor
	logger   observe.Logger
	metrics  observe.Metrics
	tracer   trace.Tracer
	closed   atomic.Bool
}

// New creates a Broker.
func New(config Config) (*Broker, error) {
	if config.Upstream == nil {
		return nil, errors.New("broker: upstream is required")
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.MaxCacheEntries <= 0 {
		config.MaxCacheEntries = DefaultMaxCacheEntries
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Keyer == nil {
		k, err := cache.NewRandomDelegationKeyer()
		if err != nil {
			return nil, err
		}
		config.Keyer = k
	}

	b := &Broker{
		config:  config,
		logger:  observe.LoggerOrNop(config.Logger),
		metrics: observe.MetricsOrNop(config.Metrics),
		tracer:  config.Tracer,
	}
	if b.tracer == nil {
		b.tracer = tracenoop.NewTracerProvider().Tracer("broker")
	}

	if config.CircuitBreaker == nil {
		config.CircuitBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			IsFailure: countsAgainstUpstream,
			OnStateChange: func(from, to resilience.State) {
				b.logger.Warn(context.Background(), "trust service circuit changed",
					observe.Field{Key: "from", Value: from.String()},
					observe.Field{Key: "to", Value: to.String()},
				)
			},
		})
		b.config.CircuitBreaker = config.CircuitBreaker
	}

	b.cache = cache.NewMemoryCache[string](
		cache.FixedTTLPolicy(config.CacheTTL),
		cache.WithMaxEntries(config.MaxCacheEntries),
		cache.WithClock(config.Now),
		cache.WithEvictionHook(func(_ string, reason cache.EvictReason) {
			b.metrics.RecordEviction(context.Background(), string(reason))
		}),
	)
	b.loader = cache.NewLoader[string](b.cache)
	b.executor = resilience.NewExecutor(
		resilience.WithCircuitBreaker(config.CircuitBreaker),
		resilience.WithTimeout(config.Timeout),
	)
	return b, nil
}

// Exchange returns a session token for subjectToken under role, from the
// cache when an unexpired one exists.
func (b *Broker) Exchange(ctx context.Context, subjectToken, role string) (SessionToken, error) {
	if b.closed.Load() {
		return SessionToken{}, ErrClosed
	}
	if role == "" {
		role = b.config.Role
	}
	if strings.TrimSpace(subjectToken) == "" || role == "" {
		return SessionToken{}, fmt.Errorf("%w: subject token and role are required", ErrInvalidRequest)
	}

	key, err := b.config.Keyer.Key(role, subjectToken)
	if err != nil {
		return SessionToken{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ctx, span := b.tracer.Start(ctx, "broker.exchange",
		trace.WithAttributes(attribute.String("broker.role", role)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	start := b.config.Now()
	entry, outcome, err := b.loader.Get(ctx, key, func(ctx context.Context) (string, time.Duration, error) {
		return b.delegate(ctx, subjectToken, role)
	})
	duration := b.config.Now().Sub(start)

	fields := []observe.Field{
		{Key: "role", Value: role},
		{Key: "subject_fp", Value: b.config.Keyer.Fingerprint(subjectToken)},
		{Key: "cache", Value: outcome.String()},
		{Key: "duration_ms", Value: float64(duration.Milliseconds())},
	}

	if err != nil {
		err = classifyExchangeError(err)
		b.metrics.RecordExchange(ctx, "error", duration)
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		fields = append(fields,
			observe.Field{Key: "reason", Value: string(ReasonOf(err))},
			observe.Field{Key: "error", Value: err.Error()},
		)
		b.logger.Warn(ctx, "delegation exchange failed", fields...)
		return SessionToken{}, err
	}

	b.metrics.RecordExchange(ctx, outcome.String(), duration)
	span.SetAttributes(attribute.String("broker.cache", outcome.String()))
	if outcome == cache.OutcomeHit {
		b.logger.Debug(ctx, "delegation served from cache", fields...)
	} else {
		b.logger.Info(ctx, "fetched session token", fields...)
	}

	return SessionToken{Token: entry.Value, Role: role, ExpiresAt: entry.ExpiresAt}, nil
}

// Invalidate drops the cached session token for subjectToken and role.
func (b *Broker) Invalidate(ctx context.Context, subjectToken, role string) error {
	if role == "" {
		role = b.config.Role
	}
	key, err := b.config.Keyer.Key(role, subjectToken)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return b.loader.Forget(ctx, key)
}

// Len returns the number of cached session tokens.
func (b *Broker) Len() int {
	return b.cache.Len()
}

// CircuitState reports the state of the trust-service circuit.
func (b *Broker) CircuitState() resilience.State {
	return b.config.CircuitBreaker.State()
}

// Close drops every cached session token. Exchange fails with ErrClosed
// afterwards.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.cache.Clear()
	return nil
}

// delegate performs one upstream exchange and computes how long the result
// may be reused: the smallest of the cache TTL, the TTL the trust service
// reported and the token's own exp claim.
func (b *Broker) delegate(ctx context.Context, subjectToken, role string) (string, time.Duration, error) {
	var d Delegation
	err := b.executor.Execute(ctx, func(ctx context.Context) error {
		var err error
		d, err = b.config.Upstream.Delegate(ctx, role, subjectToken)
		return err
	})
	if err != nil {
		return "", 0, err
	}

	ttl := b.config.CacheTTL
	if d.TTL > 0 && d.TTL < ttl {
		ttl = d.TTL
	}
	if exp := auth.ExtractUnverified(d.Token).ExpiresAt; !exp.IsZero() {
		if untilExp := exp.Sub(b.config.Now()); untilExp < ttl {
			ttl = untilExp
		}
	}
	if ttl <= 0 {
		return "", 0, malformed("delegate", errors.New("session token already expired"))
	}
	return d.Token, ttl, nil
}

// classifyExchangeError maps circuit, timeout and context failures onto
// an unreachable *Error.
func classifyExchangeError(err error) error {
	var berr *Error
	if errors.As(err, &berr) {
		return err
	}
	return unreachable("delegate", err)
}

// countsAgainstUpstream reports whether err says the trust service is down,
// as opposed to it refusing a particular exchange.
func countsAgainstUpstream(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, resilience.ErrTimeout) {
		return true
	}
	return ReasonOf(err) == ReasonUpstreamUnreachable
}
