// Package resilience bounds and guards calls to upstream services.
//
// Timeout caps how long a call may block, Retry repeats transient failures
// with jittered exponential backoff, and CircuitBreaker fails fast while an
// upstream keeps failing. Executor composes them:
//
//	exec := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithTimeout(10*time.Second),
//	)
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return callTrustService(ctx)
//	})
//
// Errors wrapped with Permanent are never retried.
package resilience
