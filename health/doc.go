// Package health reports whether a service and the dependencies it needs
// to serve delegated tool calls are usable.
//
// A Checker reports one dependency as Healthy, Degraded or Unhealthy. The
// package ships checkers for the pieces both servers depend on:
//
//	agg := health.NewAggregator(health.AggregatorConfig{Logger: logger})
//	agg.Register(
//	    health.TrustServiceChecker(client),       // trust service /v1/sys/health
//	    health.CircuitChecker("broker_circuit", broker),
//	    health.KeySetChecker(jwks),               // token key set
//	    health.DatabaseChecker(pool),
//	)
//
// RegisterHandlers mounts the HTTP endpoints. /health, /ok and /healthz are
// liveness probes that never touch a dependency; /readyz runs every check
// and answers 503 when one is unhealthy.
package health
