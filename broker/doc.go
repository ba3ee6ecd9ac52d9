// Package broker exchanges a caller's subject token for a short-lived
// delegated session token issued by the trust service.
//
// The broker authenticates itself with an AuthMethod (AppRole or
// Kubernetes), posts {role, subject_token} to the delegation endpoint and
// caches the resulting session token, keyed by a keyed digest of the
// subject token, until the earliest of the configured cache TTL, the TTL
// reported by the trust service and the token's own expiry.
//
// Failures are reported as *Error with one of three reasons:
//
//   - upstream-unreachable: transport failure, timeout, 5xx or open circuit
//   - malformed-response: the response could not be decoded
//   - denied: the trust service refused the exchange
//
// Failed exchanges are never cached and never retried.
package broker
