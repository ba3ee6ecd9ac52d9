// Package auth verifies delegated bearer tokens and makes dual-scope
// authorization decisions.
//
// A Verifier checks a token's signature against the trust service's key
// set (JWKSKeyProvider) and returns a ClaimSet. Decide then grants a
// capability only when both the agent scope and the delegated subject's
// permissions carry it. Claims decoded without verification are marked
// unauthenticated and are always denied.
package auth
