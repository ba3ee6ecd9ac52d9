package auth

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names read from delegated session tokens.
const (
	ClaimScope         = "scope"
	ClaimSubjectClaims = "subject_claims"
	ClaimPermissions   = "permissions"
)

// SubjectClaims are the claims describing the delegated human subject.
type SubjectClaims struct {
	// Subject is the subject identifier (sub) inside subject_claims, if any.
	Subject string

	// Permissions are the capabilities granted to the subject.
	Permissions []string

	// Attributes holds the remaining subject_claims entries.
	Attributes map[string]any
}

// ClaimSet is the structured payload of a bearer token.
//
// A ClaimSet built by ExtractUnverified is marked unauthenticated and is
// never granted anything by the Authorizer.
type ClaimSet struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time

	// Scope are the capabilities granted to the calling agent itself.
	Scope []string

	// SubjectClaims describe the delegated subject.
	SubjectClaims SubjectClaims

	// Raw contains every claim as decoded from the token.
	Raw map[string]any

	verified bool
}

// Verified reports whether the claims came from a token whose signature,
// expiry and issuer were checked.
func (c *ClaimSet) Verified() bool {
	return c != nil && c.verified
}

// HasScope reports whether the agent scope contains capability.
func (c *ClaimSet) HasScope(capability string) bool {
	return c != nil && slices.Contains(c.Scope, capability)
}

// SubjectHasPermission reports whether the subject permissions contain capability.
func (c *ClaimSet) SubjectHasPermission(capability string) bool {
	return c != nil && slices.Contains(c.SubjectClaims.Permissions, capability)
}

// IsExpired reports whether the claims carry an expiry in the past.
func (c *ClaimSet) IsExpired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt)
}

// ExtractUnverified decodes the token payload without checking its
// signature. It never fails: undecodable input yields an empty ClaimSet.
// The result is unauthenticated and must not be used for authorization.
func ExtractUnverified(raw string) *ClaimSet {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return &ClaimSet{Raw: map[string]any{}}
	}
	return newClaimSet(claims, false)
}

// VerifiedClaims wraps claims whose token was verified by a trusted
// component outside this package, such as a gateway that already checked
// the signature.
func VerifiedClaims(claims map[string]any) *ClaimSet {
	return newClaimSet(claims, true)
}

func newClaimSet(claims map[string]any, verified bool) *ClaimSet {
	cs := &ClaimSet{
		Raw:      make(map[string]any, len(claims)),
		verified: verified,
	}
	for k, v := range claims {
		cs.Raw[k] = v
	}

	cs.Subject, _ = claims["sub"].(string)
	cs.Issuer, _ = claims["iss"].(string)
	cs.Audience = stringList(claims["aud"])
	cs.ExpiresAt = numericTime(claims["exp"])
	cs.IssuedAt = numericTime(claims["iat"])
	cs.Scope = stringList(claims[ClaimScope])

	if sc, ok := claims[ClaimSubjectClaims].(map[string]any); ok {
		cs.SubjectClaims.Subject, _ = sc["sub"].(string)
		cs.SubjectClaims.Permissions = stringList(sc[ClaimPermissions])
		cs.SubjectClaims.Attributes = make(map[string]any, len(sc))
		for k, v := range sc {
			if k == ClaimPermissions || k == "sub" {
				continue
			}
			cs.SubjectClaims.Attributes[k] = v
		}
	}

	return cs
}

// stringList accepts a JSON array of strings or a space-delimited string.
func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.Fields(val)
	case []string:
		return slices.Clone(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func numericTime(v any) time.Time {
	switch val := v.(type) {
	case float64:
		return time.Unix(int64(val), 0)
	case int64:
		return time.Unix(val, 0)
	case int:
		return time.Unix(int64(val), 0)
	default:
		return time.Time{}
	}
}
