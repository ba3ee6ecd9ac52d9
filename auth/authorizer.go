package auth

import (
	"context"
	"fmt"
	"strings"
)

// Authorizer determines if a set of claims may exercise a capability.
type Authorizer interface {
	// Authorize checks if the request is permitted.
	// Returns nil if authorized, or an error (typically *AuthzError) if denied.
	Authorize(ctx context.Context, req *AuthzRequest) error

	// Name returns a unique identifier for this authorizer.
	Name() string
}

// AuthzRequest contains the information needed for authorization.
type AuthzRequest struct {
	// Claims are the verified claims of the caller. Nil means no token.
	Claims *ClaimSet

	// Capability is the capability the operation requires (e.g. "read:customers").
	Capability string

	// Resource is the target resource (e.g., "tool:get_customer").
	Resource string
}

// ToolName extracts the tool name from the resource.
// Removes "tool:" prefix if present.
func (r *AuthzRequest) ToolName() string {
	if name, found := strings.CutPrefix(r.Resource, "tool:"); found {
		return name
	}
	return r.Resource
}

// DenialReason classifies a denied authorization decision.
type DenialReason string

const (
	DenialNone           DenialReason = ""
	DenialNoToken        DenialReason = "no-token"
	DenialAgentScope     DenialReason = "agent-missing-capability"
	DenialSubjectMissing DenialReason = "subject-missing-capability"
)

// Decision is the outcome of a dual-scope authorization check. It is
// computed per call and never stored.
type Decision struct {
	Granted    bool
	Reason     DenialReason
	Capability string

	// AgentHasCapability and SubjectHasCapability record both checks, even
	// when the first one already decided the outcome.
	AgentHasCapability   bool
	SubjectHasCapability bool
}

// Message returns the caller-facing text of the decision.
func (d Decision) Message() string {
	switch d.Reason {
	case DenialNoToken:
		return "Access denied: no valid token"
	case DenialAgentScope:
		return fmt.Sprintf("Access denied: agent does not have '%s' permission", d.Capability)
	case DenialSubjectMissing:
		return fmt.Sprintf("Access denied: user does not have '%s' permission", d.Capability)
	default:
		return fmt.Sprintf("Permission '%s' granted", d.Capability)
	}
}

// Decide grants capability only when it is present both in the agent's
// scope and in the delegated subject's permissions. Missing or
// unauthenticated claims are denied. When both subsets lack the capability
// the agent failure is reported.
func Decide(claims *ClaimSet, capability string) Decision {
	d := Decision{Capability: capability}
	if !claims.Verified() {
		d.Reason = DenialNoToken
		return d
	}

	d.AgentHasCapability = capability != "" && claims.HasScope(capability)
	d.SubjectHasCapability = capability != "" && claims.SubjectHasPermission(capability)

	switch {
	case !d.AgentHasCapability:
		d.Reason = DenialAgentScope
	case !d.SubjectHasCapability:
		d.Reason = DenialSubjectMissing
	default:
		d.Granted = true
	}
	return d
}

// DualScopeAuthorizer adapts Decide to the Authorizer interface.
type DualScopeAuthorizer struct{}

// NewDualScopeAuthorizer creates a dual-scope authorizer.
func NewDualScopeAuthorizer() *DualScopeAuthorizer {
	return &DualScopeAuthorizer{}
}

// Name returns "dual_scope".
func (a *DualScopeAuthorizer) Name() string {
	return "dual_scope"
}

// Authorize returns nil when the request is granted, or an *AuthzError.
// A nil request is denied as carrying no token.
func (a *DualScopeAuthorizer) Authorize(_ context.Context, req *AuthzRequest) error {
	if req == nil {
		return &AuthzError{Decision: Decide(nil, "")}
	}
	d := Decide(req.Claims, req.Capability)
	if d.Granted {
		return nil
	}
	subject := ""
	if req.Claims != nil {
		subject = req.Claims.Subject
	}
	return &AuthzError{
		Subject:  subject,
		Resource: req.Resource,
		Decision: d,
	}
}

// AuthzError represents an authorization failure.
type AuthzError struct {
	// Subject is the sub claim of the denied caller.
	Subject string

	// Resource is the resource that was denied access to.
	Resource string

	// Decision is the denied decision.
	Decision Decision
}

// Error returns the caller-facing denial message.
func (e *AuthzError) Error() string {
	return e.Decision.Message()
}

// Is reports whether this error matches the target.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}

// AuthorizerFunc is an adapter to allow use of ordinary functions as Authorizers.
type AuthorizerFunc func(ctx context.Context, req *AuthzRequest) error

// Authorize calls the function.
func (f AuthorizerFunc) Authorize(ctx context.Context, req *AuthzRequest) error {
	return f(ctx, req)
}

// Name returns "func" for function-based authorizers.
func (f AuthorizerFunc) Name() string {
	return "func"
}

var _ Authorizer = (*DualScopeAuthorizer)(nil)
