package toolserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/observe"
)

// Args are the arguments of one tool call.
type Args map[string]any

// String returns the non-empty string argument key.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgument, key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, key)
	}
	return s, nil
}

// Handler runs one tool call. The returned value is encoded as the JSON text
// of the tool result; a returned error becomes {"error":"<message>"}.
type Handler func(ctx context.Context, args Args) (any, error)

// Guard authorizes tool calls against the claims on the call context.
type Guard struct {
	Logger  observe.Logger
	Metrics observe.Metrics
}

// Wrap returns a Handler that runs h only when the caller is granted
// capability. A denied call returns an *auth.AuthzError and h is not run.
func (g Guard) Wrap(name, capability string, h Handler) Handler {
	logger := observe.LoggerOrNop(g.Logger)
	metrics := observe.MetricsOrNop(g.Metrics)

	return func(ctx context.Context, args Args) (any, error) {
		claims := auth.ClaimsFromContext(ctx)
		d := auth.Decide(claims, capability)
		metrics.RecordDecision(ctx, capability, d.Granted, string(d.Reason))

		fields := []observe.Field{
			{Key: "tool", Value: name},
			{Key: "capability", Value: capability},
			{Key: "agent_has_capability", Value: d.AgentHasCapability},
			{Key: "subject_has_capability", Value: d.SubjectHasCapability},
		}
		if claims != nil {
			fields = append(fields, observe.Field{Key: "subject", Value: claims.Subject})
		}
		if !d.Granted {
			fields = append(fields, observe.Field{Key: "reason", Value: string(d.Reason)})
			logger.Warn(ctx, "permission denied", fields...)

			err := &auth.AuthzError{Decision: d}
			if claims != nil {
				err.Subject = claims.Subject
			}
			if name != "" {
				err.Resource = "tool:" + name
			}
			return nil, err
		}
		logger.Info(ctx, "permission granted", fields...)
		return h(ctx, args)
	}
}

// Guarded wraps h with a Guard that neither logs nor records metrics.
func Guarded(capability string, h Handler) Handler {
	return Guard{}.Wrap("", capability, h)
}
