package toolserver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/auth/authtest"
	"github.com/jonwraymond/tooldelegate/observe"
)

func claimsCtx(scope, perms []string) context.Context {
	return auth.WithClaims(context.Background(), auth.VerifiedClaims(authtest.Delegated("alice", scope, perms)))
}

func TestGuard_Wrap(t *testing.T) {
	const capability = "read:customers"
	all := []string{capability}

	tests := []struct {
		name    string
		ctx     context.Context
		wantRun bool
		wantMsg string
	}{
		{"granted", claimsCtx(all, all), true, ""},
		{"no claims", context.Background(), false, "Access denied: no valid token"},
		{"unverified claims", auth.WithClaims(context.Background(), auth.ExtractUnverified("x.y.z")), false, "Access denied: no valid token"},
		{"agent lacks capability", claimsCtx(nil, all), false, "Access denied: agent does not have 'read:customers' permission"},
		{"subject lacks capability", claimsCtx(all, []string{"read:weather"}), false, "Access denied: user does not have 'read:customers' permission"},
		{"both lack capability", claimsCtx(nil, nil), false, "Access denied: agent does not have 'read:customers' permission"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			h := Guard{}.Wrap("get_customer", capability, func(ctx context.Context, args Args) (any, error) {
				ran = true
				return "ok", nil
			})

			out, err := h(tt.ctx, Args{})
			if ran != tt.wantRun {
				t.Fatalf("handler ran = %v, want %v", ran, tt.wantRun)
			}
			if tt.wantRun {
				if err != nil || out != "ok" {
					t.Fatalf("h() = %v, %v", out, err)
				}
				return
			}
			if !errors.Is(err, auth.ErrForbidden) {
				t.Fatalf("err = %v, want ErrForbidden", err)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
			var azErr *auth.AuthzError
			if errors.As(err, &azErr) && azErr.Resource != "tool:get_customer" {
				t.Errorf("resource = %q", azErr.Resource)
			}
		})
	}
}

type decisionRecorder struct {
	observe.Metrics
	granted []bool
	reasons []string
}

func (r *decisionRecorder) RecordDecision(_ context.Context, _ string, granted bool, reason string) {
	r.granted = append(r.granted, granted)
	r.reasons = append(r.reasons, reason)
}

func TestGuard_RecordsAndLogsDecisions(t *testing.T) {
	var buf bytes.Buffer
	rec := &decisionRecorder{Metrics: observe.NopMetrics()}
	g := Guard{Logger: observe.NewLoggerWithWriter("info", &buf), Metrics: rec}
	h := g.Wrap("get_customer", "read:customers", func(context.Context, Args) (any, error) { return nil, nil })

	all := []string{"read:customers"}
	_, _ = h(claimsCtx(all, all), nil)
	_, _ = h(claimsCtx(all, nil), nil)

	if len(rec.granted) != 2 || !rec.granted[0] || rec.granted[1] {
		t.Fatalf("granted = %v", rec.granted)
	}
	if rec.reasons[1] != string(auth.DenialSubjectMissing) {
		t.Errorf("reason = %q", rec.reasons[1])
	}
	logs := buf.String()
	for _, want := range []string{"permission granted", "permission denied", `"subject_has_capability":false`} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %q:\n%s", want, logs)
		}
	}
}

func TestGuarded(t *testing.T) {
	h := Guarded("write:orders", func(context.Context, Args) (any, error) { return 1, nil })
	_, err := h(context.Background(), nil)
	var azErr *auth.AuthzError
	if !errors.As(err, &azErr) {
		t.Fatalf("err = %v, want *auth.AuthzError", err)
	}
	if azErr.Resource != "" || azErr.Decision.Reason != auth.DenialNoToken {
		t.Errorf("AuthzError = %+v", azErr)
	}
}

func TestArgs_String(t *testing.T) {
	args := Args{"id": "CUST001", "n": 3.0, "blank": "  "}

	if got, err := args.String("id"); err != nil || got != "CUST001" {
		t.Errorf("String(id) = %q, %v", got, err)
	}
	for _, key := range []string{"n", "blank", "missing"} {
		if _, err := args.String(key); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("String(%s) err = %v, want ErrInvalidArgument", key, err)
		}
	}
}
