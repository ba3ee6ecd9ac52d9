package broker

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonwraymond/tooldelegate/broker/brokertest"
)

func newTestClient(t *testing.T, ts *brokertest.TrustService, auth AuthMethod) *Client {
	t.Helper()
	if auth == nil {
		auth = AppRole{RoleID: "agent-role", SecretID: "secret"}
	}
	c, err := NewClient(ClientConfig{Addr: ts.URL() + "/", Auth: auth})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(ClientConfig{Auth: AppRole{}}); err == nil {
		t.Error("missing address should fail")
	}
	if _, err := NewClient(ClientConfig{Addr: "http://trust"}); err == nil {
		t.Error("missing auth method should fail")
	}
}

func TestClient_AppRoleLoginAndDelegate(t *testing.T) {
	ts := brokertest.New(t)
	c := newTestClient(t, ts, nil)

	d, err := c.Delegate(context.Background(), "customer-agent", "user-jwt")
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if d.Token != "session-1" || d.TTL != 300*time.Second {
		t.Errorf("Delegate() = %+v", d)
	}
	if got := ts.LastLogin(); got["role_id"] != "agent-role" || got["secret_id"] != "secret" {
		t.Errorf("login body = %v", got)
	}

	if _, err := c.Delegate(context.Background(), "customer-agent", "user-jwt"); err != nil {
		t.Fatal(err)
	}
	if ts.Logins() != 1 {
		t.Errorf("Logins() = %d, want the client token reused", ts.Logins())
	}
}

func TestClient_KubernetesLogin(t *testing.T) {
	ts := brokertest.New(t)
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("sa-jwt\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, ts, Kubernetes{Role: "agent", TokenPath: path})
	if _, err := c.ClientToken(context.Background()); err != nil {
		t.Fatalf("ClientToken() error = %v", err)
	}
	if got := ts.LastLogin(); got["role"] != "agent" || got["jwt"] != "sa-jwt" {
		t.Errorf("login body = %v", got)
	}
}

func TestClient_KubernetesMissingToken(t *testing.T) {
	ts := brokertest.New(t)
	c := newTestClient(t, ts, Kubernetes{Role: "agent", TokenPath: filepath.Join(t.TempDir(), "absent")})

	_, err := c.ClientToken(context.Background())
	if !errors.Is(err, ErrDenied) {
		t.Errorf("error = %v, want ErrDenied", err)
	}
	if ts.Logins() != 0 {
		t.Error("no login request should be sent without a token")
	}
}

func TestClient_LoginRejected(t *testing.T) {
	ts := brokertest.New(t)
	c := newTestClient(t, ts, AppRole{RoleID: "agent-role", SecretID: "wrong"})

	_, err := c.Delegate(context.Background(), "customer-agent", "user-jwt")
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if berr.Reason != ReasonDenied || berr.Op != "login" || berr.Status != http.StatusBadRequest {
		t.Errorf("error = %+v", berr)
	}
	if berr.Err == nil || berr.Err.Error() != "invalid role or secret ID" {
		t.Errorf("upstream message = %v", berr.Err)
	}
}

func TestClient_ForbiddenDropsCachedToken(t *testing.T) {
	ts := brokertest.New(t)
	c := newTestClient(t, ts, nil)
	ctx := context.Background()

	if _, err := c.Delegate(ctx, "customer-agent", "user-jwt"); err != nil {
		t.Fatal(err)
	}
	ts.RevokeClientTokens()

	_, err := c.Delegate(ctx, "customer-agent", "user-jwt")
	if ReasonOf(err) != ReasonDenied {
		t.Fatalf("Delegate() with a revoked client token error = %v, want denied", err)
	}
	if ts.Logins() != 1 || ts.Delegates() != 2 {
		t.Errorf("Logins = %d, Delegates = %d; want 1 and 2", ts.Logins(), ts.Delegates())
	}

	if _, err := c.Delegate(ctx, "customer-agent", "user-jwt"); err != nil {
		t.Fatalf("Delegate() after the token was dropped error = %v", err)
	}
	if ts.Logins() != 2 || ts.Delegates() != 3 {
		t.Errorf("Logins = %d, Delegates = %d; want 2 and 3", ts.Logins(), ts.Delegates())
	}
}

func TestClient_ForbiddenIsNotRetried(t *testing.T) {
	ts := brokertest.New(t)
	ts.OnDelegate(func(role, subjectToken string) (string, int64, int) {
		return "", 0, http.StatusForbidden
	})
	c := newTestClient(t, ts, nil)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		_, err := c.Delegate(ctx, "customer-agent", "user-jwt")
		if ReasonOf(err) != ReasonDenied {
			t.Fatalf("call %d: error = %v, want denied", i, err)
		}
		if ts.Delegates() != i {
			t.Errorf("call %d: Delegates() = %d, want one per call", i, ts.Delegates())
		}
	}
	// The first token came from a login in that call and is kept; the second
	// call used it from the cache and dropped it.
	if ts.Logins() != 1 {
		t.Errorf("Logins() = %d, want 1", ts.Logins())
	}
	if _, err := c.Delegate(ctx, "customer-agent", "user-jwt"); ReasonOf(err) != ReasonDenied {
		t.Fatalf("third call error = %v", err)
	}
	if ts.Logins() != 2 {
		t.Errorf("Logins() = %d, want a fresh login after the drop", ts.Logins())
	}
}

func TestClient_LeaseExpiry(t *testing.T) {
	ts := brokertest.New(t)
	ts.LeaseSeconds = 60
	now := time.Now()
	c, err := NewClient(ClientConfig{
		Addr: ts.URL(),
		Auth: AppRole{RoleID: "agent-role", SecretID: "secret"},
		Now:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first, err := c.ClientToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(59 * time.Second)
	if again, _ := c.ClientToken(ctx); again != first {
		t.Error("client token should be reused within its lease")
	}
	now = now.Add(time.Second)
	if renewed, _ := c.ClientToken(ctx); renewed == first {
		t.Error("client token should be renewed once the lease ends")
	}
	if ts.Logins() != 2 {
		t.Errorf("Logins() = %d, want 2", ts.Logins())
	}
}

func TestClient_DelegateFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(ts *brokertest.TrustService)
		wantReason Reason
	}{
		{
			name: "server error",
			setup: func(ts *brokertest.TrustService) {
				ts.OnDelegate(func(string, string) (string, int64, int) { return "", 0, http.StatusServiceUnavailable })
			},
			wantReason: ReasonUpstreamUnreachable,
		},
		{
			name: "bad request",
			setup: func(ts *brokertest.TrustService) {
				ts.OnDelegate(func(string, string) (string, int64, int) { return "", 0, http.StatusBadRequest })
			},
			wantReason: ReasonDenied,
		},
		{
			name: "unauthorized",
			setup: func(ts *brokertest.TrustService) {
				ts.OnDelegate(func(string, string) (string, int64, int) { return "", 0, http.StatusUnauthorized })
			},
			wantReason: ReasonDenied,
		},
		{
			name:       "not json",
			setup:      func(ts *brokertest.TrustService) { ts.RespondRaw("<html>oops</html>") },
			wantReason: ReasonMalformedResponse,
		},
		{
			name:       "missing token",
			setup:      func(ts *brokertest.TrustService) { ts.RespondRaw(`{"data":{"ttl":300}}`) },
			wantReason: ReasonMalformedResponse,
		},
		{
			name:       "unreachable",
			setup:      func(ts *brokertest.TrustService) { ts.Close() },
			wantReason: ReasonUpstreamUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := brokertest.New(t)
			c := newTestClient(t, ts, nil)
			if _, err := c.ClientToken(context.Background()); err != nil {
				t.Fatal(err)
			}
			tt.setup(ts)

			_, err := c.Delegate(context.Background(), "customer-agent", "user-jwt")
			if got := ReasonOf(err); got != tt.wantReason {
				t.Errorf("ReasonOf(%v) = %q, want %q", err, got, tt.wantReason)
			}
		})
	}
}

func TestClient_Health(t *testing.T) {
	ts := brokertest.New(t)
	c := newTestClient(t, ts, nil)

	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health() = %v", err)
	}
	ts.Close()
	if err := c.Health(context.Background()); !errors.Is(err, ErrUpstreamUnreachable) {
		t.Errorf("Health() after close = %v", err)
	}
}
