package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/auth/authtest"
	"github.com/jonwraymond/tooldelegate/broker"
	"github.com/jonwraymond/tooldelegate/broker/brokertest"
	"github.com/jonwraymond/tooldelegate/tools/customer"
	"github.com/jonwraymond/tooldelegate/toolserver"
)

const (
	testRole   = "customer-agent"
	testIssuer = "trust-service"
)

// stack is a trust service, a customer tool server and an agent wired
// together the way the binaries wire them.
type stack struct {
	issuer *authtest.Issuer
	trust  *brokertest.TrustService
	tools  *httptest.Server
	agent  *httptest.Server
}

// users maps subject tokens to the permissions of their subject. Unknown
// subject tokens are refused by the trust service.
var users = map[string][]string{
	"alice-token": {customer.Capability},
	"bob-token":   {"read:weather"},
}

func newStack(t *testing.T, mutate func(*Config)) *stack {
	t.Helper()

	iss := authtest.NewIssuer(t, testIssuer)
	trust := brokertest.New(t)
	trust.OnDelegate(func(role, subjectToken string) (string, int64, int) {
		perms, ok := users[subjectToken]
		if !ok || role != testRole {
			return "", 0, http.StatusForbidden
		}
		subject := strings.TrimSuffix(subjectToken, "-token")
		return iss.Mint(t, authtest.Delegated(subject, []string{customer.Capability}, perms)), 300, 0
	})

	verifier := auth.NewJWTVerifier(auth.JWTConfig{Issuer: testIssuer},
		auth.NewJWKSKeyProvider(auth.JWKSConfig{URL: iss.JWKSURL()}))
	t.Cleanup(func() { _ = verifier.Close() })
	ts, err := toolserver.New(toolserver.Config{Name: "Customer", Verifier: verifier})
	if err != nil {
		t.Fatal(err)
	}
	if err := ts.Register(customer.Tools(customer.NewSeededMemoryStore())...); err != nil {
		t.Fatal(err)
	}
	tools := httptest.NewServer(ts.Handler())
	t.Cleanup(tools.Close)

	client, err := broker.NewClient(broker.ClientConfig{
		Addr: trust.URL(),
		Auth: broker.AppRole{RoleID: "agent-role", SecretID: "secret"},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := broker.New(broker.Config{Upstream: client, Role: testRole})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })

	cfg := Config{
		Title:  "Customer Agent API",
		Broker: b,
		Role:   testRole,
		ToolServers: map[string]string{
			"customer": tools.URL + toolserver.DefaultPath,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	agent := httptest.NewServer(srv.Handler())
	t.Cleanup(agent.Close)

	return &stack{issuer: iss, trust: trust, tools: tools, agent: agent}
}

func (s *stack) invoke(t *testing.T, token string, body any) (int, map[string]any) {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, s.agent.URL+"/invoke", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func outputs(t *testing.T, body map[string]any) []map[string]any {
	t.Helper()
	raw, ok := body["output"].([]any)
	if !ok {
		t.Fatalf("output = %#v", body["output"])
	}
	out := make([]map[string]any, len(raw))
	for i, o := range raw {
		out[i] = o.(map[string]any)
	}
	return out
}

func TestInvoke_RunsToolCallsWithSessionToken(t *testing.T) {
	s := newStack(t, nil)

	status, body := s.invoke(t, "alice-token", Request{
		Messages: []Message{{Role: "user", Content: "What did John Doe order?"}},
		ToolCalls: []ToolCall{
			{Server: "customer", Name: customer.ToolSearchByName, Arguments: map[string]any{"first_name": "John", "last_name": "Doe"}},
			{Server: "customer", Name: customer.ToolGetOrders, Arguments: map[string]any{"customer_id": "CUST001"}},
		},
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if _, err := uuid.Parse(body["request_id"].(string)); err != nil {
		t.Errorf("request_id = %v: %v", body["request_id"], err)
	}

	out := outputs(t, body)
	if len(out) != 2 {
		t.Fatalf("output = %v", out)
	}
	if out[0]["tool"] != customer.ToolSearchByName || out[0]["server"] != "customer" {
		t.Errorf("output[0] = %v", out[0])
	}
	search := out[0]["result"].(map[string]any)
	if search["count"] != 1.0 {
		t.Errorf("search result = %v", search)
	}
	history := out[1]["result"].(map[string]any)
	if history["customer_name"] != "John Doe" || len(history["orders"].([]any)) != 2 {
		t.Errorf("orders result = %v", history)
	}
	if s.trust.Delegates() != 1 {
		t.Errorf("delegations = %d, want 1", s.trust.Delegates())
	}
}

func TestInvoke_SessionTokenIsReused(t *testing.T) {
	s := newStack(t, nil)
	call := Request{ToolCalls: []ToolCall{{Server: "customer", Name: customer.ToolGetCustomer, Arguments: map[string]any{"customer_id": "CUST002"}}}}

	for range 3 {
		if status, body := s.invoke(t, "alice-token", call); status != http.StatusOK {
			t.Fatalf("status = %d, body = %v", status, body)
		}
	}
	if s.trust.Delegates() != 1 {
		t.Errorf("delegations = %d, want 1", s.trust.Delegates())
	}
}

func TestInvoke_ToolFailuresAreOutputs(t *testing.T) {
	s := newStack(t, nil)

	status, body := s.invoke(t, "bob-token", Request{ToolCalls: []ToolCall{
		{Server: "customer", Name: customer.ToolGetCustomer, Arguments: map[string]any{"customer_id": "CUST001"}},
		{Server: "billing", Name: "get_invoice"},
	}})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	out := outputs(t, body)
	if out[0]["error"] != "Access denied: user does not have 'read:customers' permission" {
		t.Errorf("output[0] = %v", out[0])
	}
	if _, ok := out[0]["result"]; ok {
		t.Errorf("denied call carries a result: %v", out[0])
	}
	if !strings.Contains(out[1]["error"].(string), "unknown tool server") {
		t.Errorf("output[1] = %v", out[1])
	}
}

func TestInvoke_ExchangeFailures(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		s := newStack(t, nil)
		status, body := s.invoke(t, "mallory-token", Request{})
		if status != http.StatusBadGateway {
			t.Fatalf("status = %d, body = %v", status, body)
		}
		if body["type"] != "BrokerError" || body["reason"] != string(broker.ReasonDenied) {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("trust service down", func(t *testing.T) {
		s := newStack(t, nil)
		s.trust.Close()
		status, body := s.invoke(t, "alice-token", Request{})
		if status != http.StatusBadGateway || body["reason"] != string(broker.ReasonUpstreamUnreachable) {
			t.Errorf("status = %d, body = %v", status, body)
		}
	})
}

func TestInvoke_RequiresBearer(t *testing.T) {
	s := newStack(t, nil)
	status, body := s.invoke(t, "", Request{})
	if status != http.StatusUnauthorized || body["error"] != "Authorization required" {
		t.Errorf("status = %d, body = %v", status, body)
	}
	if s.trust.Delegates() != 0 {
		t.Error("exchange attempted without a bearer token")
	}
}

func TestInvoke_VerifiesUserToken(t *testing.T) {
	idp := authtest.NewIssuer(t, "https://idp.example.com")
	s := newStack(t, func(c *Config) {
		c.UserVerifier = auth.NewJWTVerifier(auth.JWTConfig{Issuer: idp.Name},
			auth.NewJWKSKeyProvider(auth.JWKSConfig{URL: idp.JWKSURL()}))
	})

	status, body := s.invoke(t, "alice-token", Request{})
	if status != http.StatusUnauthorized || body["reason"] != string(auth.ReasonMalformed) {
		t.Errorf("status = %d, body = %v", status, body)
	}

	userToken := idp.Mint(t, map[string]any{"sub": "alice"})
	s.trust.OnDelegate(func(role, subjectToken string) (string, int64, int) {
		if subjectToken != userToken {
			return "", 0, http.StatusForbidden
		}
		return "session-alice", 300, 0
	})
	if status, body := s.invoke(t, userToken, Request{}); status != http.StatusOK {
		t.Errorf("verified user: status = %d, body = %v", status, body)
	}
}

func TestInvoke_BadBody(t *testing.T) {
	s := newStack(t, nil)

	req, _ := http.NewRequest(http.MethodPost, s.agent.URL+"/invoke", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer alice-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInvoke_RunnerError(t *testing.T) {
	s := newStack(t, func(c *Config) {
		c.Runner = RunnerFunc(func(context.Context, *Request, *Toolbox) ([]Output, error) {
			return nil, errors.New("model unavailable")
		})
	})

	status, body := s.invoke(t, "alice-token", Request{})
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d", status)
	}
	if body["error"] != "model unavailable" || body["type"] != "InternalError" {
		t.Errorf("body = %v", body)
	}
}

func TestInvoke_RunnerListsTools(t *testing.T) {
	var listed []string
	s := newStack(t, func(c *Config) {
		c.Runner = RunnerFunc(func(ctx context.Context, _ *Request, tools *Toolbox) ([]Output, error) {
			for _, server := range tools.Servers() {
				names, err := tools.ListTools(ctx, server)
				if err != nil {
					return nil, err
				}
				listed = append(listed, names...)
			}
			return nil, nil
		})
	})

	status, body := s.invoke(t, "alice-token", Request{})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if out, ok := body["output"].([]any); !ok || len(out) != 0 {
		t.Errorf("output = %#v, want empty list", body["output"])
	}
	slices.Sort(listed)
	want := []string{customer.ToolGetCustomer, customer.ToolGetOrders, customer.ToolSearchByName}
	if !slices.Equal(listed, want) {
		t.Errorf("tools = %v, want %v", listed, want)
	}
}

func TestServer_RootAndHealth(t *testing.T) {
	s := newStack(t, nil)

	tests := []struct {
		path string
		want map[string]string
	}{
		{"/", map[string]string{"message": "Customer Agent API", "status": "running"}},
		{"/health", map[string]string{"status": "ok"}},
		{"/ok", map[string]string{"status": "ok"}},
	}
	for _, tt := range tests {
		resp, err := http.Get(s.agent.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&got)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", tt.path, resp.StatusCode)
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("GET %s %s = %q, want %q", tt.path, k, got[k], v)
			}
		}
	}

	resp, err := http.Get(s.agent.URL + "/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /missing status = %d, want 404", resp.StatusCode)
	}
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(Config{Role: testRole}); err == nil {
		t.Error("missing broker accepted")
	}
	if _, err := NewServer(Config{Broker: &broker.Broker{}}); err == nil {
		t.Error("missing role accepted")
	}
}
