// Package brokertest provides a fake trust service for tests: AppRole and
// Kubernetes login, the delegation endpoint and a health endpoint, with
// hooks to count calls and inject failures.
package brokertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// DelegateFunc produces the delegation response for one request. It
// returns the session token and TTL in seconds, or a non-zero status to
// fail the request.
type DelegateFunc func(role, subjectToken string) (token string, ttl int64, status int)

// TrustService is a fake trust service.
type TrustService struct {
	server *httptest.Server

	// LeaseSeconds is the client-token lease returned by login. Zero
	// means no expiry.
	LeaseSeconds int64

	// Delay is applied to every delegation request.
	Delay time.Duration

	mu        sync.Mutex
	delegate  DelegateFunc
	raw       []byte
	valid     map[string]bool
	lastLogin map[string]string

	logins    atomic.Int32
	delegates atomic.Int32
	issued    atomic.Int32
}

// New starts a fake trust service. By default every subject token is
// exchanged for "session-<n>" with a 300s TTL.
func New(t testing.TB) *TrustService {
	t.Helper()

	ts := &TrustService{valid: map[string]bool{}}
	ts.delegate = func(role, subjectToken string) (string, int64, int) {
		return "session-" + strconv.Itoa(int(ts.issued.Add(1))), 300, 0
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/{mount}/login", ts.serveLogin)
	mux.HandleFunc("POST /v1/{mount}/delegate", ts.serveDelegate)
	mux.HandleFunc("GET /v1/sys/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"initialized": true, "sealed": false})
	})
	ts.server = httptest.NewServer(mux)
	t.Cleanup(ts.server.Close)
	return ts
}

// URL returns the base address.
func (ts *TrustService) URL() string {
	return ts.server.URL
}

// Close stops the server, making it unreachable.
func (ts *TrustService) Close() {
	ts.server.Close()
}

// OnDelegate replaces the delegation behavior.
func (ts *TrustService) OnDelegate(fn DelegateFunc) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.delegate = fn
	ts.raw = nil
}

// RespondRaw makes the delegation endpoint answer 200 with body verbatim.
func (ts *TrustService) RespondRaw(body string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.raw = []byte(body)
}

// RevokeClientTokens makes every issued client token answer 403 until the
// broker logs in again.
func (ts *TrustService) RevokeClientTokens() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.valid = map[string]bool{}
}

// LastLogin returns the body of the most recent login request.
func (ts *TrustService) LastLogin() map[string]string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastLogin
}

// Logins returns the number of login requests.
func (ts *TrustService) Logins() int { return int(ts.logins.Load()) }

// Delegates returns the number of delegation requests.
func (ts *TrustService) Delegates() int { return int(ts.delegates.Load()) }

func (ts *TrustService) serveLogin(w http.ResponseWriter, r *http.Request) {
	n := ts.logins.Add(1)

	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"invalid request"}})
		return
	}

	switch r.PathValue("mount") {
	case "approle":
		if body["role_id"] == "" || body["secret_id"] != "secret" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"invalid role or secret ID"}})
			return
		}
	case "kubernetes":
		if body["role"] == "" || body["jwt"] == "" {
			writeJSON(w, http.StatusForbidden, map[string]any{"errors": []string{"permission denied"}})
			return
		}
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"no handler for route"}})
		return
	}

	token := "hvs.client-" + strconv.Itoa(int(n))
	ts.mu.Lock()
	ts.valid[token] = true
	ts.lastLogin = body
	ts.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{"client_token": token, "lease_duration": ts.LeaseSeconds},
	})
}

func (ts *TrustService) serveDelegate(w http.ResponseWriter, r *http.Request) {
	ts.delegates.Add(1)
	if ts.Delay > 0 {
		time.Sleep(ts.Delay)
	}

	ts.mu.Lock()
	ok := ts.valid[r.Header.Get("X-Vault-Token")]
	fn, raw := ts.delegate, ts.raw
	ts.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]any{"errors": []string{"permission denied"}})
		return
	}
	if raw != nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
		return
	}

	var body struct {
		Role         string `json:"role"`
		SubjectToken string `json:"subject_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Role == "" || body.SubjectToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"role and subject_token are required"}})
		return
	}

	token, ttl, status := fn(body.Role, body.SubjectToken)
	if status != 0 {
		writeJSON(w, status, map[string]any{"errors": []string{http.StatusText(status)}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"token": token, "ttl": ttl},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
