package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer   abc", "abc", true},
		{"  Bearer abc  ", "abc", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBearerMiddleware(t *testing.T) {
	verifier := VerifierFunc(func(ctx context.Context, raw string) (*ClaimSet, error) {
		if raw != "good" {
			return nil, NewVerificationError(ReasonExpired, nil)
		}
		return VerifiedClaims(map[string]any{"sub": "agent:alice"}), nil
	})

	var rejected []error
	var gotSubject, gotBearer string
	h := (&BearerMiddleware{
		Verifier: verifier,
		OnReject: func(r *http.Request, err error) { rejected = append(rejected, err) },
	}).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = SubjectFromContext(r.Context())
		gotBearer = BearerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
			wantBody:   map[string]string{"error": "Authorization required"},
		},
		{
			name:       "wrong scheme",
			header:     "Basic abc",
			wantStatus: http.StatusUnauthorized,
			wantBody:   map[string]string{"error": "Authorization required"},
		},
		{
			name:       "rejected token",
			header:     "Bearer stale",
			wantStatus: http.StatusUnauthorized,
			wantBody:   map[string]string{"error": "invalid token", "reason": "expired"},
		},
		{
			name:       "valid token",
			header:     "Bearer good",
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody == nil {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			for k, v := range tt.wantBody {
				if body[k] != v {
					t.Errorf("body[%q] = %q, want %q", k, body[k], v)
				}
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate header missing")
			}
		})
	}

	if gotSubject != "agent:alice" || gotBearer != "good" {
		t.Errorf("context subject/bearer = %q/%q", gotSubject, gotBearer)
	}
	if len(rejected) != 3 {
		t.Errorf("OnReject called %d times, want 3", len(rejected))
	}
}

func TestRequireBearer_NilVerifierForwardsToken(t *testing.T) {
	var claims *ClaimSet
	var bearer string
	h := RequireBearer(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims = ClaimsFromContext(r.Context())
		bearer = BearerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if bearer != "user-token" {
		t.Errorf("bearer = %q", bearer)
	}
	if claims != nil {
		t.Error("claims must not be attached without verification")
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()
	if ClaimsFromContext(ctx) != nil || SubjectFromContext(ctx) != "" || BearerFromContext(ctx) != "" {
		t.Error("empty context should carry nothing")
	}
}
