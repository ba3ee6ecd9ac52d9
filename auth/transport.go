package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// BearerMiddleware rejects requests without a valid bearer token and
// attaches the verified claims and raw token to the request context.
//
// A missing header answers 401 {"error":"Authorization required"}; a token
// that fails verification answers 401 with the rejection reason.
type BearerMiddleware struct {
	// Verifier checks the token. Nil only requires the header to be present,
	// for servers that forward the token without trusting its claims.
	Verifier Verifier

	// OnReject is called for every rejected request.
	OnReject func(r *http.Request, err error)
}

// RequireBearer wraps next with a BearerMiddleware using v.
//
// Usage:
//
//	mux.Handle("/mcp", auth.RequireBearer(verifier, mcpHandler))
func RequireBearer(v Verifier, next http.Handler) http.Handler {
	return (&BearerMiddleware{Verifier: v}).Wrap(next)
}

// Wrap returns the guarded handler.
func (m *BearerMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r.Header.Get("Authorization"))
		if !ok {
			m.reject(r, ErrMissingCredentials)
			w.Header().Set("WWW-Authenticate", `Bearer`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authorization required"})
			return
		}

		ctx := WithBearer(r.Context(), token)
		if m.Verifier != nil {
			claims, err := m.Verifier.Verify(ctx, token)
			if err != nil {
				m.reject(r, err)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":  "invalid token",
					"reason": string(ReasonOf(err)),
				})
				return
			}
			ctx = WithClaims(ctx, claims)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *BearerMiddleware) reject(r *http.Request, err error) {
	if m.OnReject != nil {
		m.OnReject(r, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
