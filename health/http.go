package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// OKHandler answers {"status":"ok"} as long as the process is serving.
func OKHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Response is the JSON body of the readiness endpoints.
type Response struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is the JSON form of a single check result.
type CheckResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func toCheckResponse(r Result) CheckResponse {
	resp := CheckResponse{
		Status:   r.Status.String(),
		Message:  r.Message,
		Duration: r.Duration.String(),
		Details:  r.Details,
	}
	if r.Error != nil {
		resp.Error = r.Error.Error()
	}
	return resp
}

// statusCode maps a health status to an HTTP status. Degraded still
// serves traffic.
func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// ReadinessHandler runs every check in agg and reports each result. It
// answers 503 when any check is unhealthy.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := agg.CheckAll(ctx)
		status := OverallStatus(results)

		resp := Response{
			Status:    status.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]CheckResponse, len(results)),
		}
		for name, result := range results {
			resp.Checks[name] = toCheckResponse(result)
		}
		writeJSON(w, statusCode(status), resp)
	}
}

// SingleCheckHandler runs the check named by the {name} path value.
func SingleCheckHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		result, err := agg.Check(ctx, r.PathValue("name"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, statusCode(result.Status), toCheckResponse(result))
	}
}

// RegisterHandlers registers the health endpoints on mux:
//
//	GET /health, /ok, /healthz   liveness, {"status":"ok"}
//	GET /readyz                  every check, 503 when unhealthy
//	GET /readyz/{name}           one check
func RegisterHandlers(mux *http.ServeMux, agg *Aggregator) {
	ok := OKHandler()
	mux.HandleFunc("GET /health", ok)
	mux.HandleFunc("GET /ok", ok)
	mux.HandleFunc("GET /healthz", ok)
	mux.HandleFunc("GET /readyz", ReadinessHandler(agg))
	mux.HandleFunc("GET /readyz/{name}", SingleCheckHandler(agg))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
