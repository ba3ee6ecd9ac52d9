package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/broker"
	"github.com/jonwraymond/tooldelegate/health"
	"github.com/jonwraymond/tooldelegate/observe"
)

// maxBodyBytes bounds the body of POST /invoke.
const maxBodyBytes = 1 << 20

// Broker exchanges the caller's token for a session token. *broker.Broker
// implements it.
type Broker interface {
	TokenSource(ctx context.Context, subjectToken, role string) oauth2.TokenSource
}

// Config configures a Server.
type Config struct {
	// Title is reported by GET /.
	Title string

	// Version identifies the agent to tool servers.
	Version string

	// Broker issues session tokens. Required.
	Broker Broker

	// Role is the delegation role requested from the broker. Required.
	Role string

	// UserVerifier, when set, verifies the caller's token before the
	// exchange. Nil forwards the token to the broker unchecked.
	UserVerifier auth.Verifier

	// ToolServers maps tool server names to MCP endpoint URLs.
	ToolServers map[string]string

	// Runner answers invocations. Default: DirectRunner
	Runner Runner

	// Health, when set, is served at /health, /ok, /healthz and /readyz.
	// Without it /health and /ok still answer {"status":"ok"}.
	Health *health.Aggregator

	Logger  observe.Logger
	Metrics observe.Metrics
}

// Server is the agent HTTP API.
type Server struct {
	config  Config
	logger  observe.Logger
	metrics observe.Metrics
	handler http.Handler
}

// NewServer creates a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Broker == nil {
		return nil, errors.New("agent: broker is required")
	}
	if cfg.Role == "" {
		return nil, errors.New("agent: role is required")
	}
	if cfg.Title == "" {
		cfg.Title = "Agent API"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Runner == nil {
		cfg.Runner = DirectRunner{}
	}

	s := &Server{
		config:  cfg,
		logger:  observe.LoggerOrNop(cfg.Logger),
		metrics: observe.MetricsOrNop(cfg.Metrics),
	}

	bearer := &auth.BearerMiddleware{
		Verifier: cfg.UserVerifier,
		OnReject: func(r *http.Request, err error) {
			reason := string(auth.ReasonOf(err))
			s.metrics.RecordVerification(r.Context(), reason)
			s.logger.Warn(r.Context(), "invoke rejected",
				observe.Field{Key: "reason", Value: reason},
				observe.Field{Key: "error", Value: err.Error()},
			)
		},
	}

	mux := http.NewServeMux()
	mux.Handle("POST /invoke", bearer.Wrap(http.HandlerFunc(s.invoke)))
	mux.HandleFunc("GET /{$}", s.root)
	if cfg.Health != nil {
		health.RegisterHandlers(mux, cfg.Health)
	} else {
		mux.Handle("GET /health", health.OKHandler())
		mux.Handle("GET /ok", health.OKHandler())
	}
	s.handler = mux
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": s.config.Title, "status": "running"})
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	logger := s.logger.With(
		observe.Field{Key: "request_id", Value: requestID},
		observe.Field{Key: "subject", Value: auth.SubjectFromContext(ctx)},
	)

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid request body: %v", err),
			"type":  "BadRequest",
		})
		return
	}

	source := oauth2.ReuseTokenSource(nil, s.config.Broker.TokenSource(ctx, auth.BearerFromContext(ctx), s.config.Role))
	if _, err := source.Token(); err != nil {
		s.writeExchangeError(ctx, w, logger, err)
		return
	}

	tools := newToolbox(s.config.ToolServers, source,
		mcp.Implementation{Name: s.config.Title, Version: s.config.Version}, logger)
	defer func() {
		if err := tools.Close(); err != nil {
			logger.Warn(ctx, "closing tool sessions", observe.Field{Key: "error", Value: err.Error()})
		}
	}()

	logger.Info(ctx, "invoke",
		observe.Field{Key: "messages", Value: len(req.Messages)},
		observe.Field{Key: "tool_calls", Value: len(req.ToolCalls)},
	)

	out, err := s.config.Runner.Run(ctx, &req, tools)
	if err != nil {
		logger.Error(ctx, "invoke failed", observe.Field{Key: "error", Value: err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
			"type":  errorType(err),
		})
		return
	}
	if out == nil {
		out = []Output{}
	}
	writeJSON(w, http.StatusOK, Response{Output: out, RequestID: requestID})
}

func (s *Server) writeExchangeError(ctx context.Context, w http.ResponseWriter, logger observe.Logger, err error) {
	var berr *broker.Error
	if errors.As(err, &berr) {
		logger.Error(ctx, "session token exchange failed",
			observe.Field{Key: "reason", Value: string(berr.Reason)},
			observe.Field{Key: "error", Value: err.Error()},
		)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  err.Error(),
			"type":   "BrokerError",
			"reason": string(berr.Reason),
		})
		return
	}

	logger.Error(ctx, "session token exchange failed", observe.Field{Key: "error", Value: err.Error()})
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": err.Error(),
		"type":  errorType(err),
	})
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, broker.ErrClosed), errors.Is(err, broker.ErrInvalidRequest):
		return "BrokerError"
	default:
		return "InternalError"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
