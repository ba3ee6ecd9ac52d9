package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"github.com/jonwraymond/tooldelegate/auth"
	"github.com/jonwraymond/tooldelegate/health"
	"github.com/jonwraymond/tooldelegate/observe"
)

// DefaultPath is the MCP endpoint path.
const DefaultPath = "/mcp"

// Tool is an MCP tool guarded by a capability.
type Tool struct {
	// Definition is the MCP tool definition; its Name identifies the tool.
	Definition *mcp.Tool

	// Capability is the capability a caller needs, e.g. "read:customers".
	Capability string

	// Handler runs authorized calls.
	Handler Handler
}

// Config configures a Server.
type Config struct {
	// Name and Version identify the server to MCP clients.
	Name    string
	Version string

	// Path is the MCP endpoint path. Default: /mcp
	Path string

	// Verifier checks bearer tokens. Required.
	Verifier auth.Verifier

	// Health, when set, is served at /health, /ok, /healthz and /readyz.
	Health *health.Aggregator

	Logger  observe.Logger
	Metrics observe.Metrics
	Tracer  observe.Tracer
}

// Server hosts guarded tools on one MCP endpoint.
type Server struct {
	config Config
	logger observe.Logger
	guard  Guard
	exec   *observe.Middleware
	mcp    *mcp.Server

	mu    sync.Mutex
	tools []string

	handler http.Handler
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("toolserver: verifier is required")
	}
	if cfg.Name == "" {
		cfg.Name = "tooldelegate"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	s := &Server{
		config: cfg,
		logger: observe.LoggerOrNop(cfg.Logger),
		guard:  Guard{Logger: cfg.Logger, Metrics: cfg.Metrics},
		exec: observe.NewMiddleware(cfg.Tracer, cfg.Metrics, cfg.Logger).
			WithContextFields(func(ctx context.Context) []observe.Field {
				return []observe.Field{{Key: "subject", Value: auth.SubjectFromContext(ctx)}}
			}),
	}

	s.mcp = mcp.NewServer(cfg.Name, cfg.Version,
		mcp.WithServerPath(cfg.Path),
		mcp.WithHTTPContextFunc(carryAuth),
	)

	metrics := observe.MetricsOrNop(cfg.Metrics)
	bearer := &auth.BearerMiddleware{
		Verifier: cfg.Verifier,
		OnReject: func(r *http.Request, err error) {
			reason := string(auth.ReasonOf(err))
			metrics.RecordVerification(r.Context(), reason)
			s.logger.Warn(r.Context(), "bearer token rejected",
				observe.Field{Key: "reason", Value: reason},
				observe.Field{Key: "error", Value: err.Error()},
			)
		},
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, bearer.Wrap(s.mcp.HTTPHandler()))
	if cfg.Health != nil {
		health.RegisterHandlers(mux, cfg.Health)
	}
	s.handler = mux
	return s, nil
}

// carryAuth moves the claims and bearer token placed on the request by the
// bearer middleware onto the MCP call context.
func carryAuth(ctx context.Context, r *http.Request) context.Context {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		ctx = auth.WithClaims(ctx, claims)
	}
	if token := auth.BearerFromContext(r.Context()); token != "" {
		ctx = auth.WithBearer(ctx, token)
	}
	return ctx
}

// Register adds tools to the server.
func (s *Server) Register(tools ...Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tools {
		if t.Definition == nil || t.Definition.Name == "" || t.Capability == "" || t.Handler == nil {
			return ErrInvalidTool
		}
		name := t.Definition.Name
		if slices.Contains(s.tools, name) {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}

		meta := observe.ToolMeta{
			Namespace:  s.config.Name,
			Name:       name,
			Version:    s.config.Version,
			Capability: t.Capability,
		}
		guarded := s.guard.Wrap(name, t.Capability, t.Handler)
		exec := s.exec.Wrap(func(ctx context.Context, _ observe.ToolMeta, input any) (any, error) {
			args, _ := input.(Args)
			return guarded(ctx, args)
		})

		s.mcp.RegisterTool(t.Definition, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			out, err := exec(ctx, meta, Args(req.Params.Arguments))
			if err != nil {
				return ErrorResult(err.Error()), nil
			}
			return TextResult(out)
		})
		s.tools = append(s.tools, name)
	}
	return nil
}

// Tools returns the registered tool names in registration order.
func (s *Server) Tools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tools)
}

// Handler returns the HTTP handler serving the MCP endpoint and, when
// configured, the health endpoints.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Path returns the MCP endpoint path.
func (s *Server) Path() string {
	return s.config.Path
}

// TextResult encodes v as the JSON text of a successful tool result.
func TextResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewTextResult(string(body)), nil
}

// ErrorResult returns a tool result whose text is {"error":"<msg>"} with
// IsError set.
func ErrorResult(msg string) *mcp.CallToolResult {
	body, _ := json.Marshal(map[string]string{"error": msg})
	res := mcp.NewTextResult(string(body))
	res.IsError = true
	return res
}
