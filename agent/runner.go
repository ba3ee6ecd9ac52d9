package agent

import (
	"context"
	"encoding/json"
)

// Message is one chat message of an invocation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall names one tool on one tool server.
type ToolCall struct {
	Server    string         `json:"server"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Request is the body of POST /invoke.
type Request struct {
	Messages  []Message  `json:"messages"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Output is the outcome of one tool call. Exactly one of Result and Error
// is set.
type Output struct {
	Tool   string          `json:"tool"`
	Server string          `json:"server"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Response is the body of a successful POST /invoke.
type Response struct {
	Output    []Output `json:"output"`
	RequestID string   `json:"request_id"`
}

// Runner answers an invocation using the tools reachable through tools.
// Tool failures belong in the outputs; a returned error fails the whole
// invocation.
type Runner interface {
	Run(ctx context.Context, req *Request, tools *Toolbox) ([]Output, error)
}

// RunnerFunc is an adapter to allow use of ordinary functions as Runners.
type RunnerFunc func(ctx context.Context, req *Request, tools *Toolbox) ([]Output, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req *Request, tools *Toolbox) ([]Output, error) {
	return f(ctx, req, tools)
}

// DirectRunner executes the request's tool calls in order.
type DirectRunner struct{}

// Run implements Runner.
func (DirectRunner) Run(ctx context.Context, req *Request, tools *Toolbox) ([]Output, error) {
	out := make([]Output, 0, len(req.ToolCalls))
	for _, call := range req.ToolCalls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, tools.Call(ctx, call))
	}
	return out, nil
}
