package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"github.com/jonwraymond/tooldelegate/observe"
)

// ErrUnknownServer is returned for a tool server that is not configured.
var ErrUnknownServer = errors.New("agent: unknown tool server")

// Toolbox opens MCP sessions to the tool servers of one invocation. Every
// session authenticates with the token from the invocation's token source.
// A Toolbox is used by one invocation and closed when it ends.
type Toolbox struct {
	servers map[string]string
	source  oauth2.TokenSource
	info    mcp.Implementation
	logger  observe.Logger

	mu      sync.Mutex
	clients map[string]*mcp.Client
}

func newToolbox(servers map[string]string, source oauth2.TokenSource, info mcp.Implementation, logger observe.Logger) *Toolbox {
	return &Toolbox{
		servers: servers,
		source:  source,
		info:    info,
		logger:  observe.LoggerOrNop(logger),
		clients: make(map[string]*mcp.Client),
	}
}

// Servers returns the configured tool server names, sorted.
func (t *Toolbox) Servers() []string {
	return slices.Sorted(maps.Keys(t.servers))
}

// ListTools returns the names of the tools a server offers.
func (t *Toolbox) ListTools(ctx context.Context, server string) ([]string, error) {
	c, err := t.client(ctx, server)
	if err != nil {
		return nil, err
	}
	res, err := c.ListTools(ctx, &mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("agent: list tools on %s: %w", server, err)
	}
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

// Call runs one tool call. Failures are reported in the Output.
func (t *Toolbox) Call(ctx context.Context, call ToolCall) Output {
	out := Output{Tool: call.Name, Server: call.Server}

	c, err := t.client(ctx, call.Server)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	res, err := c.CallTool(ctx, &mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: call.Name, Arguments: call.Arguments},
	})
	if err != nil {
		out.Error = fmt.Sprintf("call %s: %v", call.Name, err)
		t.logger.Warn(ctx, "tool call failed",
			observe.Field{Key: "server", Value: call.Server},
			observe.Field{Key: "tool", Value: call.Name},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return out
	}

	text := resultText(res)
	if res.IsError {
		out.Error = errorMessage(text)
		return out
	}
	if json.Valid([]byte(text)) {
		out.Result = json.RawMessage(text)
	} else {
		out.Result, _ = json.Marshal(text)
	}
	return out
}

// Close ends every open session.
func (t *Toolbox) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for name, c := range t.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(t.clients, name)
	}
	return errors.Join(errs...)
}

func (t *Toolbox) client(ctx context.Context, server string) (*mcp.Client, error) {
	url, ok := t.servers[server]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, server)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[server]; ok {
		return c, nil
	}

	tok, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("agent: session token: %w", err)
	}
	headers := make(http.Header)
	headers.Set("Authorization", tok.Type()+" "+tok.AccessToken)

	c, err := mcp.NewClient(url, t.info, mcp.WithHTTPHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("agent: connect %s: %w", server, err)
	}
	if _, err := c.Initialize(ctx, &mcp.InitializeRequest{}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("agent: initialize %s: %w", server, err)
	}
	t.clients[server] = c
	return c, nil
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// errorMessage unwraps {"error":"<msg>"} tool results.
func errorMessage(text string) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(text), &body); err == nil && body.Error != "" {
		return body.Error
	}
	return text
}
