package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultDelegateMount is the trust-service mount that issues delegated
// session tokens.
const DefaultDelegateMount = "identity-delegation"

// maxResponseBytes bounds how much of a trust-service response is read.
const maxResponseBytes = 1 << 20

// Delegation is a session token issued by the trust service.
type Delegation struct {
	Token string

	// TTL is the lifetime the trust service reported, or 0 when it did not
	// report one.
	TTL time.Duration
}

// Delegator exchanges a subject token for a delegated session token.
type Delegator interface {
	Delegate(ctx context.Context, role, subjectToken string) (Delegation, error)
}

// ClientConfig configures a trust-service Client.
type ClientConfig struct {
	// Addr is the trust-service base address, e.g. "https://trust:8200".
	Addr string

	// Auth is how the client logs in.
	Auth AuthMethod

	// DelegateMount defaults to DefaultDelegateMount.
	DelegateMount string

	// HTTPClient defaults to a client without its own timeout; callers
	// bound requests through ctx.
	HTTPClient *http.Client

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// Client talks to the trust service. It logs in lazily, keeps the client
// token until its lease runs out, and forgets it when the trust service
// answers 403 so the next call logs in again.
type Client struct {
	config ClientConfig

	mu          sync.Mutex
	clientToken string
	expiresAt   time.Time

	login singleflight.Group
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.Addr) == "" {
		return nil, errors.New("broker: trust service address is required")
	}
	if config.Auth == nil {
		return nil, errors.New("broker: auth method is required")
	}
	config.Addr = strings.TrimRight(config.Addr, "/")
	config.DelegateMount = mountOr(config.DelegateMount, DefaultDelegateMount)
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Client{config: config}, nil
}

// Addr returns the trust-service base address.
func (c *Client) Addr() string {
	return c.config.Addr
}

// Delegate requests a session token for subjectToken under role.
//
// The request is sent once. A 403 answered to a cached client token drops
// that token so the next call logs in again; the call itself fails as
// denied.
func (c *Client) Delegate(ctx context.Context, role, subjectToken string) (Delegation, error) {
	body := map[string]string{"role": role, "subject_token": subjectToken}
	path := "/v1/" + c.config.DelegateMount + "/delegate"

	token, fresh, err := c.currentToken(ctx)
	if err != nil {
		return Delegation{}, err
	}

	var out delegateResponse
	status, err := c.post(ctx, "delegate", path, token, body, &out)
	if err != nil {
		if status == http.StatusForbidden && !fresh {
			c.dropClientToken(token)
		}
		return Delegation{}, err
	}

	if out.Data.Token == "" {
		return Delegation{}, malformed("delegate", errors.New("response has no data.token"))
	}
	return Delegation{
		Token: out.Data.Token,
		TTL:   time.Duration(out.Data.TTL) * time.Second,
	}, nil
}

// ClientToken returns the current client token, logging in when there is
// none or its lease has expired. Concurrent logins are coalesced.
func (c *Client) ClientToken(ctx context.Context) (string, error) {
	token, _, err := c.currentToken(ctx)
	return token, err
}

// currentToken also reports whether the token came from a login made during
// this call.
func (c *Client) currentToken(ctx context.Context) (string, bool, error) {
	c.mu.Lock()
	token, expiresAt := c.clientToken, c.expiresAt
	c.mu.Unlock()
	if token != "" && (expiresAt.IsZero() || c.config.Now().Before(expiresAt)) {
		return token, false, nil
	}

	ch := c.login.DoChan("login", func() (any, error) {
		return c.doLogin(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		return res.Val.(string), true, nil
	case <-ctx.Done():
		return "", false, unreachable("login", ctx.Err())
	}
}

// Health reports whether the trust service answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Addr+"/v1/sys/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return unreachable("health", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= http.StatusInternalServerError {
		return &Error{Reason: ReasonUpstreamUnreachable, Op: "health", Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) doLogin(ctx context.Context) (string, error) {
	body, err := c.config.Auth.loginBody()
	if err != nil {
		return "", &Error{Reason: ReasonDenied, Op: "login", Err: err}
	}

	var out loginResponse
	path := "/v1/auth/" + c.config.Auth.mount() + "/login"
	if _, err := c.post(ctx, "login", path, "", body, &out); err != nil {
		return "", err
	}
	if out.Auth.ClientToken == "" {
		return "", malformed("login", errors.New("response has no auth.client_token"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientToken = out.Auth.ClientToken
	c.expiresAt = time.Time{}
	if out.Auth.LeaseDuration > 0 {
		c.expiresAt = c.config.Now().Add(time.Duration(out.Auth.LeaseDuration) * time.Second)
	}
	return c.clientToken, nil
}

// dropClientToken forgets token unless another caller already replaced it.
func (c *Client) dropClientToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clientToken == token {
		c.clientToken = ""
		c.expiresAt = time.Time{}
	}
}

// post sends a JSON request and decodes a 2xx JSON response into out. It
// returns the response status alongside any error.
func (c *Client) post(ctx context.Context, op, path, clientToken string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("broker: encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Addr+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("broker: create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if clientToken != "" {
		req.Header.Set("X-Vault-Token", clientToken)
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return 0, unreachable(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, unreachable(op, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, &Error{Reason: ReasonUpstreamUnreachable, Op: op, Status: resp.StatusCode, Err: upstreamMessage(data)}
	case resp.StatusCode >= http.StatusBadRequest:
		return resp.StatusCode, &Error{Reason: ReasonDenied, Op: op, Status: resp.StatusCode, Err: upstreamMessage(data)}
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return resp.StatusCode, &Error{Reason: ReasonMalformedResponse, Op: op, Status: resp.StatusCode}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, malformed(op, err)
	}
	return resp.StatusCode, nil
}

// upstreamMessage extracts {"errors":[...]} from an error response.
func upstreamMessage(data []byte) error {
	var body struct {
		Errors []string `json:"errors"`
	}
	if json.Unmarshal(data, &body) == nil && len(body.Errors) > 0 {
		return errors.New(strings.Join(body.Errors, "; "))
	}
	return nil
}

type delegateResponse struct {
	Data struct {
		Token string `json:"token"`
		TTL   int64  `json:"ttl"`
	} `json:"data"`
}

type loginResponse struct {
	Auth struct {
		ClientToken   string `json:"client_token"`
		LeaseDuration int64  `json:"lease_duration"`
	} `json:"auth"`
}

var _ Delegator = (*Client)(nil)
