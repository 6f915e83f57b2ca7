package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/api"
	"github.com/agendaautomatizada/whatsapp/internal/clock"
	"github.com/agendaautomatizada/whatsapp/internal/uuidv7"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	headerCorrelationID = "X-Correlation-Id"
)

// Client talks to a livechat lease gateway.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	httpTimeout time.Duration
	logger      pslog.Base
	clk         clock.Clock
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithLogger attaches a logger. Defaults to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithHTTPTimeout bounds each request round trip.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// WithClock overrides the time source used by the client and any
// SessionMonitor built on it. Intended for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clk = clk
		}
	}
}

// New creates a client targeting baseURL (e.g. https://livechat.example:8784).
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	c := &Client{
		baseURL:     trimmed,
		httpClient:  &http.Client{},
		httpTimeout: defaultHTTPTimeout,
		logger:      pslog.NoopLogger(),
		clk:         clock.Real{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lock forwards a lock action for sessionID. ttlHours 0 omits the field
// so the gateway and operator defaults decide.
func (c *Client) Lock(ctx context.Context, sessionID string, ttlHours int) error {
	_, err := c.Lease(ctx, api.LeaseRequest{SessionID: sessionID, Action: api.ActionLock, TTLHours: optionalTTL(ttlHours)})
	return err
}

// Unlock forwards an unlock action for sessionID.
func (c *Client) Unlock(ctx context.Context, sessionID string) error {
	_, err := c.Lease(ctx, api.LeaseRequest{SessionID: sessionID, Action: api.ActionUnlock})
	return err
}

// Extend forwards an extend action for sessionID. ttlHours 0 omits the
// field so the gateway and operator defaults decide.
func (c *Client) Extend(ctx context.Context, sessionID string, ttlHours int) error {
	_, err := c.Lease(ctx, api.LeaseRequest{SessionID: sessionID, Action: api.ActionExtend, TTLHours: optionalTTL(ttlHours)})
	return err
}

// optionalTTL maps the convenience-method zero value to an absent
// ttlHours field. An explicit zero on the wire is rejected by the
// gateway, so the typed methods treat it as "use defaults".
func optionalTTL(hours int) *int {
	if hours == 0 {
		return nil
	}
	return api.TTL(hours)
}

// Lease submits a raw lease action and returns the automation engine's
// response body verbatim, as relayed by the gateway.
func (c *Client) Lease(ctx context.Context, req api.LeaseRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.postJSON(ctx, "/v1/lease", req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Status performs the reconciliation read for sessionID and returns the
// authoritative route and expiry.
func (c *Client) Status(ctx context.Context, sessionID string) (api.LeaseStatus, error) {
	var st api.LeaseStatus
	err := c.postJSON(ctx, "/v1/lease/status", api.LeaseRequest{SessionID: sessionID}, &st)
	if err != nil {
		return api.LeaseStatus{}, err
	}
	return st, nil
}

// SendMessage relays an outbound text message through the gateway.
func (c *Client) SendMessage(ctx context.Context, req api.SendMessageRequest) (api.SendMessageResponse, error) {
	var resp api.SendMessageResponse
	if err := c.postJSON(ctx, "/v1/message/send", req, &resp); err != nil {
		return api.SendMessageResponse{}, err
	}
	return resp, nil
}

// Features lists the authenticated operator's feature flags.
func (c *Client) Features(ctx context.Context) ([]api.FeatureFlag, error) {
	var resp api.FeatureFlags
	if err := c.getJSON(ctx, "/v1/feature", &resp); err != nil {
		return nil, err
	}
	return resp.Flags, nil
}

// SetFeature toggles a feature flag. Requires an admin token. Empty
// operatorID targets the caller's own operator.
func (c *Client) SetFeature(ctx context.Context, operatorID, name string, enabled bool) (api.FeatureFlag, error) {
	payload := struct {
		OperatorID string `json:"operator_id,omitempty"`
		Name       string `json:"name"`
		Enabled    bool   `json:"enabled"`
	}{OperatorID: operatorID, Name: name, Enabled: enabled}
	var flag api.FeatureFlag
	if err := c.postJSON(ctx, "/v1/admin/feature", payload, &flag); err != nil {
		return api.FeatureFlag{}, err
	}
	return flag, nil
}

// APIError describes an error response from the gateway.
type APIError struct {
	// Status is the HTTP status code returned by the gateway.
	Status int
	// Response is the decoded error envelope, when available.
	Response api.ErrorResponse
	// Body contains the raw response body bytes for additional diagnostics.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Response.Error != "" {
		if e.Response.Details != "" {
			return fmt.Sprintf("livechat: %s (%s)", e.Response.Error, e.Response.Details)
		}
		return fmt.Sprintf("livechat: %s", e.Response.Error)
	}
	return fmt.Sprintf("livechat: status %d", e.Status)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return err
		}
		body = buf
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set(headerCorrelationID, uuidv7.NewString())
	c.logger.Trace("client.http.request", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("livechat: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("livechat: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Body: data}
		_ = json.Unmarshal(data, &apiErr.Response)
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("livechat: decode response: %w", err)
	}
	return nil
}
