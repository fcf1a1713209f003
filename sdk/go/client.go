package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"adgate/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the adgate HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// RecordEngagement counts one interaction and returns the new total.
func (c *Client) RecordEngagement(ctx context.Context) (int64, error) {
	var body struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, "/engagements", nil, &body); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// RequestReward asks the gate to unlock content. It blocks while an ad is on
// screen; a server-side timeout surfaces as ErrDecisionPending.
func (c *Client) RequestReward(ctx context.Context) (core.GateDecision, error) {
	var d core.GateDecision
	if err := c.do(ctx, http.MethodPost, "/rewards", nil, &d); err != nil {
		return core.GateDecision{}, err
	}
	return d, nil
}

// SetAdsEnabled stores the ads preference and returns the value now in effect.
func (c *Client) SetAdsEnabled(ctx context.Context, enabled bool) (bool, error) {
	q := url.Values{"enabled": {strconv.FormatBool(enabled)}}
	var body struct {
		AdsEnabled bool `json:"ads_enabled"`
	}
	if err := c.do(ctx, http.MethodPut, "/preferences/ads-enabled", q, &body); err != nil {
		return false, err
	}
	return body.AdsEnabled, nil
}

// GetState fetches the preference, engagement count and ad slot.
func (c *Client) GetState(ctx context.Context) (State, error) {
	var st State
	if err := c.do(ctx, http.MethodGet, "/state", nil, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Health probes /healthz. An unhealthy server yields its status together with
// a 503 APIError.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	var hs HealthStatus
	if resp.StatusCode == http.StatusServiceUnavailable {
		if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
			return HealthStatus{}, err
		}
		return hs, &APIError{Status: resp.StatusCode, Code: "unhealthy", Message: hs.Status}
	}
	if err := decodeJSON(resp, &hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values,
// optionally narrowed to the given types. The returned channel closes when ctx
// is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, types ...core.EventType) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		target += "?" + url.Values{"types": {strings.Join(names, ",")}}.Encode()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, target any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
