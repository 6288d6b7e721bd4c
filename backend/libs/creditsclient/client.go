package creditsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client calls credits-service on behalf of users. It talks to the internal
// endpoints and forwards the user id as a trusted header.
type Client struct {
	baseURL     string
	http        HTTPDoer
	serviceName string
	serviceKey  string
}

// Option customises a Client.
type Option func(*Client)

// WithServiceKey authenticates admin calls with a shared service key.
func WithServiceKey(name, key string) Option {
	return func(c *Client) {
		c.serviceName = name
		c.serviceKey = key
	}
}

// New builds a client. A nil doer uses an http.Client with a 10s timeout.
func New(baseURL string, doer HTTPDoer, opts ...Option) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ensure creates the user's account if needed and returns its status.
func (c *Client) Ensure(ctx context.Context, userID string) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodPost, "/credits/ensure", userID, nil, &out)
	return out, err
}

// Status returns the user's balance.
func (c *Client) Status(ctx context.Context, userID string) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/credits/status", userID, nil, &out)
	return out, err
}

// Reserve holds credits for a request. On insufficient credits the returned
// Result still carries the remaining balances.
func (c *Client) Reserve(ctx context.Context, userID string, req ReserveRequest) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodPost, "/credits/reserve", userID, req, &out)
	return out, err
}

// Commit consumes a reservation.
func (c *Client) Commit(ctx context.Context, userID string, req SettleRequest) (Result, error) {
	return c.settle(ctx, "/credits/commit", userID, req)
}

// Release returns a reservation to the pools.
func (c *Client) Release(ctx context.Context, userID string, req SettleRequest) (Result, error) {
	return c.settle(ctx, "/credits/release", userID, req)
}

// Refund reverses a committed request.
func (c *Client) Refund(ctx context.Context, userID string, req SettleRequest) (Result, error) {
	return c.settle(ctx, "/credits/refund", userID, req)
}

// Reconcile settles a request in an unknown state.
func (c *Client) Reconcile(ctx context.Context, userID string, req SettleRequest) (Result, error) {
	return c.settle(ctx, "/credits/reconcile", userID, req)
}

// Transactions lists the user's most recent ledger entries.
func (c *Client) Transactions(ctx context.Context, userID string, limit int) ([]json.RawMessage, error) {
	path := "/credits/transactions"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	err := c.do(ctx, http.MethodGet, path, userID, nil, &out)
	return out.Transactions, err
}

// AdjustBonus changes a user's bonus pool. Requires WithServiceKey.
func (c *Client) AdjustBonus(ctx context.Context, req AdjustRequest) (AdjustResult, error) {
	var out AdjustResult
	err := c.do(ctx, http.MethodPost, "/admin/credits/bonus", "", req, &out)
	return out, err
}

func (c *Client) settle(ctx context.Context, path, userID string, req SettleRequest) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodPost, path, userID, req, &out)
	return out, err
}

// do sends body as JSON and decodes the response into out, including on
// business failures so partial results stay visible.
func (c *Client) do(ctx context.Context, method, path, userID string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("credits: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("credits: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if c.serviceKey != "" {
		req.Header.Set("X-Service-Key", c.serviceKey)
		req.Header.Set("X-Service-Name", c.serviceName)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	var envelope struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return &Error{StatusCode: resp.StatusCode, Reason: "malformed_response"}
		}
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
	}
	if resp.StatusCode >= 300 {
		reason := envelope.Reason
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return &Error{StatusCode: resp.StatusCode, Reason: reason}
	}
	return nil
}
