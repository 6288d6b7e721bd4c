package clients

import (
	"context"
	"net/http"
)

// Caller identifies the end user a request is forwarded for.
type Caller struct {
	UserID string
	Role   string
}

func (c Caller) headers() map[string]string {
	h := map[string]string{"X-User-ID": c.UserID}
	if c.Role != "" {
		h["X-User-Role"] = c.Role
	}
	return h
}

// CreditsClient proxies requests to credits-service.
type CreditsClient struct {
	base *BaseClient
}

// NewCreditsClient returns client instance.
func NewCreditsClient(baseURL string, httpClient HTTPDoer) *CreditsClient {
	return &CreditsClient{base: NewBaseClient(baseURL, httpClient)}
}

// Get forwards a GET to path, which may carry a query string.
func (c *CreditsClient) Get(ctx context.Context, path string, caller Caller) (int, []byte, error) {
	return c.base.Do(ctx, http.MethodGet, path, nil, caller.headers())
}

// Post forwards a JSON body to path.
func (c *CreditsClient) Post(ctx context.Context, path string, body []byte, caller Caller) (int, []byte, error) {
	if len(body) == 0 {
		body = []byte("{}")
	}
	return c.base.Do(ctx, http.MethodPost, path, body, caller.headers())
}
