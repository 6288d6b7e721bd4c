package handlers

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.uber.org/zap"

	"storyforge/backend/services/api-gateway/internal/http/middleware"
)

// NewEventsProxy returns GET /api/credits/ws handler. It forwards the
// websocket upgrade to credits-service with the caller's identity headers.
func NewEventsProxy(creditsURL string, logger *zap.Logger) (http.Handler, error) {
	target, err := url.Parse(creditsURL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("handlers: invalid credits url %q", creditsURL)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = joinPath(target.Path, "/credits/ws")
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = ""
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("X-User-ID")
			pr.Out.Header.Del("X-User-Role")
			if user, ok := middleware.UserFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set("X-User-ID", user.ID)
				if user.Role != "" {
					pr.Out.Header.Set("X-User-Role", user.Role)
				}
			}
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("events proxy failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "configuration_error")
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.UserFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		// Streams outlive the server's read and write timeouts.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})
		proxy.ServeHTTP(w, r)
	}), nil
}

func joinPath(base, suffix string) string {
	if base == "" || base == "/" {
		return suffix
	}
	if base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + suffix
}
