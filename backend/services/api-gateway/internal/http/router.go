package httpserver

import (
	"net/http"

	"storyforge/backend/services/api-gateway/internal/http/handlers"
	"storyforge/backend/services/api-gateway/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	CreditsHandlers *handlers.CreditsHandlers
	EventsProxy     http.Handler
	HealthHandler   http.HandlerFunc
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.HealthHandler))

	authenticated := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, authMiddleware)
	}

	credits := deps.CreditsHandlers
	mux.Handle("/api/credits/status", method(http.MethodGet, authenticated(credits.Status)))
	mux.Handle("/api/credits/transactions", method(http.MethodGet, authenticated(credits.Transactions)))
	mux.Handle("/api/credits/ensure", method(http.MethodPost, authenticated(credits.Ensure)))
	mux.Handle("/api/credits/reserve", method(http.MethodPost, authenticated(credits.Reserve)))
	mux.Handle("/api/credits/commit", method(http.MethodPost, authenticated(credits.Commit)))
	mux.Handle("/api/credits/release", method(http.MethodPost, authenticated(credits.Release)))
	mux.Handle("/api/credits/refund", method(http.MethodPost, authenticated(credits.Refund)))
	mux.Handle("/api/credits/reconcile", method(http.MethodPost, authenticated(credits.Reconcile)))
	mux.Handle("/api/admin/credits/bonus", method(http.MethodPost, authenticated(credits.AdminBonus)))

	if deps.EventsProxy != nil {
		mux.Handle("/api/credits/ws", method(http.MethodGet, middleware.Chain(deps.EventsProxy, authMiddleware)))
	}

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
