package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"storyforge/backend/libs/logging"
	"storyforge/backend/services/credits-service/internal/http/middleware"
)

// Routes groups HTTP handlers.
type Routes struct {
	Ensure       http.HandlerFunc
	Status       http.HandlerFunc
	Reserve      http.HandlerFunc
	Commit       http.HandlerFunc
	Release      http.HandlerFunc
	Refund       http.HandlerFunc
	Reconcile    http.HandlerFunc
	Transactions http.HandlerFunc
	AdminBonus   http.HandlerFunc
	AdminReset   http.HandlerFunc
	Events       http.HandlerFunc
	Health       http.HandlerFunc
	Metrics      http.Handler
}

// NewRouter registers service endpoints. Identity resolution runs on every
// route; /credits requires a user id.
func NewRouter(routes Routes, serviceKeyHash string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP)
	r.Use(logging.RecoveryMiddleware(logger), logging.LoggingMiddleware(logger))
	r.Use(middleware.IdentityMiddleware(serviceKeyHash, logger))

	if routes.Health != nil {
		r.Get("/health", routes.Health)
	}
	if routes.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", routes.Metrics)
	}

	r.Route("/credits", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		post(r, "/ensure", routes.Ensure)
		post(r, "/reserve", routes.Reserve)
		post(r, "/commit", routes.Commit)
		post(r, "/release", routes.Release)
		post(r, "/refund", routes.Refund)
		post(r, "/reconcile", routes.Reconcile)
		get(r, "/status", routes.Status)
		get(r, "/transactions", routes.Transactions)
		get(r, "/ws", routes.Events)
	})

	r.Route("/admin/credits", func(r chi.Router) {
		post(r, "/bonus", routes.AdminBonus)
		post(r, "/reset-cycle", routes.AdminReset)
	})

	return r
}

func post(r chi.Router, pattern string, h http.HandlerFunc) {
	if h != nil {
		r.Post(pattern, h)
	}
}

func get(r chi.Router, pattern string, h http.HandlerFunc) {
	if h != nil {
		r.Get(pattern, h)
	}
}
