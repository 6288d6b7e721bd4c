package app

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"storyforge/backend/libs/auth"
	"storyforge/backend/libs/logging"
	"storyforge/backend/services/api-gateway/internal/clients"
	"storyforge/backend/services/api-gateway/internal/config"
	httpserver "storyforge/backend/services/api-gateway/internal/http"
	"storyforge/backend/services/api-gateway/internal/http/handlers"
	"storyforge/backend/services/api-gateway/internal/http/middleware"
)

// App wires API gateway dependencies.
type App struct {
	server     *httpserver.Server
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	httpClient := clients.NewDefaultHTTPClient(cfg.HTTPTimeout())
	creditsClient := clients.NewCreditsClient(cfg.Services.CreditsURL, httpClient)

	eventsProxy, err := handlers.NewEventsProxy(cfg.Services.CreditsURL, logger)
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokenService(cfg.JWT.Secret, time.Hour)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		CreditsHandlers: handlers.NewCreditsHandlers(creditsClient, logger),
		EventsProxy:     eventsProxy,
		HealthHandler:   handlers.NewHealthHandler(),
	}, middleware.AuthMiddleware(tokens))

	writeTimeout, shutdownTimeout := cfg.ServerTimeouts()
	server := httpserver.NewServer(router, logger, httpserver.ServerOptions{
		Addr:            cfg.HTTPAddress(),
		WriteTimeout:    writeTimeout,
		ShutdownTimeout: shutdownTimeout,
		Middlewares: []func(http.Handler) http.Handler{
			chimw.RequestID,
			logging.RecoveryMiddleware(logger),
			logging.LoggingMiddleware(logger),
		},
	})

	return &App{
		server:     server,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Run starts serving HTTP traffic.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close drops idle upstream connections to the credits service.
func (a *App) Close() {
	a.httpClient.CloseIdleConnections()
}
