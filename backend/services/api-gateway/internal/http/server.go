package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ServerOptions tunes the gateway listener.
type ServerOptions struct {
	Addr            string
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Middlewares wrap the handler outermost first.
	Middlewares []func(http.Handler) http.Handler
}

// Server fronts the credits routes and the events proxy.
type Server struct {
	server   *http.Server
	logger   *zap.Logger
	shutdown time.Duration
}

// NewServer builds the gateway listener. Read timeouts stay fixed; the write
// timeout only governs plain API calls since upgraded event streams clear it.
func NewServer(handler http.Handler, logger *zap.Logger, opts ServerOptions) *Server {
	h := handler
	for i := len(opts.Middlewares) - 1; i >= 0; i-- {
		h = opts.Middlewares[i](h)
	}
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	return &Server{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       90 * time.Second,
		},
		logger:   logger.With(zap.String("component", "gateway_http")),
		shutdown: shutdown,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening",
			zap.String("addr", ln.Addr().String()),
			zap.Duration("write_timeout", s.server.WriteTimeout),
		)
		errCh <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		started := time.Now()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		err := s.server.Shutdown(shutdownCtx)
		s.logger.Info("gateway stopped",
			zap.Duration("grace", s.shutdown),
			zap.Duration("drained_in", time.Since(started)),
			zap.Error(err),
		)
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
