package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/ledger"
)

// Pinger reports backing store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler(store Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, ledger.ReasonConfiguration)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": "ok"})
	}
}
