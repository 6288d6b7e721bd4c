package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/http/middleware"
	"storyforge/backend/services/credits-service/internal/ledger"
	"storyforge/backend/services/credits-service/internal/models"
)

type adjustBonusRequest struct {
	UserID    string                 `json:"user_id"`
	Amount    int64                  `json:"amount"`
	Reason    string                 `json:"reason"`
	RequestID string                 `json:"request_id"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type resetCycleRequest struct {
	UserID string `json:"user_id"`
}

// NewAdminBonusHandler returns POST /admin/credits/bonus handler.
func NewAdminBonusHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adjustBonusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		actor := middleware.IdentityFromContext(r.Context()).Actor()
		result, err := l.AdminAdjustBonus(r.Context(), ledger.AdjustRequest{
			Actor:     actor,
			UserID:    strings.TrimSpace(req.UserID),
			Amount:    req.Amount,
			Reason:    req.Reason,
			RequestID: req.RequestID,
			Extra:     flattenMetadata(req.Metadata),
		})
		if err != nil {
			if ledger.IsBusiness(err) {
				logger.Info("bonus adjustment rejected",
					zap.String("actor", actor.ID),
					zap.String("user_id", req.UserID),
					zap.String("reason", ledger.Reason(err)),
				)
			}
			writeLedgerError(w, logger, "admin_adjust_bonus", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// NewAdminResetCycleHandler returns POST /admin/credits/reset-cycle handler.
// The reset only happens when the user's cycle has elapsed.
func NewAdminResetCycleHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !middleware.IdentityFromContext(r.Context()).Actor().Admin {
			writeError(w, http.StatusForbidden, ledger.ReasonUnauthorized)
			return
		}
		var req resetCycleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		status, reset, err := l.ResetCycle(r.Context(), strings.TrimSpace(req.UserID))
		if err != nil {
			writeLedgerError(w, logger, "reset_cycle", err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			OK    bool `json:"ok"`
			Reset bool `json:"reset"`
			models.Status
		}{OK: true, Reset: reset, Status: status})
	}
}
