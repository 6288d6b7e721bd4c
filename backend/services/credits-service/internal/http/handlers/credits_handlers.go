package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/ledger"
	"storyforge/backend/services/credits-service/internal/models"
)

type reserveRequest struct {
	Amount    int64                  `json:"amount"`
	RequestID string                 `json:"request_id"`
	Feature   string                 `json:"feature"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type settleRequest struct {
	RequestID string                 `json:"request_id"`
	Reason    string                 `json:"reason"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func (s settleRequest) toLedger(userID string) ledger.SettleRequest {
	return ledger.SettleRequest{
		UserID:        userID,
		RequestID:     s.RequestID,
		Reason:        s.Reason,
		FailureReason: metadataString(s.Metadata, "failure_reason"),
		Extra:         flattenMetadata(s.Metadata, "failure_reason"),
	}
}

type statusResponse struct {
	OK bool `json:"ok"`
	models.Status
}

// NewEnsureHandler returns POST /credits/ensure handler.
func NewEnsureHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userID(w, r)
		if !ok {
			return
		}
		status, err := l.Ensure(r.Context(), user)
		if err != nil {
			writeLedgerError(w, logger, "ensure", err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{OK: true, Status: status})
	}
}

// NewStatusHandler returns GET /credits/status handler.
func NewStatusHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userID(w, r)
		if !ok {
			return
		}
		status, err := l.Status(r.Context(), user)
		if err != nil {
			writeLedgerError(w, logger, "status", err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{OK: true, Status: status})
	}
}

// NewTransactionsHandler returns GET /credits/transactions handler.
func NewTransactionsHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userID(w, r)
		if !ok {
			return
		}
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, ledger.ReasonInvalidRequest)
			return
		}
		txs, err := l.Transactions(r.Context(), user, limit)
		if err != nil {
			writeLedgerError(w, logger, "transactions", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":           true,
			"transactions": txs,
		})
	}
}

// NewReserveHandler returns POST /credits/reserve handler.
func NewReserveHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userID(w, r)
		if !ok {
			return
		}
		var req reserveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		feature := req.Feature
		if feature == "" {
			feature = metadataString(req.Metadata, "feature")
		}
		result, err := l.Reserve(r.Context(), ledger.ReserveRequest{
			UserID:    user,
			Amount:    req.Amount,
			RequestID: req.RequestID,
			Feature:   feature,
			Stage:     metadataString(req.Metadata, "stage"),
			Extra:     flattenMetadata(req.Metadata, "feature", "stage"),
		})
		writeResult(w, logger, "reserve", result, err)
	}
}

// NewCommitHandler returns POST /credits/commit handler.
func NewCommitHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return settleHandler(l.Commit, "commit", logger)
}

// NewReleaseHandler returns POST /credits/release handler.
func NewReleaseHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return settleHandler(l.Release, "release", logger)
}

// NewRefundHandler returns POST /credits/refund handler.
func NewRefundHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return settleHandler(l.Refund, "refund", logger)
}

// NewReconcileHandler returns POST /credits/reconcile handler.
func NewReconcileHandler(l *ledger.Ledger, logger *zap.Logger) http.HandlerFunc {
	return settleHandler(l.Reconcile, "reconcile", logger)
}

type settleFunc func(ctx context.Context, req ledger.SettleRequest) (ledger.Result, error)

func settleHandler(fn settleFunc, op string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userID(w, r)
		if !ok {
			return
		}
		var req settleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := fn(r.Context(), req.toLedger(user))
		writeResult(w, logger, op, result, err)
	}
}

// writeResult keeps the result fields on business failures so callers can
// see remaining balances alongside the reason.
func writeResult(w http.ResponseWriter, logger *zap.Logger, op string, result ledger.Result, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}
	if !ledger.IsBusiness(err) {
		writeLedgerError(w, logger, op, err)
		return
	}
	result.OK = false
	result.Reason = ledger.Reason(err)
	writeJSON(w, statusFor(err), result)
}
