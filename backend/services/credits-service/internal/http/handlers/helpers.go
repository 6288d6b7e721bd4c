package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/http/middleware"
	"storyforge/backend/services/credits-service/internal/ledger"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "reason": reason})
}

// writeLedgerError writes err with the status its reason maps to. Store
// failures are logged since the caller only sees configuration_error.
func writeLedgerError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	if !ledger.IsBusiness(err) {
		logger.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
	}
	writeError(w, statusFor(err), ledger.Reason(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrMissingReservation):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// userID returns the caller's id or writes 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.IdentityFromContext(r.Context()).UserID
	if id == "" {
		writeError(w, http.StatusUnauthorized, ledger.ReasonUnauthorized)
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ledger.ReasonInvalidRequest)
		return false
	}
	return true
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}

// flattenMetadata turns free-form request metadata into string pairs. Keys
// in skip are consumed by typed fields and dropped.
func flattenMetadata(raw map[string]interface{}, skip ...string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if containsKey(skip, k) || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool, float64, json.Number:
			out[k] = fmt.Sprint(val)
		default:
			encoded, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(encoded)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func metadataString(raw map[string]interface{}, key string) string {
	if v, ok := raw[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
