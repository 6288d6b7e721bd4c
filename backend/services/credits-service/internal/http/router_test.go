package httpserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httpserver "storyforge/backend/services/credits-service/internal/http"
	"storyforge/backend/services/credits-service/internal/http/handlers"
	"storyforge/backend/services/credits-service/internal/ledger"
	"storyforge/backend/services/credits-service/internal/repository"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	reg := prometheus.NewRegistry()
	l, err := ledger.New(store, logger, ledger.Options{Metrics: ledger.NewMetrics(reg)})
	require.NoError(t, err)

	return httpserver.NewRouter(httpserver.Routes{
		Ensure:       handlers.NewEnsureHandler(l, logger),
		Status:       handlers.NewStatusHandler(l, logger),
		Reserve:      handlers.NewReserveHandler(l, logger),
		Commit:       handlers.NewCommitHandler(l, logger),
		Release:      handlers.NewReleaseHandler(l, logger),
		Refund:       handlers.NewRefundHandler(l, logger),
		Reconcile:    handlers.NewReconcileHandler(l, logger),
		Transactions: handlers.NewTransactionsHandler(l, logger),
		AdminBonus:   handlers.NewAdminBonusHandler(l, logger),
		AdminReset:   handlers.NewAdminResetCycleHandler(l, logger),
		Health:       handlers.NewHealthHandler(store, logger),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, "", logger)
}

func do(t *testing.T, h http.Handler, method, path string, headers map[string]string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

var alice = map[string]string{"X-User-ID": "alice"}

func TestReserveCommitFlow(t *testing.T) {
	h := newTestRouter(t)
	rid := uuid.NewString()

	code, body := do(t, h, http.MethodPost, "/credits/reserve", alice, map[string]interface{}{
		"amount":     3,
		"request_id": rid,
		"metadata":   map[string]interface{}{"feature": "image", "stage": "draft", "attempt": 2},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, ledger.StatusReserved, body["status"])
	assert.EqualValues(t, 3, body["reserved_monthly"])
	assert.EqualValues(t, 2, body["remaining_monthly"])

	code, body = do(t, h, http.MethodPost, "/credits/commit", alice, map[string]interface{}{"request_id": rid})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ledger.StatusCommitted, body["status"])

	code, body = do(t, h, http.MethodGet, "/credits/status", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 3, body["monthly_credits_used"])
	assert.EqualValues(t, 0, body["reserved_monthly"])

	code, body = do(t, h, http.MethodGet, "/credits/transactions?limit=1", alice, nil)
	require.Equal(t, http.StatusOK, code)
	txs, ok := body["transactions"].([]interface{})
	require.True(t, ok)
	require.Len(t, txs, 1)
	assert.Equal(t, "commit", txs[0].(map[string]interface{})["transaction_type"])
}

func TestErrorStatuses(t *testing.T) {
	h := newTestRouter(t)

	code, body := do(t, h, http.MethodPost, "/credits/reserve", alice, map[string]interface{}{
		"amount": 50, "request_id": uuid.NewString(),
	})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, ledger.ReasonInsufficientCredits, body["reason"])
	assert.EqualValues(t, 5, body["remaining_monthly"])

	code, body = do(t, h, http.MethodPost, "/credits/reserve", alice, map[string]interface{}{
		"amount": 1, "request_id": "not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ledger.ReasonInvalidRequest, body["reason"])

	code, body = do(t, h, http.MethodPost, "/credits/commit", alice, map[string]interface{}{"request_id": uuid.NewString()})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, ledger.ReasonMissingReservation, body["reason"])

	code, _ = do(t, h, http.MethodGet, "/credits/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, h, http.MethodGet, "/credits/transactions?limit=many", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	req := httptest.NewRequest(http.MethodPost, "/credits/reserve", bytes.NewBufferString("{"))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefundAndReconcile(t *testing.T) {
	h := newTestRouter(t)

	code, body := do(t, h, http.MethodPost, "/credits/refund", alice, map[string]interface{}{"request_id": uuid.NewString()})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ledger.StatusNothingToRefund, body["status"])

	rid := uuid.NewString()
	code, _ = do(t, h, http.MethodPost, "/credits/reserve", alice, map[string]interface{}{"amount": 2, "request_id": rid})
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, h, http.MethodPost, "/credits/reconcile", alice, map[string]interface{}{
		"request_id": rid,
		"reason":     "client_disconnect",
		"metadata":   map[string]interface{}{"failure_reason": "timeout"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ledger.StatusReleased, body["status"])
	assert.EqualValues(t, 5, body["remaining_monthly"])
}

func TestAdminBonus(t *testing.T) {
	h := newTestRouter(t)
	payload := map[string]interface{}{"user_id": "bob", "amount": 20, "reason": "promo"}

	code, body := do(t, h, http.MethodPost, "/admin/credits/bonus", alice, payload)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, ledger.ReasonUnauthorized, body["reason"])

	admin := map[string]string{"X-User-ID": "root", "X-User-Role": "admin"}
	code, body = do(t, h, http.MethodPost, "/admin/credits/bonus", admin, payload)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 20, body["new_bonus_total"])

	code, body = do(t, h, http.MethodPost, "/admin/credits/reset-cycle", admin, map[string]interface{}{"user_id": "bob"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["reset"])
	assert.EqualValues(t, 20, body["bonus_credits_total"])

	code, _ = do(t, h, http.MethodPost, "/admin/credits/reset-cycle", alice, map[string]interface{}{"user_id": "bob"})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(t)

	code, body := do(t, h, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	do(t, h, http.MethodPost, "/credits/ensure", alice, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "credits_")

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/credits/reserve", nil)
	req.Header.Set("X-User-ID", "alice")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
