package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func capture(t *testing.T, hash string, headers map[string]string) (*httptest.ResponseRecorder, Identity) {
	t.Helper()
	var got Identity
	handler := IdentityMiddleware(hash, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/admin/credits/bonus", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, got
}

func TestIdentityFromGatewayHeaders(t *testing.T) {
	rec, id := capture(t, "", map[string]string{HeaderUserID: "u-1", HeaderUserRole: "Admin"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-1", id.UserID)
	assert.True(t, id.Actor().Admin)
	assert.Equal(t, "u-1", id.Actor().ID)

	_, id = capture(t, "", map[string]string{HeaderUserID: "u-2"})
	assert.False(t, id.Actor().Admin)
}

func TestIdentityServiceKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	rec, id := capture(t, string(hash), map[string]string{HeaderServiceKey: "s3cret", HeaderServiceName: "stripe-webhook"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, id.Service)
	assert.Equal(t, "service:stripe-webhook", id.Actor().ID)
	assert.True(t, id.Actor().Admin)

	rec, _ = capture(t, string(hash), map[string]string{HeaderServiceKey: "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = capture(t, "", map[string]string{HeaderServiceKey: "s3cret"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireUser(t *testing.T) {
	handler := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/credits/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/credits/status", nil)
	handler.ServeHTTP(rec, req.WithContext(WithIdentity(req.Context(), Identity{UserID: "u"})))
	assert.Equal(t, http.StatusOK, rec.Code)
}
