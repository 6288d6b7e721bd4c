package handlers

import (
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"storyforge/backend/services/api-gateway/internal/clients"
	"storyforge/backend/services/api-gateway/internal/http/middleware"
)

const maxBodyBytes = 64 << 10

// CreditsHandlers proxies credits-service endpoints.
type CreditsHandlers struct {
	client *clients.CreditsClient
	logger *zap.Logger
}

// NewCreditsHandlers returns handler.
func NewCreditsHandlers(client *clients.CreditsClient, logger *zap.Logger) *CreditsHandlers {
	return &CreditsHandlers{client: client, logger: logger}
}

// Status handles GET /api/credits/status.
func (h *CreditsHandlers) Status(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, "/credits/status")
}

// Transactions handles GET /api/credits/transactions.
func (h *CreditsHandlers) Transactions(w http.ResponseWriter, r *http.Request) {
	path := "/credits/transactions"
	if q := r.URL.Query().Get("limit"); q != "" {
		path += "?" + url.Values{"limit": {q}}.Encode()
	}
	h.get(w, r, path)
}

// Ensure handles POST /api/credits/ensure.
func (h *CreditsHandlers) Ensure(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, "/credits/ensure")
}

// Reserve handles POST /api/credits/reserve.
func (h *CreditsHandlers) Reserve(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, "/credits/reserve")
}

// Commit handles POST /api/credits/commit.
func (h *CreditsHandlers) Commit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, "/credits/commit")
}

// Release handles POST /api/credits/release.
func (h *CreditsHandlers) Release(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, "/credits/release")
}

// Refund handles POST /api/credits/refund.
func (h *CreditsHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, "/credits/refund")
}

// Reconcile handles POST /api/credits/reconcile.
func (h *CreditsHandlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, "/credits/reconcile")
}

// AdminBonus handles POST /api/admin/credits/bonus. The role claim is
// forwarded and credits-service decides whether it grants the capability.
func (h *CreditsHandlers) AdminBonus(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, "/admin/credits/bonus")
}

func (h *CreditsHandlers) get(w http.ResponseWriter, r *http.Request, path string) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	status, respBody, err := h.client.Get(r.Context(), path, caller)
	h.respond(w, path, status, respBody, err)
}

func (h *CreditsHandlers) post(w http.ResponseWriter, r *http.Request, path string) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request")
		return
	}
	status, respBody, err := h.client.Post(r.Context(), path, body, caller)
	h.respond(w, path, status, respBody, err)
}

func (h *CreditsHandlers) respond(w http.ResponseWriter, path string, status int, body []byte, err error) {
	if err != nil {
		h.logger.Error("credits proxy failed", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusBadGateway, "configuration_error")
		return
	}
	writeRaw(w, status, body)
}

func callerFrom(w http.ResponseWriter, r *http.Request) (clients.Caller, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return clients.Caller{}, false
	}
	return clients.Caller{UserID: user.ID, Role: user.Role}, true
}
