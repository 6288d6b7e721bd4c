package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"storyforge/backend/services/credits-service/internal/ledger"
)

// Headers set by the gateway or by trusted services.
const (
	HeaderUserID      = "X-User-ID"
	HeaderUserRole    = "X-User-Role"
	HeaderServiceKey  = "X-Service-Key"
	HeaderServiceName = "X-Service-Name"
)

const roleAdmin = "admin"

type contextKey string

const identityKey contextKey = "identity"

// Identity is the caller as resolved from trusted headers.
type Identity struct {
	UserID      string
	Role        string
	Service     bool
	ServiceName string
}

// Actor converts the identity for privileged ledger calls.
func (i Identity) Actor() ledger.Actor {
	if i.Service {
		name := i.ServiceName
		if name == "" {
			name = "service"
		}
		return ledger.Actor{ID: "service:" + name, Admin: true}
	}
	return ledger.Actor{ID: i.UserID, Admin: i.Role == roleAdmin}
}

// IdentityMiddleware reads caller headers. A service key, when presented, is
// checked against the configured bcrypt hash and rejected with 403 if wrong.
func IdentityMiddleware(serviceKeyHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	hash := []byte(strings.TrimSpace(serviceKeyHash))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Identity{
				UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
				Role:   strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
			}
			if key := r.Header.Get(HeaderServiceKey); key != "" {
				if len(hash) == 0 || bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
					logger.Warn("rejected service key", zap.String("path", r.URL.Path), zap.String("service", r.Header.Get(HeaderServiceName)))
					deny(w, http.StatusForbidden)
					return
				}
				id.Service = true
				id.ServiceName = strings.TrimSpace(r.Header.Get(HeaderServiceName))
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

// RequireUser rejects requests without a user id header.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFromContext(r.Context()).UserID == "" {
			deny(w, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext returns the caller identity, zero if absent.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func deny(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "reason": ledger.ReasonUnauthorized})
}
