package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"storyforge/backend/libs/auth"
)

type contextKey string

const userKey contextKey = "user"

// User is the authenticated caller.
type User struct {
	ID   string
	Role string
}

// TokenValidator is implemented by auth.TokenService.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthMiddleware validates bearer tokens and stores the caller in context.
// Browsers cannot set headers on websocket upgrades, so upgrade requests may
// pass the token as the access_token query parameter instead.
func AuthMiddleware(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := tokens.ValidateToken(tokenStr)
			if err != nil {
				unauthorized(w)
				return
			}
			user := User{ID: claims.UserID, Role: strings.ToLower(claims.Role)}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		token := strings.TrimSpace(parts[1])
		return token, token != ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		token := r.URL.Query().Get("access_token")
		return token, token != ""
	}
	return "", false
}

// UserFromContext retrieves the authenticated caller.
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userKey).(User)
	return user, ok && user.ID != ""
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "reason": "unauthorized"})
}
