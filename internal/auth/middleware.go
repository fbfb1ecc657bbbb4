package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const bearerPrefix = "Bearer "

type ctxKey struct{}

// WithIdentity stores the verified user on the request context.
func WithIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// IdentityFrom returns the verified user, or "" when the request was not
// authenticated.
func IdentityFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// RequireToken verifies a bearer token (Authorization header, or ?token= for
// websocket attaches where custom headers are unavailable) and injects the
// identity into the request context.
func RequireToken(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(raw, bearerPrefix) {
				raw = strings.TrimPrefix(raw, bearerPrefix)
			} else {
				raw = r.URL.Query().Get("token")
			}
			if raw == "" {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			userID, err := m.Verify(raw, time.Now())
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID.String())))
		})
	}
}
