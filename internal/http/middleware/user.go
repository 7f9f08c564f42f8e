package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserHeader carries the acting user's id. The UI shell sets it after its
// own sign-in; this service trusts it.
const UserHeader = "X-User-Id"

type ctxKey string

const userKey ctxKey = "roleplay.user_id"

// WithUserID stores the user id in context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserIDFromContext extracts the user id if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey).(string)
	return userID, ok && userID != ""
}

// UserIDFromRequest reads the header, falling back to the user_id query
// parameter for browser WebSocket upgrades that cannot set headers.
func UserIDFromRequest(r *http.Request) string {
	if id, ok := UserIDFromContext(r.Context()); ok {
		return id
	}
	if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

// RequireUser rejects requests without a user id.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromRequest(r)
		if userID == "" {
			http.Error(w, "missing "+UserHeader, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
