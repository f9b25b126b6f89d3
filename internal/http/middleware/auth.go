package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	userIDContextKey contextKey = "user_id"
	// UserIDHeader is set by the gateway after it authenticates the caller.
	UserIDHeader    = "X-User-ID"
	maxUserIDLength = 128
)

// Auth requires a static bearer token when requiredToken is set.
func Auth(requiredToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(requiredToken)) != 1 {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Identity stores the caller's user id from UserIDHeader in the context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" || len(userID) > maxUserIDLength {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", UserIDHeader+" header is required")
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the caller identity stored by Identity.
func UserID(ctx context.Context) string {
	value, _ := ctx.Value(userIDContextKey).(string)
	return value
}
