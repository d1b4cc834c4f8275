package middleware

import (
	"net/http"
	"strings"

	"github.com/hestia/backend/internal/auth"
	"github.com/hestia/backend/internal/logging"
)

// SessionCookie holds the access token issued at login.
const SessionCookie = "hestia_session"

// Authenticator resolves an access token to a username.
type Authenticator interface {
	Authenticate(accessToken string) (string, error)
}

// Authenticate requires a valid access token, taken from the session cookie or
// a bearer Authorization header, and stores the username in the request context.
func Authenticate(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := AccessToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			username, err := authenticator.Authenticate(token)
			if err != nil {
				logging.FromContext(r.Context()).Warn("rejected access token", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			ctx := auth.WithUsername(r.Context(), username)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("username", username))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessToken extracts the bearer token, preferring the Authorization header.
func AccessToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
