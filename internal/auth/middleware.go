// middleware.go

// Session loading middleware.
package auth

import (
	"context"
	"net/http"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const sessionKey contextKey = "session"

// SessionFromContext retrieves the verified session from context.
// Returns nil and false if no valid session cookie came with the request.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok && s != nil
}

// LoadSession verifies the session cookie if present and injects the session into context.
// Never rejects: an absent or invalid cookie just leaves the request unauthenticated.
func (h *AuthHandler) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := h.Sessions.SessionFromRequest(r)
		if !ok {
			if _, err := r.Cookie(SessionCookieName); err == nil {
				logDebug(r, "ignoring invalid session cookie")
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

// RequireSession returns 401 {"error":"Not authenticated"} unless a valid session is present.
// Works with or without LoadSession earlier in the chain.
func (h *AuthHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		sess, ok := h.Sessions.SessionFromRequest(r)
		if !ok {
			logInfo(r, "require session failed", "reason", "missing_or_invalid_session")
			Unauthorized(w, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}
