// oauth.go -- Login, callback and logout legs of the OAuth2 PKCE flow.
// Provider-specific logic lives in internal/oauth/*.go.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/yellowcatz/badgegate/internal/oauth"
)

const (
	oauthStateCookie    = "oauth_state"
	codeVerifierCookie  = "code_verifier"
	pendingAuthLifetime = 600 * time.Second
)

// Login handles GET /login -- generates PKCE + state, stores them in short-lived
// HttpOnly cookies, and redirects the browser to the provider's consent page.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		logError(r, "login: oauth client not configured")
		h.redirectError(w, r, TagConfigError)
		return
	}

	p, err := NewPKCE()
	if err != nil {
		logError(r, "login: generating pkce values failed", "error", err)
		h.redirectError(w, r, TagLoginFailed)
		return
	}

	h.setPKCECookies(w, p.State, p.Verifier)
	logDebug(r, "login: redirecting to provider", "provider", h.Provider.Name())
	http.Redirect(w, r, h.Provider.AuthCodeURL(p.State, p.Challenge), http.StatusFound)
}

// Callback handles GET /callback -- verifies state and verifier, exchanges the code,
// resolves the user, auto-awards the founding badge, and issues a session cookie.
// Every outcome is a 302: to the landing page on success, to the error page with a tag otherwise.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// Pending authorization is single-attempt; drop it whatever happens next.
	h.clearPKCECookies(w)

	defer func() {
		if rec := recover(); rec != nil {
			logError(r, "oauth callback: panic", "panic", rec, "stack", string(debug.Stack()))
			h.redirectError(w, r, TagCallbackFailed)
		}
	}()

	if h.Provider == nil {
		logError(r, "oauth callback: oauth client not configured")
		h.redirectError(w, r, TagConfigError)
		return
	}

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		logWarn(r, "oauth callback: provider reported error",
			"provider_error", providerErr, "description", q.Get("error_description"))
		h.redirectError(w, r, TagAccessDenied)
		return
	}

	code := q.Get("code")
	if code == "" {
		logWarn(r, "oauth callback: missing code")
		h.redirectError(w, r, TagNoCode)
		return
	}

	state := q.Get("state")
	var storedState string
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		storedState = c.Value
	}
	// Exact byte equality; an empty stored state never matches.
	if storedState == "" || subtle.ConstantTimeCompare([]byte(storedState), []byte(state)) != 1 {
		logWarn(r, "oauth callback: state mismatch",
			"has_state_cookie", storedState != "", "has_state_param", state != "")
		h.redirectError(w, r, TagInvalidState)
		return
	}

	var verifier string
	if c, err := r.Cookie(codeVerifierCookie); err == nil {
		verifier = c.Value
	}
	if verifier == "" {
		logWarn(r, "oauth callback: missing code verifier cookie")
		h.redirectError(w, r, TagMissingVerifier)
		return
	}

	first, err := h.SL.Consume(r.Context(), state, pendingAuthLifetime)
	if err != nil {
		logError(r, "oauth callback: recording consumed state failed", "error", err)
		h.redirectError(w, r, TagCallbackFailed)
		return
	}
	if !first {
		logWarn(r, "oauth callback: state replayed")
		h.redirectError(w, r, TagInvalidState)
		return
	}

	token, err := h.Provider.Exchange(r.Context(), code, verifier)
	if err != nil {
		logUpstream(r, "oauth callback: token exchange failed", h.Provider.Name(), err)
		h.redirectError(w, r, TagTokenFailed)
		return
	}

	profile, err := h.Provider.FetchProfile(r.Context(), token)
	if err != nil {
		logUpstream(r, "oauth callback: profile fetch failed", h.Provider.Name(), err)
		h.redirectError(w, r, TagUserFailed)
		return
	}

	user, isNew, err := h.Resolver.Resolve(r.Context(), profile)
	if err != nil {
		logError(r, "oauth callback: resolving user failed", "error", err, "external_user_id", profile.ID)
		h.redirectError(w, r, TagCallbackFailed)
		return
	}

	awarded, err := h.Policy.AutoAward(r.Context(), user.ID, isNew, h.now())
	if err != nil {
		logError(r, "oauth callback: founding badge auto-award failed", "error", err, "user_id", user.ID)
		h.redirectError(w, r, TagCallbackFailed)
		return
	}

	sessionToken, err := h.Sessions.CreateToken(user)
	if err != nil {
		logError(r, "oauth callback: creating session token failed", "error", err, "user_id", user.ID)
		h.redirectError(w, r, TagCallbackFailed)
		return
	}

	h.Sessions.SetSessionCookie(w, sessionToken)
	logInfo(r, "oauth user logged in",
		"user_id", user.ID, "provider", h.Provider.Name(), "new_user", isNew, "founding_badge_awarded", awarded)
	http.Redirect(w, r, h.Pages.LandingURL, http.StatusFound)
}

// Logout handles GET|POST /logout -- clears the session cookie and redirects home.
// No session is required; the token itself stays valid until expiry.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.ClearSessionCookie(w)
	if sess, ok := SessionFromContext(r.Context()); ok {
		logInfo(r, "user logged out", "user_id", sess.UserID)
	}
	http.Redirect(w, r, h.Pages.HomeURL, http.StatusFound)
}

// redirectError sends the browser to the error page tagged with the failure class.
func (h *AuthHandler) redirectError(w http.ResponseWriter, r *http.Request, tag string) {
	http.Redirect(w, r, h.errorPageURL(tag), http.StatusFound)
}

// logUpstream logs a provider failure with its kind, status and body when available.
func logUpstream(r *http.Request, msg, provider string, err error) {
	args := []any{"provider", provider, "error", err}
	var ue *oauth.UpstreamError
	if errors.As(err, &ue) {
		args = append(args, "kind", ue.Kind.Error(), "status", ue.Status, "body", ue.Body)
	}
	logWarn(r, msg, args...)
}

// setPKCECookies stores state and verifier in two short-lived HttpOnly cookies.
func (h *AuthHandler) setPKCECookies(w http.ResponseWriter, state, verifier string) {
	for _, c := range [][2]string{{oauthStateCookie, state}, {codeVerifierCookie, verifier}} {
		http.SetCookie(w, &http.Cookie{
			Name:     c[0],
			Value:    c[1],
			Path:     "/",
			HttpOnly: true,
			Secure:   h.Secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(pendingAuthLifetime.Seconds()),
		})
	}
}

// clearPKCECookies expires both PKCE cookies immediately.
func (h *AuthHandler) clearPKCECookies(w http.ResponseWriter) {
	for _, name := range []string{oauthStateCookie, codeVerifierCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   h.Secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}
