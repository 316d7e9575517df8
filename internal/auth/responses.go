// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. JSON endpoints answer {"error": "<message>"}
// on failure; browser legs redirect to the error page with a tag instead.
package auth

import (
	"encoding/json"
	"net/http"
)

// Redirect tags reported to the error page as ?error=<tag>.
const (
	TagConfigError     = "config_error"
	TagLoginFailed     = "login_failed"
	TagAccessDenied    = "access_denied"
	TagNoCode          = "no_code"
	TagInvalidState    = "invalid_state"
	TagMissingVerifier = "missing_verifier"
	TagTokenFailed     = "token_failed"
	TagUserFailed      = "user_failed"
	TagCallbackFailed  = "callback_failed"
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorJSON writes {"error": message}.
func errorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{message})
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	errorJSON(w, http.StatusInternalServerError, "Server error")
}

// BadRequest returns a 400 JSON response with the given message.
func BadRequest(w http.ResponseWriter, message string) {
	errorJSON(w, http.StatusBadRequest, message)
}

// Unauthorized returns a 401 JSON response with the given message.
func Unauthorized(w http.ResponseWriter, message string) {
	errorJSON(w, http.StatusUnauthorized, message)
}

// Forbidden returns a 403 JSON response with the given message.
func Forbidden(w http.ResponseWriter, message string) {
	errorJSON(w, http.StatusForbidden, message)
}
