// provider.go -- OAuth provider interface and shared types.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/oauth2"
)

// Upstream failure kinds. Match with errors.Is against an *UpstreamError.
var (
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrProfileFetchFailed  = errors.New("profile fetch failed")
	ErrTransport           = errors.New("transport error")
)

// maxBodyLog caps how much of a provider error body is kept for logging.
const maxBodyLog = 512

// UpstreamError describes a failed call to the identity provider.
// Status and Body are set when the provider answered with a non-success response.
type UpstreamError struct {
	Kind   error
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%v (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is matches the failure kind, so errors.Is(err, ErrTransport) works on the wrapper.
func (e *UpstreamError) Is(target error) bool { return target == e.Kind }

// Profile is the normalized public identity returned by a provider.
// ID is the provider's stable user id; Username is the handle without "@".
// AvatarURL is empty when the provider returned none.
type Profile struct {
	ID        string
	Username  string
	Name      string
	AvatarURL string
}

// Provider is an OAuth2 identity provider.
// PKCE (RFC 7636, S256) is required: callers pass the code_challenge to AuthCodeURL
// and the matching code_verifier to Exchange.
type Provider interface {
	// Name returns the provider identifier used in logs.
	Name() string

	// AuthCodeURL returns the authorization redirect URL with state and PKCE code_challenge embedded.
	AuthCodeURL(state, codeChallenge string) string

	// Exchange trades the authorization code for tokens.
	// Failures are *UpstreamError with Kind ErrTokenExchangeFailed or ErrTransport.
	Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)

	// FetchProfile loads the authenticated identity using the access token.
	// Failures are *UpstreamError with Kind ErrProfileFetchFailed or ErrTransport.
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// upstreamError classifies err into an *UpstreamError.
// Network failures and timeouts become ErrTransport; everything else takes kind.
func upstreamError(kind error, err error) *UpstreamError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &UpstreamError{Kind: ErrTransport, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &UpstreamError{Kind: ErrTransport, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &UpstreamError{Kind: ErrTransport, Err: err}
	}

	ue := &UpstreamError{Kind: kind, Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			ue.Status = re.Response.StatusCode
		}
		ue.Body = truncate(string(re.Body))
	}
	return ue
}

func truncate(s string) string {
	if len(s) > maxBodyLog {
		return s[:maxBodyLog]
	}
	return s
}
