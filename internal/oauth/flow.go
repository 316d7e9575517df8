// flow.go -- authorization-code + PKCE plumbing shared by every provider.
package oauth

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ClientConfig is the client registration shared by all providers.
// An empty ClientSecret selects public-client exchange (client_id in the body);
// otherwise credentials go in a Basic Authorization header.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Timeout bounds each upstream call. Zero means 10s.
	Timeout time.Duration

	// HTTPClient overrides the client used for upstream calls. Tests inject one.
	HTTPClient *http.Client
}

const defaultTimeout = 10 * time.Second

// codeFlow holds the oauth2.Config and transport for one provider.
type codeFlow struct {
	config     *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

func newCodeFlow(cc ClientConfig, endpoint oauth2.Endpoint) codeFlow {
	if cc.ClientSecret != "" {
		endpoint.AuthStyle = oauth2.AuthStyleInHeader
	} else {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	timeout := cc.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cc.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return codeFlow{
		config: &oauth2.Config{
			ClientID:     cc.ClientID,
			ClientSecret: cc.ClientSecret,
			RedirectURL:  cc.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       cc.Scopes,
		},
		httpClient: client,
		timeout:    timeout,
	}
}

// AuthCodeURL builds the consent page URL with state and PKCE S256 challenge embedded.
func (f *codeFlow) AuthCodeURL(state, codeChallenge string) string {
	return f.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange posts the code and verifier to the token endpoint, bounded by the flow timeout.
func (f *codeFlow) Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	ctx, cancel := f.callContext(ctx)
	defer cancel()

	token, err := f.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, upstreamError(ErrTokenExchangeFailed, err)
	}
	return token, nil
}

// callContext applies the per-call timeout and routes x/oauth2 through the injected client.
func (f *codeFlow) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	return context.WithTimeout(ctx, f.timeout)
}
