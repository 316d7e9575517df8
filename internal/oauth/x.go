// x.go -- X (Twitter) OAuth2 provider: fixed endpoints, /2/users/me profile.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// maxProfileBody caps the profile response read from the provider.
const maxProfileBody = 1 << 20

// XEndpoints locates the X authorization, token and profile endpoints.
type XEndpoints struct {
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// XProvider implements Provider against the X OAuth2 API.
type XProvider struct {
	codeFlow
	profileURL string
}

// NewXProvider builds an XProvider. No network calls are made until the first exchange.
func NewXProvider(cc ClientConfig, ep XEndpoints) *XProvider {
	return &XProvider{
		codeFlow: newCodeFlow(cc, oauth2.Endpoint{
			AuthURL:  ep.AuthURL,
			TokenURL: ep.TokenURL,
		}),
		profileURL: ep.ProfileURL,
	}
}

// Name returns "x".
func (p *XProvider) Name() string { return "x" }

// FetchProfile calls the profile endpoint with the bearer token.
// Expects {"data":{"id","username","name","profile_image_url"}}.
func (p *XProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, &UpstreamError{Kind: ErrProfileFetchFailed, Err: err}
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, upstreamError(ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
	if err != nil {
		return nil, upstreamError(ErrProfileFetchFailed, fmt.Errorf("reading profile body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{
			Kind:   ErrProfileFetchFailed,
			Status: resp.StatusCode,
			Body:   truncate(string(body)),
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var payload struct {
		Data struct {
			ID              string `json:"id"`
			Username        string `json:"username"`
			Name            string `json:"name"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &UpstreamError{Kind: ErrProfileFetchFailed, Status: resp.StatusCode, Body: truncate(string(body)),
			Err: fmt.Errorf("decoding profile: %w", err)}
	}
	if payload.Data.ID == "" || payload.Data.Username == "" {
		return nil, &UpstreamError{Kind: ErrProfileFetchFailed, Status: resp.StatusCode, Body: truncate(string(body)),
			Err: errors.New("profile missing id or username")}
	}

	return &Profile{
		ID:        payload.Data.ID,
		Username:  payload.Data.Username,
		Name:      payload.Data.Name,
		AvatarURL: payload.Data.ProfileImageURL,
	}, nil
}
