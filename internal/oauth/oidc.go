// oidc.go -- generic OIDC provider (discovery + userinfo).
package oauth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider implements Provider for any OpenID Connect issuer.
// Uses discovery for endpoints; the profile comes from the userinfo endpoint,
// cross-checked against the ID token subject when one is returned.
type OIDCProvider struct {
	codeFlow
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider fetches the issuer's discovery document.
// Makes an outbound HTTP request at startup; returns an error if unreachable.
// Scopes default to openid + profile when cc.Scopes is empty; openid is
// always requested.
func NewOIDCProvider(ctx context.Context, issuer string, cc ClientConfig) (*OIDCProvider, error) {
	cc.Scopes = oidcScopes(cc.Scopes)
	flow := newCodeFlow(cc, oauth2.Endpoint{})

	dctx, cancel := flow.callContext(ctx)
	defer cancel()
	p, err := oidc.NewProvider(oidc.ClientContext(dctx, flow.httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	ep := p.Endpoint()
	ep.AuthStyle = flow.config.Endpoint.AuthStyle
	flow.config.Endpoint = ep

	return &OIDCProvider{
		codeFlow: flow,
		provider: p,
		verifier: p.Verifier(&oidc.Config{ClientID: cc.ClientID}),
	}, nil
}

func oidcScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{oidc.ScopeOpenID, "profile"}
	}
	if slices.Contains(scopes, oidc.ScopeOpenID) {
		return scopes
	}
	return append([]string{oidc.ScopeOpenID}, scopes...)
}

// Name returns "oidc".
func (p *OIDCProvider) Name() string { return "oidc" }

// FetchProfile verifies the ID token if present, then loads userinfo.
func (p *OIDCProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()
	ctx = oidc.ClientContext(ctx, p.httpClient)

	var idSub string
	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		idToken, err := p.verifier.Verify(ctx, raw)
		if err != nil {
			return nil, upstreamError(ErrProfileFetchFailed, fmt.Errorf("verifying id token: %w", err))
		}
		idSub = idToken.Subject
	}

	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, upstreamError(ErrProfileFetchFailed, fmt.Errorf("userinfo: %w", err))
	}
	if idSub != "" && info.Subject != idSub {
		return nil, &UpstreamError{Kind: ErrProfileFetchFailed, Err: errors.New("userinfo subject does not match id token")}
	}

	var c struct {
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
		Picture           string `json:"picture"`
	}
	if err := info.Claims(&c); err != nil {
		return nil, &UpstreamError{Kind: ErrProfileFetchFailed, Err: fmt.Errorf("decoding userinfo claims: %w", err)}
	}
	if info.Subject == "" {
		return nil, &UpstreamError{Kind: ErrProfileFetchFailed, Err: errors.New("userinfo missing sub")}
	}

	username := c.PreferredUsername
	if username == "" {
		username = info.Subject
	}
	return &Profile{
		ID:        info.Subject,
		Username:  username,
		Name:      c.Name,
		AvatarURL: c.Picture,
	}, nil
}
