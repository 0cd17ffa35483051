package oidc

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// GoogleEndpoint is Google's OAuth 2.0 authorization-code endpoint pair.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// GoogleFlow drives the server-side "Sign in with Google" redirect flow.
type GoogleFlow struct {
	cfg      *oauth2.Config
	verifier IdentityVerifier
}

// NewGoogleFlow builds the flow; id tokens returned by the token endpoint are
// checked with verifier.
func NewGoogleFlow(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint, verifier IdentityVerifier) *GoogleFlow {
	return &GoogleFlow{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "profile", "email"},
		},
		verifier: verifier,
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (g *GoogleFlow) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for a verified identity.
func (g *GoogleFlow) Exchange(ctx context.Context, code string) (*Identity, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, errors.New("token response has no id_token")
	}
	id, err := g.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	if id.Email == "" {
		return nil, errors.New("missing email in id_token")
	}
	if !id.EmailVerified {
		return nil, errors.New("email in id_token is not verified")
	}
	return id, nil
}
