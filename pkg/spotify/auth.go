package spotify

import (
	"context"
	"errors"
	"fmt"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// DefaultScopes are the permissions needed to read a user's taste.
var DefaultScopes = []string{
	spotifyauth.ScopeUserTopRead,
	spotifyauth.ScopeUserReadEmail,
	spotifyauth.ScopeUserReadRecentlyPlayed,
	spotifyauth.ScopeUserLibraryRead,
}

// ErrMisconfigured is returned when OAuth credentials are missing.
var ErrMisconfigured = errors.New("spotify: missing client credentials")

type AuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Auth runs the OAuth authorization code flow.
type Auth struct {
	auth *spotifyauth.Authenticator
}

// Token is the token payload returned to callers.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

func NewAuth(cfg *AuthConfig) (*Auth, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, ErrMisconfigured
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Auth{
		auth: spotifyauth.New(
			spotifyauth.WithClientID(cfg.ClientID),
			spotifyauth.WithClientSecret(cfg.ClientSecret),
			spotifyauth.WithRedirectURL(cfg.RedirectURL),
			spotifyauth.WithScopes(scopes...),
		),
	}, nil
}

// AuthURL returns the URL the user must visit to grant access.
func (a *Auth) AuthURL(state string) string {
	return a.auth.AuthURL(state)
}

// Exchange trades an authorization code for tokens.
func (a *Auth) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := a.auth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("spotify: couldn't exchange code: %v: %w", err, ErrUnavailable)
	}
	return toToken(tok), nil
}

// Refresh obtains a new access token from a refresh token.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	tok, err := a.auth.RefreshToken(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	if err != nil {
		return nil, fmt.Errorf("spotify: couldn't refresh token: %v: %w", err, ErrUnavailable)
	}
	return toToken(tok), nil
}

func toToken(tok *oauth2.Token) *Token {
	t := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		t.ExpiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	return t
}
