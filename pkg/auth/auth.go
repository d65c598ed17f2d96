// Package auth obtains bearer tokens for the Data Productivity Cloud API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultTokenURL is the client credentials endpoint for the platform.
	DefaultTokenURL = "https://id.core.matillion.com/oauth/dpc/token"
	// DefaultAudience is the audience every platform token is issued for.
	DefaultAudience = "https://api.matillion.com"
)

// TokenSource yields a bearer token for a single run.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Error reports a failed token exchange.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("authenticate: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures an Authenticator.
type Options struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Audience     string
	HTTPClient   *http.Client
}

// Authenticator exchanges client credentials for an access token.
type Authenticator struct {
	creds  clientcredentials.Config
	client *http.Client
}

// New returns an Authenticator. Empty TokenURL and Audience fall back to the platform defaults.
func New(opts Options) (*Authenticator, error) {
	if strings.TrimSpace(opts.ClientID) == "" || strings.TrimSpace(opts.ClientSecret) == "" {
		return nil, errors.New("client id and client secret are required")
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if opts.Audience == "" {
		opts.Audience = DefaultAudience
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Authenticator{
		creds: clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
			EndpointParams: map[string][]string{
				"audience": {opts.Audience},
			},
		},
		client: opts.HTTPClient,
	}, nil
}

// Token performs exactly one client credentials exchange. Nothing is cached.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	tok, err := a.creds.Token(ctx)
	if err != nil {
		return "", &Error{Err: err}
	}
	if tok.AccessToken == "" {
		return "", &Error{Err: errors.New("response did not contain an access_token")}
	}
	return tok.AccessToken, nil
}

// StaticToken is a pre-issued token, typically taken from AUTH_TOKEN.
type StaticToken string

// Token returns the static token, failing if it is empty.
func (s StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", &Error{Err: errors.New("static token is empty")}
	}
	return string(s), nil
}
