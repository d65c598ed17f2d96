package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/oauth/dpc/token", handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenExchange(t *testing.T) {
	var form map[string]string
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "abc123",
			"token_type":   "Bearer",
			"expires_in":   1800,
		})
	})

	a, err := New(Options{
		ClientID:     "client",
		ClientSecret: "s3cret",
		TokenURL:     srv.URL + "/oauth/dpc/token",
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)
	assert.Equal(t, map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     "client",
		"client_secret": "s3cret",
		"audience":      DefaultAudience,
	}, form)
}

func TestTokenMissingAccessToken(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	})

	a, err := New(Options{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL + "/oauth/dpc/token"})
	require.NoError(t, err)

	_, err = a.Token(context.Background())
	require.Error(t, err)
	var authErr *Error
	assert.True(t, errors.As(err, &authErr))
}

func TestTokenHTTPFailure(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	})

	a, err := New(Options{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL + "/oauth/dpc/token"})
	require.NoError(t, err)

	_, err = a.Token(context.Background())
	require.Error(t, err)

	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	var retrieveErr *oauth2.RetrieveError
	require.True(t, errors.As(err, &retrieveErr))
	assert.Equal(t, http.StatusUnauthorized, retrieveErr.Response.StatusCode)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Options{ClientID: "only-id"})
	assert.Error(t, err)
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("pre-issued").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pre-issued", tok)

	_, err = StaticToken("").Token(context.Background())
	var authErr *Error
	assert.True(t, errors.As(err, &authErr))
}
