package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goliatone/go-auth-link/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestServer(t *testing.T, profile map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			values, err := url.ParseQuery(string(body))
			assert.NoError(t, err)

			if values.Get("code") != "auth-code" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":             "invalid_grant",
					"error_description": "bad code",
				})
				return
			}

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access",
				"token_type":    "bearer",
				"refresh_token": "refresh",
				"code_verifier": values.Get("code_verifier"),
			})
		case "/me":
			assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(profile)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestProvider(server *httptest.Server, states social.StateCodec) *Provider {
	return New(Config{
		Name:         "Discord",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "https://example.com/auth/discord",
		Scopes:       []string{"identify"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   server.URL + "/authorize",
			TokenURL:  server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: server.URL + "/me",
		States:      states,
		HTTPClient:  server.Client(),
	})
}

func TestProviderAssertWithoutState(t *testing.T) {
	server := newTestServer(t, map[string]any{"id": "80351110224678912", "username": "nelly"})
	defer server.Close()

	provider := newTestProvider(server, nil)
	assert.Equal(t, "discord", provider.Name())

	assertion, err := provider.Assert(context.Background(), map[string]string{"code": "auth-code"})
	require.NoError(t, err)
	assert.Equal(t, "discord", assertion.Type)
	assert.Equal(t, "80351110224678912", assertion.Identifier)
	assert.Equal(t, "refresh", assertion.RefreshCredential)
	assert.Equal(t, "nelly", assertion.Profile["username"])
	assert.Equal(t, "80351110224678912", assertion.Profile["id"])
}

func TestProviderNumericIDKeepsPrecision(t *testing.T) {
	server := newTestServer(t, map[string]any{"id": 9007199254740993})
	defer server.Close()

	assertion, err := newTestProvider(server, nil).Assert(context.Background(), map[string]string{"code": "auth-code"})
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", assertion.Identifier)
}

func TestProviderStateRoundTrip(t *testing.T) {
	server := newTestServer(t, map[string]any{"id": "1"})
	defer server.Close()

	states := social.NewSealedStateCodec(
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("fedcba9876543210fedcba9876543210"),
		time.Minute,
	)
	provider := newTestProvider(server, states)

	authURL, err := provider.AuthCodeURL("/after")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("code_challenge"))
	require.NotEmpty(t, query.Get("state"))

	assertion, err := provider.Assert(context.Background(), map[string]string{
		"code":  "auth-code",
		"state": query.Get("state"),
	})
	require.NoError(t, err)
	assert.Equal(t, "1", assertion.Identifier)
	assert.Equal(t, "/after", assertion.Redirect)
}

func TestProviderRejectsForeignState(t *testing.T) {
	server := newTestServer(t, map[string]any{"id": "1"})
	defer server.Close()

	states := social.NewSealedStateCodec(
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("fedcba9876543210fedcba9876543210"),
		time.Minute,
	)
	token, err := states.Encode(&social.CallbackState{Provider: "github"})
	require.NoError(t, err)

	_, err = newTestProvider(server, states).Assert(context.Background(), map[string]string{
		"code":  "auth-code",
		"state": token,
	})
	assert.ErrorIs(t, err, social.ErrInvalidState)

	_, err = newTestProvider(server, states).Assert(context.Background(), map[string]string{
		"code": "auth-code",
	})
	assert.ErrorIs(t, err, social.ErrInvalidState)
}

func TestProviderErrors(t *testing.T) {
	server := newTestServer(t, map[string]any{"name": "no id"})
	defer server.Close()
	provider := newTestProvider(server, nil)

	tests := []struct {
		name      string
		params    map[string]string
		operation string
		code      string
		status    int
	}{
		{
			name:      "access denied",
			params:    map[string]string{"error": "access_denied", "error_description": "user said no"},
			operation: "authorize",
			code:      "access_denied",
		},
		{
			name:      "missing code",
			params:    map[string]string{},
			operation: "authorize",
			code:      "missing_code",
		},
		{
			name:      "bad code",
			params:    map[string]string{"code": "wrong"},
			operation: "exchange",
			code:      "invalid_grant",
			status:    http.StatusBadRequest,
		},
		{
			name:      "profile without id",
			params:    map[string]string{"code": "auth-code"},
			operation: "user_info",
			code:      "invalid_profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := provider.Assert(context.Background(), tt.params)
			require.Error(t, err)

			var perr *social.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "discord", perr.Provider)
			assert.Equal(t, tt.operation, perr.Operation)
			assert.Equal(t, tt.code, perr.Code)
			assert.Equal(t, tt.status, perr.Status)
		})
	}
}

func TestFieldMapper(t *testing.T) {
	id, profile, err := FieldMapper("sub")(map[string]any{"sub": "abc", "email": "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "abc", profile["id"])
	assert.Equal(t, "a@example.com", profile["email"])

	_, _, err = FieldMapper("sub")(map[string]any{"sub": ""})
	assert.Error(t, err)
}
