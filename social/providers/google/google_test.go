package google

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderAuthCodeURLOffline(t *testing.T) {
	provider := New(Config{
		ClientID:    "client-id",
		CallbackURL: "https://example.com/auth/google",
		Offline:     true,
	})
	assert.Equal(t, "google", provider.Name())

	authURL, err := provider.AuthCodeURL("/")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", parsed.Host)
	assert.Equal(t, "offline", parsed.Query().Get("access_type"))
	assert.Contains(t, parsed.Query().Get("scope"), "openid")
}
