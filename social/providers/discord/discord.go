// Package discord configures the OAuth2 adapter for Discord.
package discord

import (
	"net/http"

	"github.com/goliatone/go-auth-link/social"
	"github.com/goliatone/go-auth-link/social/providers/oauth"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://discord.com/oauth2/authorize"
	defaultTokenURL = "https://discord.com/api/oauth2/token"
	defaultUserURL  = "https://discord.com/api/users/@me"
)

// Config holds Discord OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL  string
	TokenURL string
	UserURL  string

	States     social.StateCodec
	HTTPClient *http.Client
}

// DefaultScopes returns the default Discord scopes.
func DefaultScopes() []string {
	return []string{"identify"}
}

// New creates the Discord provider. Discord ids are snowflakes sent as
// strings and are stored unchanged.
func New(cfg Config) *oauth.Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}

	return oauth.New(oauth.Config{
		Name:         "discord",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackURL:  cfg.CallbackURL,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		UserInfoURL: cfg.UserURL,
		States:      cfg.States,
		HTTPClient:  cfg.HTTPClient,
	})
}
