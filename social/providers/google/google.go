// Package google configures the OAuth2 adapter for Google.
package google

import (
	"net/http"

	"github.com/goliatone/go-auth-link/social"
	"github.com/goliatone/go-auth-link/social/providers/oauth"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// Config holds Google OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// Offline requests a refresh token.
	Offline bool

	States     social.StateCodec
	HTTPClient *http.Client
}

// DefaultScopes returns the default Google scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// New creates the Google provider. The OpenID subject is the identifier.
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
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}

	return oauth.New(oauth.Config{
		Name:         "google",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackURL:  cfg.CallbackURL,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: cfg.UserInfoURL,
		States:      cfg.States,
		MapProfile:  oauth.FieldMapper("sub"),
		HTTPClient:  cfg.HTTPClient,
		Offline:     cfg.Offline,
	})
}
