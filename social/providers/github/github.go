// Package github configures the OAuth2 adapter for GitHub.
package github

import (
	"net/http"

	"github.com/goliatone/go-auth-link/social"
	"github.com/goliatone/go-auth-link/social/providers/oauth"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://github.com/login/oauth/authorize"
	defaultTokenURL = "https://github.com/login/oauth/access_token"
	defaultUserURL  = "https://api.github.com/user"
)

// Config holds GitHub OAuth configuration.
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

// DefaultScopes returns the default GitHub scopes.
func DefaultScopes() []string {
	return []string{"read:user"}
}

// New creates the GitHub provider. The numeric user id is the identifier.
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
		Name:         "github",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackURL:  cfg.CallbackURL,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: cfg.UserURL,
		Headers:     map[string]string{"Accept": "application/vnd.github+json"},
		States:      cfg.States,
		MapProfile:  mapProfile,
		HTTPClient:  cfg.HTTPClient,
	})
}

func mapProfile(raw map[string]any) (string, map[string]any, error) {
	id, profile, err := oauth.FieldMapper("id")(raw)
	if err != nil {
		return "", nil, err
	}
	if login, ok := raw["login"].(string); ok && profile["username"] == nil {
		profile["username"] = login
	}
	return id, profile, nil
}
