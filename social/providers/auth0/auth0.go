// Package auth0 configures the OAuth2 adapter for an Auth0 tenant. The
// tenant's user id (the OpenID subject, e.g. "google-oauth2|123") is the
// identifier.
package auth0

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-auth-link/social"
	"github.com/goliatone/go-auth-link/social/providers/oauth"
	"golang.org/x/oauth2"
)

// Config holds Auth0 configuration.
type Config struct {
	// Domain is the tenant domain, e.g. "example.us.auth0.com".
	Domain string

	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	// Audience is forwarded on the authorize request (optional).
	Audience string

	// Offline adds the offline_access scope for a refresh token.
	Offline bool

	States     social.StateCodec
	HTTPClient *http.Client
}

// DefaultScopes returns the default Auth0 scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// New creates the Auth0 provider.
func New(cfg Config) *oauth.Provider {
	base := tenantURL(cfg.Domain)

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}
	if cfg.Offline && !contains(scopes, "offline_access") {
		scopes = append(append([]string{}, scopes...), "offline_access")
	}

	var extra map[string]string
	if cfg.Audience != "" {
		extra = map[string]string{"audience": cfg.Audience}
	}

	return oauth.New(oauth.Config{
		Name:         "auth0",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackURL:  cfg.CallbackURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "authorize",
			TokenURL:  base + "oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: base + "userinfo",
		AuthParams:  extra,
		States:      cfg.States,
		MapProfile:  oauth.FieldMapper("sub"),
		HTTPClient:  cfg.HTTPClient,
	})
}

// tenantURL returns "https://{domain}/", accepting a bare domain or a URL.
func tenantURL(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return strings.TrimSuffix(domain, "/") + "/"
	}
	return fmt.Sprintf("https://%s/", strings.TrimSuffix(domain, "/"))
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
