// Package oauth adapts an OAuth2 authorization code flow to
// social.AssertionProvider: the callback code is exchanged for a token and
// the user info document becomes the assertion profile.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-link"
	"github.com/goliatone/go-auth-link/social"
	"golang.org/x/oauth2"
)

// ProfileMapper turns a user info document into the provider identifier
// and the profile blob to store.
type ProfileMapper func(raw map[string]any) (identifier string, profile map[string]any, err error)

// Config describes one OAuth2 provider.
type Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string

	// Headers are sent with the user info request.
	Headers map[string]string

	// Offline asks for a refresh token (access_type=offline).
	Offline bool

	// AuthParams are extra authorize request parameters.
	AuthParams map[string]string

	// States seals the callback state. Without it the state parameter is
	// not verified and PKCE is not used.
	States social.StateCodec

	MapProfile ProfileMapper
	HTTPClient *http.Client
}

// Provider implements social.AssertionProvider over golang.org/x/oauth2.
type Provider struct {
	name   string
	config Config
	oauth  *oauth2.Config
	client *http.Client
}

var _ social.AssertionProvider = (*Provider)(nil)

// New creates a provider.
func New(cfg Config) *Provider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MapProfile == nil {
		cfg.MapProfile = DefaultProfileMapper
	}

	return &Provider{
		name:   auth.NormalizeProviderType(cfg.Name),
		config: cfg,
		client: client,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint:     cfg.Endpoint,
		},
	}
}

// Name implements social.AssertionProvider.
func (p *Provider) Name() string {
	return p.name
}

// AuthCodeURL returns the authorization URL that starts the flow. redirect
// is carried through the sealed state and surfaces as Assertion.Redirect.
func (p *Provider) AuthCodeURL(redirect string) (string, error) {
	var opts []oauth2.AuthCodeOption
	if p.config.Offline {
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	for k, v := range p.config.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	if p.config.States == nil {
		return p.oauth.AuthCodeURL(randomState(), opts...), nil
	}

	verifier := oauth2.GenerateVerifier()
	state, err := p.config.States.Encode(&social.CallbackState{
		Provider: p.name,
		Verifier: verifier,
		Redirect: redirect,
	})
	if err != nil {
		return "", err
	}
	opts = append(opts, oauth2.S256ChallengeOption(verifier))
	return p.oauth.AuthCodeURL(state, opts...), nil
}

// Assert implements social.AssertionProvider. params are the callback
// query values: code, state, and error/error_description on refusal.
func (p *Provider) Assert(ctx context.Context, params map[string]string) (*social.Assertion, error) {
	if code := params["error"]; code != "" {
		return nil, p.fail("authorize", 0, code, params["error_description"], nil)
	}

	code := strings.TrimSpace(params["code"])
	if code == "" {
		return nil, p.fail("authorize", 0, "missing_code", "callback without code", nil)
	}

	var (
		opts     []oauth2.AuthCodeOption
		redirect string
	)
	if p.config.States != nil {
		state, err := p.config.States.Decode(params["state"])
		if err != nil {
			return nil, err
		}
		if state.Provider != p.name {
			return nil, fmt.Errorf("%w: issued for %q", social.ErrInvalidState, state.Provider)
		}
		if state.Verifier != "" {
			opts = append(opts, oauth2.VerifierOption(state.Verifier))
		}
		redirect = state.Redirect
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			status := 0
			if rerr.Response != nil {
				status = rerr.Response.StatusCode
			}
			return nil, p.fail("exchange", status, rerr.ErrorCode, rerr.ErrorDescription, err)
		}
		return nil, p.fail("exchange", 0, "", "", err)
	}

	raw, err := p.userInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	identifier, profile, err := p.config.MapProfile(raw)
	if err != nil {
		return nil, p.fail("user_info", 0, "invalid_profile", err.Error(), err)
	}

	return &social.Assertion{
		Type:              p.name,
		Identifier:        identifier,
		RefreshCredential: token.RefreshToken,
		Profile:           profile,
		Redirect:          redirect,
	}, nil
}

func (p *Provider) userInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, p.fail("user_info", 0, "", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, p.fail("user_info", resp.StatusCode, "", "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.fail("user_info", resp.StatusCode, "", strings.TrimSpace(string(body)), nil)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, p.fail("user_info", resp.StatusCode, "invalid_response", "failed to decode user info", err)
	}
	return raw, nil
}

func (p *Provider) fail(operation string, status int, code, description string, err error) error {
	return &social.ProviderError{
		Provider:    p.name,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}

// DefaultProfileMapper uses the document "id" as identifier and keeps the
// whole document as profile.
func DefaultProfileMapper(raw map[string]any) (string, map[string]any, error) {
	return FieldMapper("id")(raw)
}

// FieldMapper builds a mapper reading the identifier from field. The
// identifier is copied to profile["id"] so it resolves the same way the
// stored record does.
func FieldMapper(field string) ProfileMapper {
	return func(raw map[string]any) (string, map[string]any, error) {
		id, ok := auth.ProfileID(map[string]any{"id": raw[field]})
		if !ok {
			return "", nil, fmt.Errorf("user info has no %q", field)
		}
		profile := make(map[string]any, len(raw)+1)
		for k, v := range raw {
			profile[k] = v
		}
		profile["id"] = id
		return id, profile, nil
	}
}

func randomState() string {
	return strings.ReplaceAll(oauth2.GenerateVerifier()[:24], "-", "")
}
