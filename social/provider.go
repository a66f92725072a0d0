package social

import (
	"context"
	"fmt"
	"sort"
	"sync"

	auth "github.com/goliatone/go-auth-link"
)

// Assertion is what an identity provider yields after a successful
// callback: an identifier, the provider type tag, a refresh credential and
// the opaque profile blob. Redirect is the post login target the flow was
// started with, if the provider carries one.
type Assertion struct {
	Type              string
	Identifier        string
	RefreshCredential string
	Profile           map[string]any
	Redirect          string
}

// AssertionProvider is the black box wrapping the provider protocol. It
// either returns an Assertion or an error; a cancelled ctx aborts the
// whole reconciliation.
type AssertionProvider interface {
	// Name returns the provider type tag (e.g. "discord").
	Name() string

	// Assert completes the provider round trip for the callback params.
	Assert(ctx context.Context, params map[string]string) (*Assertion, error)
}

// AssertionProviderFunc adapts a function to AssertionProvider.
type AssertionProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, params map[string]string) (*Assertion, error)
}

// Name implements AssertionProvider.
func (f AssertionProviderFunc) Name() string {
	return f.ProviderName
}

// Assert implements AssertionProvider.
func (f AssertionProviderFunc) Assert(ctx context.Context, params map[string]string) (*Assertion, error) {
	if f.Fn == nil {
		return nil, auth.ErrAssertionFailed
	}
	return f.Fn(ctx, params)
}

// ProviderRegistry holds the configured providers keyed by lower cased
// name. Only registered and allowed names are accepted.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]AssertionProvider
	allowed   map[string]bool
}

// NewProviderRegistry creates a registry restricted to allowed. An empty
// allow-list accepts every registered provider.
func NewProviderRegistry(allowed []string, providers ...AssertionProvider) *ProviderRegistry {
	r := &ProviderRegistry{
		providers: make(map[string]AssertionProvider),
		allowed:   make(map[string]bool),
	}
	for _, name := range allowed {
		if name = auth.NormalizeProviderType(name); name != "" {
			r.allowed[name] = true
		}
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *ProviderRegistry) Register(provider AssertionProvider) {
	if provider == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[auth.NormalizeProviderType(provider.Name())] = provider
}

// Lookup returns the provider for providerType, matched case-insensitively.
func (r *ProviderRegistry) Lookup(providerType string) (AssertionProvider, error) {
	name := auth.NormalizeProviderType(providerType)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.allowed) > 0 && !r.allowed[name] {
		return nil, fmt.Errorf("%w: %s", auth.ErrProviderNotAllowed, name)
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", auth.ErrProviderNotAllowed, name)
	}
	return provider, nil
}

// Names lists the providers that are both registered and allowed.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		if len(r.allowed) == 0 || r.allowed[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
