package social

import (
	"context"

	auth "github.com/goliatone/go-auth-link"
	goerrors "github.com/goliatone/go-errors"
	bunrepo "github.com/goliatone/go-repository-bun"
)

// IdentityResolver finds the identity record matching an assertion.
type IdentityResolver struct {
	identities auth.IdentityStore
}

// NewIdentityResolver creates a resolver over identities.
func NewIdentityResolver(identities auth.IdentityStore) *IdentityResolver {
	return &IdentityResolver{identities: identities}
}

// Resolve looks the identity up by (profile id or identifier, type). It
// returns nil when none exists and never creates one.
func (r *IdentityResolver) Resolve(ctx context.Context, providerType, identifier string, profile map[string]any) (*auth.Identity, error) {
	identity, err := r.identities.FindByProvider(ctx, ProviderKey(identifier, profile), providerType)
	if err != nil {
		if bunrepo.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, auth.WrapError(err, goerrors.CategoryInternal, "resolve identity")
	}
	return identity, nil
}

// ProviderKey returns the id the provider profile carries, falling back to
// the raw identifier.
func ProviderKey(identifier string, profile map[string]any) string {
	if id, ok := auth.ProfileID(profile); ok {
		return id
	}
	return identifier
}
