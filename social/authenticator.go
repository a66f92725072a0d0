package social

import (
	"context"
	"fmt"

	auth "github.com/goliatone/go-auth-link"
	goerrors "github.com/goliatone/go-errors"
)

// AuthRequest is one provider callback as seen by the Authenticator.
// Session is the account of the current session, nil when anonymous.
type AuthRequest struct {
	Type           string
	Session        *auth.Account
	Params         map[string]string
	ForceConfirmed bool
}

// AuthResult is a successful authentication or link.
type AuthResult struct {
	*LinkResult
	Redirect string
}

// Authenticator runs the whole callback: provider round trip, identity
// reconciliation and login hooks.
type Authenticator struct {
	providers      *ProviderRegistry
	linker         *AccountLinker
	identities     auth.IdentityStore
	establisher    *SessionEstablisher
	confirmations  ConfirmationStore
	claimUnclaimed bool
	logger         auth.Logger
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger auth.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = auth.NormalizeLogger(logger)
	}
}

// WithConfirmations sets the store consulted when a force-link needs
// confirmation.
func WithConfirmations(store ConfirmationStore) AuthenticatorOption {
	return func(a *Authenticator) {
		a.confirmations = store
	}
}

// WithClaimUnclaimed controls whether an anonymous callback for an
// identity without owner registers a new account (the default) or fails
// with ErrIdentityUnclaimed.
func WithClaimUnclaimed(claim bool) AuthenticatorOption {
	return func(a *Authenticator) {
		a.claimUnclaimed = claim
	}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(providers *ProviderRegistry, linker *AccountLinker, identities auth.IdentityStore, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		providers:      providers,
		linker:         linker,
		identities:     identities,
		establisher:    linker.Establisher(),
		claimUnclaimed: true,
		logger:         auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Providers returns the provider registry.
func (a *Authenticator) Providers() *ProviderRegistry {
	return a.providers
}

// Authenticate completes a callback. Recoverable outcomes are reported as
// errors (see auth.IsRecoverable); login outcomes run the login hooks.
func (a *Authenticator) Authenticate(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	providerType := auth.NormalizeProviderType(req.Type)

	provider, err := a.providers.Lookup(providerType)
	if err != nil {
		return nil, err
	}

	if req.Session != nil {
		count, err := a.identities.CountByOwnerAndType(ctx, req.Session.ID, providerType)
		if err != nil {
			return nil, auth.WrapError(err, goerrors.CategoryInternal, "count identities")
		}
		if count > 0 {
			return nil, fmt.Errorf("%w: %s", auth.ErrAlreadyLinked, providerType)
		}
	}

	assertion, err := provider.Assert(ctx, req.Params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		a.logger.Info("assertion failed for %s: %v", providerType, err)
		return nil, wrapProviderError(auth.ErrAssertionFailed, providerType, "assert", err)
	}
	if assertion == nil {
		return nil, fmt.Errorf("%w: %s returned no assertion", auth.ErrAssertionFailed, providerType)
	}
	if t := auth.NormalizeProviderType(assertion.Type); t != "" && t != providerType {
		return nil, fmt.Errorf("%w: %s asserted type %q", auth.ErrAssertionFailed, providerType, t)
	}

	linkReq := ReconcileRequest{
		Session:           req.Session,
		Type:              providerType,
		Identifier:        assertion.Identifier,
		RefreshCredential: assertion.RefreshCredential,
		Profile:           assertion.Profile,
		ForceConfirmed:    req.ForceConfirmed,
	}

	result, err := a.linker.Link(ctx, linkReq)
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeForceRequired && a.consumeConfirmation(ctx, req.Session, providerType) {
		linkReq.ForceConfirmed = true
		if result, err = a.linker.Link(ctx, linkReq); err != nil {
			return nil, err
		}
	}

	if result.Outcome == OutcomeUnclaimed && a.claimUnclaimed {
		a.logger.Info("claiming unowned identity %s for a new account", result.Identity.ID)
		if result, err = a.linker.Claim(ctx, linkReq, result.Identity); err != nil {
			return nil, err
		}
	}

	switch result.Outcome {
	case OutcomeAlreadyLinked:
		return nil, fmt.Errorf("%w: %s", auth.ErrAlreadyLinked, providerType)
	case OutcomeForceRequired:
		return nil, fmt.Errorf("%w: %s", auth.ErrForceRequired, providerType)
	case OutcomeUnclaimed:
		return nil, fmt.Errorf("%w: %s", auth.ErrIdentityUnclaimed, providerType)
	}

	if result.Outcome.IsLogin() {
		if err := a.establisher.Login(ctx, result.Account); err != nil {
			return nil, err
		}
	}

	a.logger.Debug("callback %s resolved as %s for account %s", providerType, result.Outcome, result.Account.ID)
	return &AuthResult{LinkResult: result, Redirect: assertion.Redirect}, nil
}

func (a *Authenticator) consumeConfirmation(ctx context.Context, session *auth.Account, providerType string) bool {
	if a.confirmations == nil || session == nil {
		return false
	}
	ok, err := a.confirmations.Consume(ctx, session.ID, providerType)
	if err != nil {
		a.logger.Error("consume force confirmation for %s: %v", session.ID, err)
		return false
	}
	return ok
}

// Confirm records that the session account accepted a force-link for
// providerType. The next callback of that type consumes it.
func (a *Authenticator) Confirm(ctx context.Context, session *auth.Account, providerType string) error {
	if session == nil {
		return goerrors.New("force confirmation requires a session", goerrors.CategoryBadInput)
	}
	if a.confirmations == nil {
		return goerrors.New("force confirmations are not configured", goerrors.CategoryInternal)
	}
	providerType = auth.NormalizeProviderType(providerType)
	if _, err := a.providers.Lookup(providerType); err != nil {
		return err
	}
	return a.confirmations.Confirm(ctx, session.ID, providerType)
}
