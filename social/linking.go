package social

import (
	"context"
	"errors"
	"fmt"

	auth "github.com/goliatone/go-auth-link"
	"github.com/goliatone/go-auth-link/lock"
	goerrors "github.com/goliatone/go-errors"
	bunrepo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// Outcome names the branch Reconcile took.
type Outcome string

// Reconcile outcomes.
const (
	OutcomeLinkNew               Outcome = "link-new"
	OutcomeLinkUnclaimed         Outcome = "link-unclaimed"
	OutcomeAlreadyLinked         Outcome = "already-linked"
	OutcomeForceRequired         Outcome = "force-required"
	OutcomeRelinked              Outcome = "relinked"
	OutcomeUnclaimed             Outcome = "unclaimed"
	OutcomeRegisteredViaExisting Outcome = "registered-via-existing"
	OutcomeLogin                 Outcome = "login"
	OutcomeRegisteredNew         Outcome = "registered-new"
)

// IsLogin reports whether the outcome authenticates the account.
func (o Outcome) IsLogin() bool {
	switch o {
	case OutcomeLogin, OutcomeRegisteredNew, OutcomeRegisteredViaExisting:
		return true
	}
	return false
}

// IsLink reports whether the outcome attached an identity to the session.
func (o Outcome) IsLink() bool {
	switch o {
	case OutcomeLinkNew, OutcomeLinkUnclaimed, OutcomeRelinked:
		return true
	}
	return false
}

// maxAttempts bounds how often a decision is re-evaluated after losing a
// race against a concurrent callback for the same identity.
const maxAttempts = 3

// ReconcileRequest carries one inbound assertion.
type ReconcileRequest struct {
	Session           *auth.Account
	Type              string
	Identifier        string
	RefreshCredential string
	Profile           map[string]any
	ForceConfirmed    bool
}

func (r ReconcileRequest) providerKey() string {
	return ProviderKey(r.Identifier, r.Profile)
}

// LinkResult is the outcome of a reconciliation. Previous is set to the
// former owner when an identity was force-linked.
type LinkResult struct {
	Account  *auth.Account
	Identity *auth.Identity
	Outcome  Outcome
	Previous *auth.Account
}

// AccountLinker decides whether an assertion belongs to an existing
// account, a new one, or has to be merged into the session account.
type AccountLinker struct {
	resolver     *IdentityResolver
	identities   auth.IdentityStore
	accounts     auth.AccountStore
	locker       lock.Locker
	establisher  *SessionEstablisher
	activitySink auth.ActivitySink
	logger       auth.Logger
}

// LinkerOption configures an AccountLinker.
type LinkerOption func(*AccountLinker)

// WithLinkerLogger sets the logger.
func WithLinkerLogger(logger auth.Logger) LinkerOption {
	return func(l *AccountLinker) {
		l.logger = auth.NormalizeLogger(logger)
	}
}

// WithLinkerActivitySink sets the sink for link events.
func WithLinkerActivitySink(sink auth.ActivitySink) LinkerOption {
	return func(l *AccountLinker) {
		l.activitySink = auth.NormalizeActivitySink(sink)
	}
}

// WithLinkerEstablisher sets the establisher running registration hooks.
func WithLinkerEstablisher(establisher *SessionEstablisher) LinkerOption {
	return func(l *AccountLinker) {
		if establisher != nil {
			l.establisher = establisher
		}
	}
}

// NewAccountLinker creates a linker. A nil locker defaults to an in-process
// MemoryLocker.
func NewAccountLinker(identities auth.IdentityStore, accounts auth.AccountStore, locker lock.Locker, opts ...LinkerOption) *AccountLinker {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}

	l := &AccountLinker{
		resolver:     NewIdentityResolver(identities),
		identities:   identities,
		accounts:     accounts,
		locker:       locker,
		activitySink: auth.NormalizeActivitySink(nil),
		logger:       auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.establisher == nil {
		l.establisher = NewSessionEstablisher(nil, WithEstablisherLogger(l.logger))
	}
	return l
}

// Establisher returns the establisher used for registration hooks.
func (l *AccountLinker) Establisher() *SessionEstablisher {
	return l.establisher
}

// Reconcile runs the decision table for one assertion. Outcomes that
// need no mutation (already-linked, force-required, unclaimed, login)
// return without touching the store. A link-new result is only prepared;
// use CommitLink or Link to persist it.
func (l *AccountLinker) Reconcile(ctx context.Context, req ReconcileRequest) (*LinkResult, error) {
	req.Type = auth.NormalizeProviderType(req.Type)
	if req.Type == "" || req.providerKey() == "" {
		return nil, fmt.Errorf("%w: missing provider type or identifier", auth.ErrAssertionFailed)
	}

	identity, err := l.resolver.Resolve(ctx, req.Type, req.Identifier, req.Profile)
	if err != nil {
		return nil, err
	}

	return l.decide(ctx, req, identity, 0)
}

// Link reconciles and persists a link-new result in one call.
func (l *AccountLinker) Link(ctx context.Context, req ReconcileRequest) (*LinkResult, error) {
	result, err := l.Reconcile(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Outcome != OutcomeLinkNew {
		return result, nil
	}
	return l.CommitLink(ctx, req, result)
}

// CommitLink persists a prepared link-new result: the identity is created
// (or, if a concurrent callback created it first, the decision is re-run
// against the stored record) and appended to the session account.
func (l *AccountLinker) CommitLink(ctx context.Context, req ReconcileRequest, result *LinkResult) (*LinkResult, error) {
	if result == nil || result.Outcome != OutcomeLinkNew || req.Session == nil {
		return nil, goerrors.New(fmt.Sprintf("commit link: expected a prepared %s result", OutcomeLinkNew), goerrors.CategoryBadInput)
	}
	req.Type = auth.NormalizeProviderType(req.Type)

	stored, created, err := l.identities.CreateOrGet(ctx, result.Identity)
	if err != nil {
		return nil, err
	}
	if !created {
		return l.decide(ctx, req, stored, 1)
	}

	account, err := l.appendToAccount(ctx, req.Session, stored)
	if err != nil {
		return nil, err
	}

	l.record(ctx, auth.ActivityEventIdentityLinked, account, stored, nil)
	return &LinkResult{Account: account, Identity: stored, Outcome: OutcomeLinkNew}, nil
}

// Claim registers a new account for an identity that exists but has no
// owner (an "unclaimed" result), for instance one left behind by a failed
// registration hook.
func (l *AccountLinker) Claim(ctx context.Context, req ReconcileRequest, identity *auth.Identity) (*LinkResult, error) {
	if identity == nil {
		return nil, auth.ErrIdentityUnclaimed
	}
	req.Type = auth.NormalizeProviderType(req.Type)
	return l.claim(ctx, req, identity, 1)
}

func (l *AccountLinker) decide(ctx context.Context, req ReconcileRequest, identity *auth.Identity, attempt int) (*LinkResult, error) {
	if attempt > maxAttempts {
		return nil, goerrors.New(fmt.Sprintf("reconcile %s/%s: ownership kept changing", req.Type, req.providerKey()), goerrors.CategoryConflict)
	}

	if req.Session != nil {
		return l.decideWithSession(ctx, req, identity, attempt)
	}

	if identity == nil {
		return l.registerNew(ctx, req, attempt)
	}

	owner, err := l.loadOwner(ctx, identity)
	if err != nil {
		return nil, err
	}

	switch {
	case owner == nil:
		return &LinkResult{Identity: identity, Outcome: OutcomeUnclaimed}, nil
	case !owner.Registered:
		return l.registerExisting(ctx, req, identity, owner, attempt)
	default:
		return &LinkResult{Account: owner, Identity: identity, Outcome: OutcomeLogin}, nil
	}
}

func (l *AccountLinker) decideWithSession(ctx context.Context, req ReconcileRequest, identity *auth.Identity, attempt int) (*LinkResult, error) {
	session := req.Session

	if identity == nil {
		prepared := auth.NewIdentity(req.Type, req.providerKey(), req.RefreshCredential, req.Profile)
		prepared.OwnerID = session.ID
		return &LinkResult{Account: session, Identity: prepared, Outcome: OutcomeLinkNew}, nil
	}

	if identity.IsOwnedBy(session) {
		return &LinkResult{Account: session, Identity: identity, Outcome: OutcomeAlreadyLinked}, nil
	}

	owner, err := l.loadOwner(ctx, identity)
	if err != nil {
		return nil, err
	}

	switch {
	case owner == nil:
		return l.adopt(ctx, req, identity, attempt)
	case !req.ForceConfirmed:
		return &LinkResult{Account: session, Identity: identity, Outcome: OutcomeForceRequired, Previous: owner}, nil
	default:
		return l.forceLink(ctx, req, identity, owner, attempt)
	}
}

// forceLink moves identity from previous to the session account. The
// previous owner and the identity are locked together (in that order) while
// the identity is detached and reassigned; the session account is locked
// afterwards to append it. The identity is removed before it is added, so
// the two collections never both contain it.
func (l *AccountLinker) forceLink(ctx context.Context, req ReconcileRequest, identity *auth.Identity, previous *auth.Account, attempt int) (*LinkResult, error) {
	session := req.Session

	var raced *auth.Identity
	err := lock.Do(ctx, l.locker, previous.LockKey(), func(ctx context.Context) error {
		return lock.Do(ctx, l.locker, identity.LockKey(), func(ctx context.Context) error {
			fresh, err := l.identities.FindByID(ctx, identity.ID)
			if err != nil {
				return err
			}
			if fresh.OwnerID != previous.ID {
				raced = fresh
				return nil
			}

			owner, err := l.accounts.FindByID(ctx, previous.ID)
			switch {
			case err == nil:
				previous = owner
				if owner.RemoveIdentity(fresh.ID) {
					if err := l.accounts.Save(ctx, owner); err != nil {
						return err
					}
				}
			case bunrepo.IsRecordNotFound(err):
				l.anomaly(ctx, fresh, "previous owner %s vanished during force-link", previous.ID)
			default:
				return err
			}

			fresh.OwnerID = session.ID
			if err := l.identities.Save(ctx, fresh); err != nil {
				return err
			}
			identity = fresh
			return nil
		})
	})
	if err != nil {
		return nil, auth.WrapError(err, goerrors.CategoryOperation, fmt.Sprintf("force-link: reassign from %s", previous.ID))
	}
	if raced != nil {
		return l.decide(ctx, req, raced, attempt+1)
	}

	account, err := l.appendToAccount(ctx, session, identity)
	if err != nil {
		return nil, auth.WrapError(err, goerrors.CategoryOperation, "force-link: attach")
	}

	l.record(ctx, auth.ActivityEventIdentityRelinked, account, identity, map[string]any{
		"previous_account_id": previous.ID.String(),
	})
	return &LinkResult{Account: account, Identity: identity, Outcome: OutcomeRelinked, Previous: previous}, nil
}

// adopt attaches an identity with no resolvable owner to the session.
func (l *AccountLinker) adopt(ctx context.Context, req ReconcileRequest, identity *auth.Identity, attempt int) (*LinkResult, error) {
	var raced *auth.Identity

	err := lock.Do(ctx, l.locker, identity.LockKey(), func(ctx context.Context) error {
		fresh, err := l.identities.FindByID(ctx, identity.ID)
		if err != nil {
			return err
		}
		if fresh.OwnerID != identity.OwnerID {
			raced = fresh
			return nil
		}
		fresh.OwnerID = req.Session.ID
		if err := l.identities.Save(ctx, fresh); err != nil {
			return err
		}
		identity = fresh
		return nil
	})
	if err != nil {
		return nil, auth.WrapError(err, goerrors.CategoryOperation, "link unclaimed identity")
	}
	if raced != nil {
		return l.decide(ctx, req, raced, attempt+1)
	}

	account, err := l.appendToAccount(ctx, req.Session, identity)
	if err != nil {
		return nil, auth.WrapError(err, goerrors.CategoryOperation, "link unclaimed identity")
	}

	l.record(ctx, auth.ActivityEventIdentityLinked, account, identity, nil)
	return &LinkResult{Account: account, Identity: identity, Outcome: OutcomeLinkUnclaimed}, nil
}

// registerExisting completes the registration of an owner that has not
// been registered yet. Ownership is re-checked under each lock and the
// decision re-run if the identity moved; Registered is re-checked under the
// owner lock so the hook fires at most once.
func (l *AccountLinker) registerExisting(ctx context.Context, req ReconcileRequest, identity *auth.Identity, owner *auth.Account, attempt int) (*LinkResult, error) {
	var raced *auth.Identity

	err := lock.Do(ctx, l.locker, identity.LockKey(), func(ctx context.Context) error {
		fresh, err := l.identities.FindByID(ctx, identity.ID)
		if err != nil {
			return err
		}
		if fresh.OwnerID != owner.ID {
			raced = fresh
			return nil
		}
		fresh.Refresh(req.Type, req.providerKey(), req.RefreshCredential, req.Profile)
		if err := l.identities.Save(ctx, fresh); err != nil {
			return err
		}
		identity = fresh
		return nil
	})
	if err != nil {
		return nil, auth.WrapError(err, goerrors.CategoryOperation, "register existing: refresh identity")
	}
	if raced != nil {
		return l.decide(ctx, req, raced, attempt+1)
	}

	outcome := OutcomeRegisteredViaExisting
	err = lock.Do(ctx, l.locker, owner.LockKey(), func(ctx context.Context) error {
		current, err := l.identities.FindByID(ctx, identity.ID)
		if err != nil {
			return err
		}
		if current.OwnerID != owner.ID {
			raced = current
			return nil
		}

		fresh, err := l.accounts.FindByID(ctx, owner.ID)
		if err != nil {
			return err
		}

		changed := fresh.AddIdentity(identity.ID)
		if fresh.Registered {
			outcome = OutcomeLogin
		} else {
			fresh.Registered = true
			if err := l.establisher.Register(ctx, identity, fresh); err != nil {
				return err
			}
			changed = true
		}

		owner = fresh
		if !changed {
			return nil
		}
		return l.accounts.Save(ctx, fresh)
	})
	if err != nil {
		return nil, auth.WrapError(err, goerrors.CategoryOperation, "register existing")
	}
	if raced != nil {
		return l.decide(ctx, req, raced, attempt+1)
	}

	return &LinkResult{Account: owner, Identity: identity, Outcome: outcome}, nil
}

// registerNew creates the identity and a registered account for it. When a
// concurrent callback created the same identity first the decision is
// re-run against that record.
func (l *AccountLinker) registerNew(ctx context.Context, req ReconcileRequest, attempt int) (*LinkResult, error) {
	prepared := auth.NewIdentity(req.Type, req.providerKey(), req.RefreshCredential, req.Profile)

	stored, created, err := l.identities.CreateOrGet(ctx, prepared)
	if err != nil {
		return nil, auth.WrapError(err, goerrors.CategoryOperation, "register new")
	}
	if !created {
		return l.decide(ctx, req, stored, attempt+1)
	}

	return l.claim(ctx, req, stored, attempt)
}

func (l *AccountLinker) claim(ctx context.Context, req ReconcileRequest, identity *auth.Identity, attempt int) (*LinkResult, error) {
	var (
		result *LinkResult
		raced  *auth.Identity
	)

	err := lock.Do(ctx, l.locker, identity.LockKey(), func(ctx context.Context) error {
		fresh, err := l.identities.FindByID(ctx, identity.ID)
		if err != nil {
			return err
		}
		if fresh.HasOwner() {
			raced = fresh
			return nil
		}

		fresh.Refresh(req.Type, req.providerKey(), req.RefreshCredential, req.Profile)

		account := auth.NewAccount()
		account.Registered = true
		account.AddIdentity(fresh.ID)

		if err := l.establisher.Register(ctx, fresh, account); err != nil {
			return err
		}
		if err := l.accounts.Insert(ctx, account); err != nil {
			return err
		}

		fresh.OwnerID = account.ID
		if err := l.identities.Save(ctx, fresh); err != nil {
			return err
		}

		result = &LinkResult{Account: account, Identity: fresh, Outcome: OutcomeRegisteredNew}
		return nil
	})
	if err != nil {
		return nil, auth.WrapError(err, goerrors.CategoryOperation, "register new")
	}
	if raced != nil {
		return l.decide(ctx, req, raced, attempt+1)
	}
	return result, nil
}

// appendToAccount adds identity to account's collection under its lock.
// The identity is re-read first: if a concurrent force-link already moved
// it elsewhere the collection is left alone and ErrForceRequired returned.
func (l *AccountLinker) appendToAccount(ctx context.Context, account *auth.Account, identity *auth.Identity) (*auth.Account, error) {
	var updated *auth.Account
	err := lock.Do(ctx, l.locker, account.LockKey(), func(ctx context.Context) error {
		owned, err := l.ownedBy(ctx, identity.ID, account.ID)
		if err != nil {
			return err
		}
		if !owned {
			return fmt.Errorf("%w: identity %s moved concurrently", auth.ErrForceRequired, identity.ID)
		}

		fresh, err := l.accounts.FindByID(ctx, account.ID)
		if err != nil {
			return err
		}
		updated = fresh
		if !fresh.AddIdentity(identity.ID) {
			return nil
		}
		return l.accounts.Save(ctx, fresh)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *AccountLinker) ownedBy(ctx context.Context, identityID, accountID uuid.UUID) (bool, error) {
	current, err := l.identities.FindByID(ctx, identityID)
	if err != nil {
		return false, err
	}
	return current.OwnerID == accountID, nil
}

// loadOwner returns the identity's owner, nil when it has none, or nil
// after logging an anomaly when the owner id does not resolve.
func (l *AccountLinker) loadOwner(ctx context.Context, identity *auth.Identity) (*auth.Account, error) {
	if !identity.HasOwner() {
		return nil, nil
	}

	owner, err := l.accounts.FindByID(ctx, identity.OwnerID)
	if err != nil {
		if bunrepo.IsRecordNotFound(err) {
			l.anomaly(ctx, identity, "owner %s not found", identity.OwnerID)
			return nil, nil
		}
		return nil, auth.WrapError(err, goerrors.CategoryInternal, fmt.Sprintf("load owner %s", identity.OwnerID))
	}
	return owner, nil
}

func (l *AccountLinker) anomaly(ctx context.Context, identity *auth.Identity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Error("consistency anomaly: identity %s (%s): %s", identity.ID, identity.ProviderType, msg)
	auth.RecordActivity(ctx, l.activitySink, l.logger, auth.ActivityEvent{
		EventType:  auth.ActivityEventConsistencyAnomaly,
		AccountID:  identity.OwnerID.String(),
		IdentityID: identity.ID.String(),
		Provider:   identity.ProviderType,
		Metadata:   map[string]any{"detail": msg},
	})
}

func (l *AccountLinker) record(ctx context.Context, event auth.ActivityEventType, account *auth.Account, identity *auth.Identity, meta map[string]any) {
	auth.RecordActivity(ctx, l.activitySink, l.logger, auth.ActivityEvent{
		EventType:  event,
		AccountID:  account.ID.String(),
		IdentityID: identity.ID.String(),
		Provider:   identity.ProviderType,
		Metadata:   meta,
	})
}

// IsLockTimeout reports whether err came from a record lock timing out.
func IsLockTimeout(err error) bool {
	return errors.Is(err, auth.ErrLockTimeout)
}
