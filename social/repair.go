package social

import (
	"context"
	"fmt"

	auth "github.com/goliatone/go-auth-link"
	"github.com/goliatone/go-auth-link/lock"
	goerrors "github.com/goliatone/go-errors"
	bunrepo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// RepairReport lists what RepairAccount changed.
type RepairReport struct {
	AccountID uuid.UUID
	Dropped   []uuid.UUID
	Added     []uuid.UUID
}

// Changed reports whether the account was rewritten.
func (r RepairReport) Changed() bool {
	return len(r.Dropped) > 0 || len(r.Added) > 0
}

// Repairer restores the ownership invariant for accounts left half updated
// by an interrupted link sequence. Identity ownership is authoritative; the
// account collection is rebuilt to agree with it.
type Repairer struct {
	identities   auth.IdentityStore
	accounts     auth.AccountStore
	locker       lock.Locker
	activitySink auth.ActivitySink
	logger       auth.Logger
}

// RepairerOption configures a Repairer.
type RepairerOption func(*Repairer)

// WithRepairerLogger sets the logger.
func WithRepairerLogger(logger auth.Logger) RepairerOption {
	return func(r *Repairer) {
		r.logger = auth.NormalizeLogger(logger)
	}
}

// WithRepairerActivitySink sets the sink for repair events.
func WithRepairerActivitySink(sink auth.ActivitySink) RepairerOption {
	return func(r *Repairer) {
		r.activitySink = auth.NormalizeActivitySink(sink)
	}
}

// NewRepairer creates a Repairer.
func NewRepairer(identities auth.IdentityStore, accounts auth.AccountStore, locker lock.Locker, opts ...RepairerOption) *Repairer {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	r := &Repairer{
		identities:   identities,
		accounts:     accounts,
		locker:       locker,
		activitySink: auth.NormalizeActivitySink(nil),
		logger:       auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RepairAccount drops collection entries whose identity is missing or owned
// elsewhere and appends identities that point at the account but are not
// listed.
func (r *Repairer) RepairAccount(ctx context.Context, accountID uuid.UUID) (RepairReport, error) {
	report := RepairReport{AccountID: accountID}

	err := lock.Do(ctx, r.locker, auth.LockKey(auth.KindAccount, accountID), func(ctx context.Context) error {
		account, err := r.accounts.FindByID(ctx, accountID)
		if err != nil {
			return err
		}

		for _, id := range append([]uuid.UUID(nil), account.IdentityIDs...) {
			identity, err := r.identities.FindByID(ctx, id)
			if err != nil && !bunrepo.IsRecordNotFound(err) {
				return err
			}
			if identity == nil || !identity.IsOwnedBy(account) {
				account.RemoveIdentity(id)
				report.Dropped = append(report.Dropped, id)
			}
		}

		owned, err := r.identities.FindByOwner(ctx, accountID)
		if err != nil {
			return err
		}
		for _, identity := range owned {
			if account.AddIdentity(identity.ID) {
				report.Added = append(report.Added, identity.ID)
			}
		}

		if !report.Changed() {
			return nil
		}
		return r.accounts.Save(ctx, account)
	})
	if err != nil {
		return report, auth.WrapError(err, goerrors.CategoryOperation, fmt.Sprintf("repair account %s", accountID))
	}

	if report.Changed() {
		r.logger.Info("repaired account %s: dropped %d, added %d", accountID, len(report.Dropped), len(report.Added))
		auth.RecordActivity(ctx, r.activitySink, r.logger, auth.ActivityEvent{
			EventType: auth.ActivityEventAccountRepaired,
			AccountID: accountID.String(),
			Metadata: map[string]any{
				"dropped": len(report.Dropped),
				"added":   len(report.Added),
			},
		})
	}
	return report, nil
}
