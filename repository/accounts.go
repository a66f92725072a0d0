package repository

import (
	"context"
	"fmt"
	"time"

	auth "github.com/goliatone/go-auth-link"
	goerrors "github.com/goliatone/go-errors"
	bunrepo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountRepository implements auth.AccountStore using Bun.
type AccountRepository struct {
	bunrepo.Repository[*auth.Account]
	db bun.IDB
}

var _ auth.AccountStore = (*AccountRepository)(nil)

// NewAccountRepository creates a new repository.
func NewAccountRepository(db *bun.DB) *AccountRepository {
	repo := bunrepo.NewRepository[*auth.Account](db, bunrepo.ModelHandlers[*auth.Account]{
		NewRecord: func() *auth.Account { return &auth.Account{} },
		GetID: func(a *auth.Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *auth.Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &AccountRepository{
		Repository: repo,
		db:         db,
	}
}

// FindByID implements auth.AccountStore.
func (r *AccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*auth.Account, error) {
	record, err := r.Repository.GetByID(ctx, id.String())
	if err != nil {
		return nil, notFound(err, map[string]any{"id": id.String()})
	}
	normalizeAccount(record)
	return record, nil
}

// FindByOneTimeToken implements auth.AccountStore.
func (r *AccountRepository) FindByOneTimeToken(ctx context.Context, token string) (*auth.Account, error) {
	if token == "" {
		return nil, bunrepo.NewRecordNotFound()
	}

	record := &auth.Account{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.one_time_token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, map[string]any{"one_time_token": "<redacted>"})
	}
	normalizeAccount(record)
	return record, nil
}

// Insert implements auth.AccountStore.
func (r *AccountRepository) Insert(ctx context.Context, account *auth.Account) error {
	normalizeAccount(account)
	now := time.Now()
	account.CreatedAt = &now
	account.UpdatedAt = &now

	if _, err := r.Repository.Create(ctx, account); err != nil {
		return auth.WrapError(err, goerrors.CategoryInternal, fmt.Sprintf("insert account %s", account.ID))
	}
	return nil
}

// Save implements auth.AccountStore. The one time token is only ever
// written through SetOneTimeToken and ClearOneTimeToken so that a save
// from a stale read cannot resurrect a consumed token.
func (r *AccountRepository) Save(ctx context.Context, account *auth.Account) error {
	normalizeAccount(account)
	now := time.Now()
	account.UpdatedAt = &now

	res, err := r.db.NewUpdate().
		Model(account).
		ExcludeColumn("one_time_token", "created_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return auth.WrapError(err, goerrors.CategoryInternal, fmt.Sprintf("save account %s", account.ID))
	}
	return requireAffected(res, map[string]any{"id": account.ID.String()})
}

// ClearOneTimeToken implements auth.AccountStore as a compare-and-clear:
// only the caller whose update matched the stored token claims it.
func (r *AccountRepository) ClearOneTimeToken(ctx context.Context, id uuid.UUID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	res, err := r.db.NewUpdate().
		Model((*auth.Account)(nil)).
		Set("one_time_token = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Where("one_time_token = ?", token).
		Exec(ctx)
	if err != nil {
		return false, auth.WrapError(err, goerrors.CategoryInternal, fmt.Sprintf("clear one time token %s", id))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetOneTimeToken implements auth.AccountStore.
func (r *AccountRepository) SetOneTimeToken(ctx context.Context, id uuid.UUID, token string) error {
	res, err := r.db.NewUpdate().
		Model((*auth.Account)(nil)).
		Set("one_time_token = ?", token).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return auth.WrapError(err, goerrors.CategoryInternal, fmt.Sprintf("set one time token %s", id))
	}
	return requireAffected(res, map[string]any{"id": id.String()})
}

func normalizeAccount(account *auth.Account) {
	if account.IdentityIDs == nil {
		account.IdentityIDs = []uuid.UUID{}
	}
}
