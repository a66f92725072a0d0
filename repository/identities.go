package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	auth "github.com/goliatone/go-auth-link"
	goerrors "github.com/goliatone/go-errors"
	bunrepo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IdentityRepository implements auth.IdentityStore using Bun.
type IdentityRepository struct {
	bunrepo.Repository[*auth.Identity]
	db bun.IDB
}

var _ auth.IdentityStore = (*IdentityRepository)(nil)

// NewIdentityRepository creates a new repository.
func NewIdentityRepository(db *bun.DB) *IdentityRepository {
	repo := bunrepo.NewRepository[*auth.Identity](db, bunrepo.ModelHandlers[*auth.Identity]{
		NewRecord: func() *auth.Identity { return &auth.Identity{} },
		GetID: func(i *auth.Identity) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *auth.Identity, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &IdentityRepository{
		Repository: repo,
		db:         db,
	}
}

// FindByID implements auth.IdentityStore.
func (r *IdentityRepository) FindByID(ctx context.Context, id uuid.UUID) (*auth.Identity, error) {
	record, err := r.Repository.GetByID(ctx, id.String())
	if err != nil {
		return nil, notFound(err, map[string]any{"id": id.String()})
	}
	return record, nil
}

// FindByProvider implements auth.IdentityStore.
func (r *IdentityRepository) FindByProvider(ctx context.Context, providerID, providerType string) (*auth.Identity, error) {
	providerType = auth.NormalizeProviderType(providerType)

	record := &auth.Identity{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.provider_type = ?", providerType).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, map[string]any{
			"provider_id":   providerID,
			"provider_type": providerType,
		})
	}
	return record, nil
}

// FindByOwner implements auth.IdentityStore.
func (r *IdentityRepository) FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]*auth.Identity, error) {
	var records []*auth.Identity
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.owner_id = ?", ownerID).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, auth.WrapError(err, goerrors.CategoryInternal, "find identities by owner")
	}
	if records == nil {
		records = []*auth.Identity{}
	}
	return records, nil
}

// CountByOwnerAndType implements auth.IdentityStore.
func (r *IdentityRepository) CountByOwnerAndType(ctx context.Context, ownerID uuid.UUID, providerType string) (int, error) {
	return r.db.NewSelect().
		Model((*auth.Identity)(nil)).
		Where("?TableAlias.owner_id = ?", ownerID).
		Where("?TableAlias.provider_type = ?", auth.NormalizeProviderType(providerType)).
		Count(ctx)
}

// CreateOrGet implements auth.IdentityStore. The unique index on the
// provider pair decides which of two concurrent inserts wins.
func (r *IdentityRepository) CreateOrGet(ctx context.Context, identity *auth.Identity) (*auth.Identity, bool, error) {
	if identity == nil {
		return nil, false, goerrors.New("create identity: nil record", goerrors.CategoryBadInput)
	}

	identity.ProviderType = auth.NormalizeProviderType(identity.ProviderType)
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := time.Now()
	identity.CreatedAt = &now
	identity.UpdatedAt = &now

	res, err := r.db.NewInsert().
		Model(identity).
		On("CONFLICT (provider_id, provider_type) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, auth.WrapError(err, goerrors.CategoryInternal, "create identity")
	}

	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return identity, true, nil
	}

	existing, err := r.FindByProvider(ctx, identity.ProviderID, identity.ProviderType)
	if err != nil {
		return nil, false, auth.WrapError(err, goerrors.CategoryInternal, "create identity: load existing")
	}
	return existing, false, nil
}

// Save implements auth.IdentityStore.
func (r *IdentityRepository) Save(ctx context.Context, identity *auth.Identity) error {
	now := time.Now()
	identity.UpdatedAt = &now
	identity.ProviderType = auth.NormalizeProviderType(identity.ProviderType)

	res, err := r.db.NewUpdate().
		Model(identity).
		WherePK().
		Exec(ctx)
	if err != nil {
		return auth.WrapError(err, goerrors.CategoryInternal, fmt.Sprintf("save identity %s", identity.ID))
	}
	return requireAffected(res, map[string]any{"id": identity.ID.String()})
}

func notFound(err error, meta map[string]any) error {
	if bunrepo.IsRecordNotFound(err) {
		return bunrepo.NewRecordNotFound().WithMetadata(meta)
	}
	return err
}

func requireAffected(res sql.Result, meta map[string]any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return bunrepo.NewRecordNotFound().WithMetadata(meta)
	}
	return nil
}
