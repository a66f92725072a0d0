package repository

import (
	"context"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// Manager exposes all repositories
type Manager interface {
	Validate() error
	MustValidate()
	DB() *bun.DB
	Identities() *IdentityRepository
	Accounts() *AccountRepository
	Migrate(ctx context.Context) error
}

type mngr struct {
	db         *bun.DB
	identities *IdentityRepository
	accounts   *AccountRepository
}

// NewRepositoryManager wires the identity and account repositories.
func NewRepositoryManager(db *bun.DB) Manager {
	return &mngr{
		db:         db,
		identities: NewIdentityRepository(db),
		accounts:   NewAccountRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.identities == nil {
		return errors.New("repository identities should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Identities() *IdentityRepository {
	return m.identities
}

func (m mngr) Accounts() *AccountRepository {
	return m.accounts
}

func (m mngr) Migrate(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return Migrate(ctx, m.db)
	}
}
