package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	auth "github.com/goliatone/go-auth-link"
	goerrors "github.com/goliatone/go-errors"
	bunrepo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

func setupManager(t *testing.T) (Manager, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	manager := NewRepositoryManager(bunDB)
	require.NoError(t, manager.Validate())
	require.NoError(t, manager.Migrate(context.Background()))

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return manager, cleanup
}

func TestMigrateIsIdempotent(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	require.NoError(t, Migrate(context.Background(), manager.DB()))
}

func TestIdentityRepositoryCreateOrGetDeduplicates(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	ctx := context.Background()
	repo := manager.Identities()

	first := auth.NewIdentity("Discord", "123", "refresh-1", map[string]any{"id": "123", "username": "octo"})
	created, ok, err := repo.CreateOrGet(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "discord", created.ProviderType)

	second := auth.NewIdentity("discord", "123", "refresh-2", nil)
	existing, ok, err := repo.CreateOrGet(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, first.ID, existing.ID)
	assert.Equal(t, "refresh-1", existing.RefreshCredential)
	assert.Equal(t, "octo", existing.Profile["username"])

	other := auth.NewIdentity("github", "123", "", nil)
	_, ok, err = repo.CreateOrGet(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdentityRepositoryConcurrentCreateOrGet(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	ctx := context.Background()
	repo := manager.Identities()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[uuid.UUID]bool{}
	createdCount := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, created, err := repo.CreateOrGet(ctx, auth.NewIdentity("discord", "race", "", nil))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[record.ID] = true
			if created {
				createdCount++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	assert.Len(t, ids, 1)
}

func TestIdentityRepositoryFindByProviderNotFound(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	_, err := manager.Identities().FindByProvider(context.Background(), "missing", "discord")
	require.Error(t, err)
	assert.True(t, bunrepo.IsRecordNotFound(err))
}

func TestIdentityRepositoryOwnerLookups(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	ctx := context.Background()
	repo := manager.Identities()
	ownerID := uuid.New()

	a := auth.NewIdentity("discord", "a", "", nil)
	a.OwnerID = ownerID
	b := auth.NewIdentity("github", "b", "", nil)
	b.OwnerID = ownerID
	c := auth.NewIdentity("discord", "c", "", nil)

	for _, identity := range []*auth.Identity{a, b, c} {
		_, _, err := repo.CreateOrGet(ctx, identity)
		require.NoError(t, err)
	}

	owned, err := repo.FindByOwner(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, owned, 2)

	count, err := repo.CountByOwnerAndType(ctx, ownerID, "DISCORD")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	none, err := repo.FindByOwner(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)

	loaded, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, loaded.HasOwner())
}

func TestIdentityRepositorySave(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	ctx := context.Background()
	repo := manager.Identities()

	identity := auth.NewIdentity("discord", "123", "old", map[string]any{"plan": "free"})
	_, _, err := repo.CreateOrGet(ctx, identity)
	require.NoError(t, err)

	ownerID := uuid.New()
	identity.OwnerID = ownerID
	identity.Refresh("discord", "123", "new", map[string]any{"plan": "pro"})
	require.NoError(t, repo.Save(ctx, identity))

	loaded, err := repo.FindByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, ownerID, loaded.OwnerID)
	assert.Equal(t, "new", loaded.RefreshCredential)
	assert.Equal(t, "pro", loaded.Profile["plan"])

	missing := auth.NewIdentity("discord", "nope", "", nil)
	err = repo.Save(ctx, missing)
	require.Error(t, err)
	assert.True(t, bunrepo.IsRecordNotFound(err))
}

func TestAccountRepositoryInsertAndSave(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	ctx := context.Background()
	repo := manager.Accounts()

	first, second := uuid.New(), uuid.New()
	account := auth.NewAccount()
	account.AddIdentity(first)
	account.AddIdentity(second)
	account.OneTimeToken = "abc123"
	require.NoError(t, repo.Insert(ctx, account))

	loaded, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, loaded.IdentityIDs)
	assert.False(t, loaded.Registered)
	assert.Equal(t, "abc123", loaded.OneTimeToken)

	loaded.RemoveIdentity(first)
	loaded.Registered = true
	loaded.OneTimeToken = ""
	require.NoError(t, repo.Save(ctx, loaded))

	reloaded, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{second}, reloaded.IdentityIDs)
	assert.True(t, reloaded.Registered)
	assert.Equal(t, "abc123", reloaded.OneTimeToken, "save must not touch the one time token")
}

func TestAccountRepositoryOneTimeTokenClaim(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	ctx := context.Background()
	repo := manager.Accounts()

	account := auth.NewAccount()
	require.NoError(t, repo.Insert(ctx, account))
	require.NoError(t, repo.SetOneTimeToken(ctx, account.ID, "abc123"))

	found, err := repo.FindByOneTimeToken(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)

	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClearOneTimeToken(ctx, account.ID, "abc123")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)

	_, err = repo.FindByOneTimeToken(ctx, "abc123")
	require.Error(t, err)
	assert.True(t, bunrepo.IsRecordNotFound(err))

	_, err = repo.FindByOneTimeToken(ctx, "")
	assert.True(t, bunrepo.IsRecordNotFound(err))
}

func TestRepositoriesFindByIDNotFound(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	ctx := context.Background()

	_, err := manager.Identities().FindByID(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, bunrepo.IsRecordNotFound(err))

	_, err = manager.Accounts().FindByID(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, bunrepo.IsRecordNotFound(err))
}

func TestAccountRepositoryInsertAssignsIDAndRejectsDuplicates(t *testing.T) {
	manager, cleanup := setupManager(t)
	defer cleanup()

	ctx := context.Background()
	repo := manager.Accounts()

	account := &auth.Account{Registered: true}
	require.NoError(t, repo.Insert(ctx, account))
	require.NotEqual(t, uuid.Nil, account.ID)
	assert.Equal(t, []uuid.UUID{}, account.IdentityIDs)

	loaded, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Registered)

	err = repo.Insert(ctx, &auth.Account{ID: account.ID})
	require.Error(t, err)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Contains(t, err.Error(), "insert account")
	assert.False(t, bunrepo.IsRecordNotFound(err))
}
