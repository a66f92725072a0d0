package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// IdentityStore is the persistence accessor for identity records
type IdentityStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	FindByProvider(ctx context.Context, providerID, providerType string) (*Identity, error)
	FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Identity, error)
	CountByOwnerAndType(ctx context.Context, ownerID uuid.UUID, providerType string) (int, error)
	// CreateOrGet inserts the identity unless the (provider id, type) pair
	// already exists, in which case the stored record is returned and
	// created is false.
	CreateOrGet(ctx context.Context, identity *Identity) (record *Identity, created bool, err error)
	Save(ctx context.Context, identity *Identity) error
}

// AccountStore is the persistence accessor for accounts
type AccountStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByOneTimeToken(ctx context.Context, token string) (*Account, error)
	Insert(ctx context.Context, account *Account) error
	Save(ctx context.Context, account *Account) error
	// ClearOneTimeToken clears the token only if it still matches,
	// reporting whether this call claimed it.
	ClearOneTimeToken(ctx context.Context, id uuid.UUID, token string) (bool, error)
	SetOneTimeToken(ctx context.Context, id uuid.UUID, token string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH-LINK "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH-LINK "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH-LINK "+newline(format), args...)
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

// NormalizeLogger returns l or the default logger when l is nil.
func NormalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
