package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Record kinds used to scope locks.
const (
	KindIdentity = "identity"
	KindAccount  = "account"
)

// Record is implemented by every persisted entity that takes part in
// a locked read-modify-write sequence.
type Record interface {
	RecordID() uuid.UUID
	RecordKind() string
	LockKey() string
}

// LockKey builds the lock key for a record kind and id.
func LockKey(kind string, id uuid.UUID) string {
	return kind + ":" + id.String()
}

// Identity is the stored association between a provider issued
// identifier and an (optional) owning Account.
type Identity struct {
	bun.BaseModel     `bun:"table:identities,alias:idt"`
	ID                uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ProviderID        string         `bun:"provider_id,notnull" json:"provider_id"`
	ProviderType      string         `bun:"provider_type,notnull" json:"provider_type"`
	RefreshCredential string         `bun:"refresh_credential" json:"-"`
	Profile           map[string]any `bun:"profile,type:text" json:"profile,omitempty"`
	OwnerID           uuid.UUID      `bun:"owner_id,nullzero,type:uuid" json:"owner_id,omitempty"`
	CreatedAt         *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

var _ Record = (*Identity)(nil)

// NewIdentity prepares an unsaved, unowned identity for an assertion.
func NewIdentity(providerType, providerID, refresh string, profile map[string]any) *Identity {
	return &Identity{
		ID:                uuid.New(),
		ProviderID:        providerID,
		ProviderType:      NormalizeProviderType(providerType),
		RefreshCredential: refresh,
		Profile:           profile,
	}
}

func (i *Identity) RecordID() uuid.UUID { return i.ID }
func (i *Identity) RecordKind() string  { return KindIdentity }
func (i *Identity) LockKey() string     { return LockKey(KindIdentity, i.ID) }

// HasOwner reports whether the identity points at an account.
func (i *Identity) HasOwner() bool {
	return i != nil && i.OwnerID != uuid.Nil
}

// IsOwnedBy reports whether the identity is owned by the given account.
func (i *Identity) IsOwnedBy(account *Account) bool {
	if i == nil || account == nil || account.ID == uuid.Nil {
		return false
	}
	return i.OwnerID == account.ID
}

// Refresh overwrites the stored assertion fields with the latest values.
func (i *Identity) Refresh(providerType, providerID, refresh string, profile map[string]any) *Identity {
	i.ProviderID = providerID
	i.ProviderType = NormalizeProviderType(providerType)
	i.RefreshCredential = refresh
	i.Profile = profile
	return i
}

// Account is the internal user entity owning a collection of identities.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`
	ID            uuid.UUID   `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityIDs   []uuid.UUID `bun:"identity_ids,type:text" json:"identity_ids"`
	Registered    bool        `bun:"registered,notnull,default:false" json:"registered"`
	OneTimeToken  string      `bun:"one_time_token,nullzero" json:"-"`
	CreatedAt     *time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time  `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

var _ Record = (*Account)(nil)

// NewAccount returns an unsaved account with a fresh id.
func NewAccount() *Account {
	return &Account{
		ID:          uuid.New(),
		IdentityIDs: []uuid.UUID{},
	}
}

func (a *Account) RecordID() uuid.UUID { return a.ID }
func (a *Account) RecordKind() string  { return KindAccount }
func (a *Account) LockKey() string     { return LockKey(KindAccount, a.ID) }

// HasIdentity reports whether id is part of the owned collection.
func (a *Account) HasIdentity(id uuid.UUID) bool {
	for _, current := range a.IdentityIDs {
		if current == id {
			return true
		}
	}
	return false
}

// AddIdentity appends id to the owned collection, keeping order and
// ignoring duplicates. It reports whether the collection changed.
func (a *Account) AddIdentity(id uuid.UUID) bool {
	if id == uuid.Nil || a.HasIdentity(id) {
		return false
	}
	a.IdentityIDs = append(a.IdentityIDs, id)
	return true
}

// RemoveIdentity drops every occurrence of id from the owned collection.
// It reports whether the collection changed.
func (a *Account) RemoveIdentity(id uuid.UUID) bool {
	kept := make([]uuid.UUID, 0, len(a.IdentityIDs))
	for _, current := range a.IdentityIDs {
		if current != id {
			kept = append(kept, current)
		}
	}
	changed := len(kept) != len(a.IdentityIDs)
	a.IdentityIDs = kept
	return changed
}

// NormalizeProviderType lower cases and trims a provider type tag.
func NormalizeProviderType(providerType string) string {
	return strings.ToLower(strings.TrimSpace(providerType))
}

// ProfileID returns the provider id carried in a profile blob, if any.
// Providers disagree on whether ids are strings or numbers.
func ProfileID(profile map[string]any) (string, bool) {
	if profile == nil {
		return "", false
	}
	switch v := profile["id"].(type) {
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case fmt.Stringer:
		if s := v.String(); s != "" {
			return s, true
		}
	}
	return "", false
}
