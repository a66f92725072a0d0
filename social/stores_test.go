package social

import (
	"context"
	"sync"
	"testing"

	auth "github.com/goliatone/go-auth-link"
	bunrepo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

type memoryIdentities struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*auth.Identity
	saves int
}

func newMemoryIdentities() *memoryIdentities {
	return &memoryIdentities{byID: map[uuid.UUID]*auth.Identity{}}
}

func cloneIdentity(i *auth.Identity) *auth.Identity {
	c := *i
	return &c
}

func (s *memoryIdentities) put(identity *auth.Identity) *auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[identity.ID] = cloneIdentity(identity)
	return identity
}

func (s *memoryIdentities) get(id uuid.UUID) *auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity, ok := s.byID[id]; ok {
		return cloneIdentity(identity)
	}
	return nil
}

func (s *memoryIdentities) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memoryIdentities) FindByID(_ context.Context, id uuid.UUID) (*auth.Identity, error) {
	if identity := s.get(id); identity != nil {
		return identity, nil
	}
	return nil, bunrepo.NewRecordNotFound()
}

func (s *memoryIdentities) FindByProvider(_ context.Context, providerID, providerType string) (*auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.byID {
		if identity.ProviderID == providerID && identity.ProviderType == providerType {
			return cloneIdentity(identity), nil
		}
	}
	return nil, bunrepo.NewRecordNotFound()
}

func (s *memoryIdentities) FindByOwner(_ context.Context, ownerID uuid.UUID) ([]*auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.Identity
	for _, identity := range s.byID {
		if identity.OwnerID == ownerID {
			out = append(out, cloneIdentity(identity))
		}
	}
	return out, nil
}

func (s *memoryIdentities) CountByOwnerAndType(_ context.Context, ownerID uuid.UUID, providerType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, identity := range s.byID {
		if identity.OwnerID == ownerID && identity.ProviderType == providerType {
			count++
		}
	}
	return count, nil
}

func (s *memoryIdentities) CreateOrGet(_ context.Context, identity *auth.Identity) (*auth.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.ProviderID == identity.ProviderID && existing.ProviderType == identity.ProviderType {
			return cloneIdentity(existing), false, nil
		}
	}
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	s.byID[identity.ID] = cloneIdentity(identity)
	return cloneIdentity(identity), true, nil
}

func (s *memoryIdentities) Save(_ context.Context, identity *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[identity.ID]; !ok {
		return bunrepo.NewRecordNotFound()
	}
	s.byID[identity.ID] = cloneIdentity(identity)
	s.saves++
	return nil
}

type memoryAccounts struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*auth.Account
	saves   int
	inserts int
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{byID: map[uuid.UUID]*auth.Account{}}
}

func cloneAccount(a *auth.Account) *auth.Account {
	c := *a
	c.IdentityIDs = append([]uuid.UUID{}, a.IdentityIDs...)
	return &c
}

func (s *memoryAccounts) put(account *auth.Account) *auth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[account.ID] = cloneAccount(account)
	return account
}

func (s *memoryAccounts) get(id uuid.UUID) *auth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.byID[id]; ok {
		return cloneAccount(account)
	}
	return nil
}

func (s *memoryAccounts) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *memoryAccounts) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves + s.inserts
}

func (s *memoryAccounts) FindByID(_ context.Context, id uuid.UUID) (*auth.Account, error) {
	if account := s.get(id); account != nil {
		return account, nil
	}
	return nil, bunrepo.NewRecordNotFound()
}

func (s *memoryAccounts) FindByOneTimeToken(_ context.Context, token string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.byID {
		if account.OneTimeToken != "" && account.OneTimeToken == token {
			return cloneAccount(account), nil
		}
	}
	return nil, bunrepo.NewRecordNotFound()
}

func (s *memoryAccounts) Insert(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[account.ID] = cloneAccount(account)
	s.inserts++
	return nil
}

func (s *memoryAccounts) Save(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[account.ID]
	if !ok {
		return bunrepo.NewRecordNotFound()
	}
	updated := cloneAccount(account)
	updated.OneTimeToken = stored.OneTimeToken
	s.byID[account.ID] = updated
	s.saves++
	return nil
}

func (s *memoryAccounts) ClearOneTimeToken(_ context.Context, id uuid.UUID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[id]
	if !ok || stored.OneTimeToken == "" || stored.OneTimeToken != token {
		return false, nil
	}
	stored.OneTimeToken = ""
	return true, nil
}

func (s *memoryAccounts) SetOneTimeToken(_ context.Context, id uuid.UUID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[id]
	if !ok {
		return bunrepo.NewRecordNotFound()
	}
	stored.OneTimeToken = token
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *eventRecorder) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) count(eventType auth.ActivityEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type linkFixture struct {
	identities    *memoryIdentities
	accounts      *memoryAccounts
	hooks         *Hooks
	events        *eventRecorder
	linker        *AccountLinker
	registrations *counter
	logins        *counter
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()

	f := &linkFixture{
		identities:    newMemoryIdentities(),
		accounts:      newMemoryAccounts(),
		hooks:         NewHooks(),
		events:        &eventRecorder{},
		registrations: &counter{},
		logins:        &counter{},
	}

	f.hooks.OnRegistration(func(ctx context.Context, rc RegistrationContext) error {
		f.registrations.inc()
		return nil
	})
	f.hooks.OnLogin(func(ctx context.Context, account *auth.Account) error {
		f.logins.inc()
		return nil
	})

	establisher := NewSessionEstablisher(f.hooks,
		WithEstablisherActivitySink(f.events),
		WithEstablisherLogger(nopLogger{}),
	)
	f.linker = NewAccountLinker(f.identities, f.accounts, nil,
		WithLinkerEstablisher(establisher),
		WithLinkerActivitySink(f.events),
		WithLinkerLogger(nopLogger{}),
	)
	return f
}

// seedAccount stores an account owning one identity of providerType.
func (f *linkFixture) seedAccount(registered bool, providerType, providerID string) (*auth.Account, *auth.Identity) {
	account := auth.NewAccount()
	account.Registered = registered

	identity := auth.NewIdentity(providerType, providerID, "refresh-old", map[string]any{"id": providerID})
	identity.OwnerID = account.ID
	account.AddIdentity(identity.ID)

	f.accounts.put(account)
	f.identities.put(identity)
	return account, identity
}

// seedSession stores a registered account with no identities.
func (f *linkFixture) seedSession() *auth.Account {
	account := auth.NewAccount()
	account.Registered = true
	return f.accounts.put(account)
}

func discordRequest(session *auth.Account, id string) ReconcileRequest {
	return ReconcileRequest{
		Session:           session,
		Type:              "Discord",
		Identifier:        id,
		RefreshCredential: "refresh-new",
		Profile:           map[string]any{"id": id, "username": "user-" + id},
	}
}
