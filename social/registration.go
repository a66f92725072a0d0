package social

import (
	"context"
	"fmt"
	"sync"

	auth "github.com/goliatone/go-auth-link"
)

// RegistrationContext is handed to registration hooks. Hooks may mutate
// Account and Identity; the changes are persisted by the same save.
type RegistrationContext struct {
	Identity *auth.Identity
	Account  *auth.Account
	Request  map[string]any
}

// RegistrationHook runs exactly once when an account becomes registered.
type RegistrationHook func(ctx context.Context, rc RegistrationContext) error

// LoginHook runs after a session has been established for account.
type LoginHook func(ctx context.Context, account *auth.Account) error

// Hooks is the explicit callback list used by SessionEstablisher.
type Hooks struct {
	mu           sync.RWMutex
	registration []RegistrationHook
	login        []LoginHook
}

// NewHooks creates an empty hook list.
func NewHooks() *Hooks {
	return &Hooks{}
}

// OnRegistration appends a registration hook.
func (h *Hooks) OnRegistration(hook RegistrationHook) *Hooks {
	if hook != nil {
		h.mu.Lock()
		h.registration = append(h.registration, hook)
		h.mu.Unlock()
	}
	return h
}

// OnLogin appends a login hook.
func (h *Hooks) OnLogin(hook LoginHook) *Hooks {
	if hook != nil {
		h.mu.Lock()
		h.login = append(h.login, hook)
		h.mu.Unlock()
	}
	return h
}

func (h *Hooks) registrationHooks() []RegistrationHook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]RegistrationHook(nil), h.registration...)
}

func (h *Hooks) loginHooks() []LoginHook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]LoginHook(nil), h.login...)
}

// SessionEstablisher runs the registration and login hooks.
type SessionEstablisher struct {
	hooks        *Hooks
	activitySink auth.ActivitySink
	logger       auth.Logger
}

// EstablisherOption configures a SessionEstablisher.
type EstablisherOption func(*SessionEstablisher)

// WithEstablisherActivitySink sets the sink for registration/login events.
func WithEstablisherActivitySink(sink auth.ActivitySink) EstablisherOption {
	return func(s *SessionEstablisher) {
		s.activitySink = auth.NormalizeActivitySink(sink)
	}
}

// WithEstablisherLogger sets the logger.
func WithEstablisherLogger(logger auth.Logger) EstablisherOption {
	return func(s *SessionEstablisher) {
		s.logger = auth.NormalizeLogger(logger)
	}
}

// NewSessionEstablisher creates an establisher over hooks.
func NewSessionEstablisher(hooks *Hooks, opts ...EstablisherOption) *SessionEstablisher {
	if hooks == nil {
		hooks = NewHooks()
	}
	s := &SessionEstablisher{
		hooks:        hooks,
		activitySink: auth.NormalizeActivitySink(nil),
		logger:       auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Hooks returns the callback list so callers can register hooks.
func (s *SessionEstablisher) Hooks() *Hooks {
	return s.hooks
}

// Register runs every registration hook in order and waits for each one.
// The first failure aborts registration; the caller must not persist the
// account in that case.
func (s *SessionEstablisher) Register(ctx context.Context, identity *auth.Identity, account *auth.Account) error {
	rc := RegistrationContext{
		Identity: identity,
		Account:  account,
		Request:  auth.RequestContext(ctx),
	}

	for _, hook := range s.hooks.registrationHooks() {
		if err := hook(ctx, rc); err != nil {
			return fmt.Errorf("%w: registration: %w", auth.ErrHookFailed, err)
		}
	}

	auth.RecordActivity(ctx, s.activitySink, s.logger, auth.ActivityEvent{
		EventType:  auth.ActivityEventAccountRegistered,
		AccountID:  account.ID.String(),
		IdentityID: identity.ID.String(),
		Provider:   identity.ProviderType,
	})
	return nil
}

// Login runs the login hooks for an authenticated account.
func (s *SessionEstablisher) Login(ctx context.Context, account *auth.Account) error {
	return s.login(ctx, account, auth.ActivityEventLogin)
}

func (s *SessionEstablisher) login(ctx context.Context, account *auth.Account, event auth.ActivityEventType) error {
	if account == nil {
		return fmt.Errorf("%w: login without account", auth.ErrHookFailed)
	}

	for _, hook := range s.hooks.loginHooks() {
		if err := hook(ctx, account); err != nil {
			return fmt.Errorf("%w: login: %w", auth.ErrHookFailed, err)
		}
	}

	auth.RecordActivity(ctx, s.activitySink, s.logger, auth.ActivityEvent{
		EventType: event,
		AccountID: account.ID.String(),
	})
	return nil
}
