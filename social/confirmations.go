package social

import (
	"context"
	"errors"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-link"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultConfirmationTTL bounds how long a force-link confirmation stays valid.
const DefaultConfirmationTTL = 10 * time.Minute

// ConfirmationStore remembers that an account confirmed a force-link for a
// provider type. Confirmations are single use.
type ConfirmationStore interface {
	Confirm(ctx context.Context, accountID uuid.UUID, providerType string) error
	Consume(ctx context.Context, accountID uuid.UUID, providerType string) (bool, error)
}

func confirmationKey(accountID uuid.UUID, providerType string) string {
	return accountID.String() + ":" + auth.NormalizeProviderType(providerType)
}

// MemoryConfirmationStore keeps confirmations in process.
type MemoryConfirmationStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

// NewMemoryConfirmationStore creates a store whose entries expire after ttl.
func NewMemoryConfirmationStore(ttl time.Duration) *MemoryConfirmationStore {
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	return &MemoryConfirmationStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Confirm records a confirmation.
func (s *MemoryConfirmationStore) Confirm(_ context.Context, accountID uuid.UUID, providerType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, expires := range s.entries {
		if now.After(expires) {
			delete(s.entries, key)
		}
	}
	s.entries[confirmationKey(accountID, providerType)] = now.Add(s.ttl)
	return nil
}

// Consume removes the confirmation and reports whether a live one existed.
func (s *MemoryConfirmationStore) Consume(_ context.Context, accountID uuid.UUID, providerType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := confirmationKey(accountID, providerType)
	expires, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	return !s.now().After(expires), nil
}

// RedisConfirmationStore keeps confirmations in Redis so that every
// process serving callbacks sees them.
type RedisConfirmationStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisConfirmationStore creates a Redis backed store.
func NewRedisConfirmationStore(client redis.UniversalClient, ttl time.Duration) *RedisConfirmationStore {
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	return &RedisConfirmationStore{
		client: client,
		prefix: "auth-link:force:",
		ttl:    ttl,
	}
}

// Confirm records a confirmation with SET EX.
func (s *RedisConfirmationStore) Confirm(ctx context.Context, accountID uuid.UUID, providerType string) error {
	return s.client.Set(ctx, s.prefix+confirmationKey(accountID, providerType), "1", s.ttl).Err()
}

// Consume reads and deletes the confirmation atomically with GETDEL.
func (s *RedisConfirmationStore) Consume(ctx context.Context, accountID uuid.UUID, providerType string) (bool, error) {
	_, err := s.client.GetDel(ctx, s.prefix+confirmationKey(accountID, providerType)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
