package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-link"
	goerrors "github.com/goliatone/go-errors"
)

// MemoryLocker serializes access to keys within a single process.
type MemoryLocker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// MemoryOption configures a MemoryLocker.
type MemoryOption func(*MemoryLocker)

// WithMemoryTimeout sets the bounded wait for Acquire.
func WithMemoryTimeout(timeout time.Duration) MemoryOption {
	return func(m *MemoryLocker) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker(opts ...MemoryOption) *MemoryLocker {
	m := &MemoryLocker{
		slots:   make(map[string]*slot),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Acquire implements Locker.
func (m *MemoryLocker) Acquire(ctx context.Context, key string) (Guard, error) {
	s := m.ref(key)

	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	select {
	case s.ch <- struct{}{}:
		return &memoryGuard{locker: m, key: key, slot: s}, nil
	case <-waitCtx.Done():
		m.unref(key, s)
		if err := ctx.Err(); err != nil {
			return nil, auth.WrapError(err, goerrors.CategoryOperation, "acquire "+key)
		}
		return nil, fmt.Errorf("%w: %s after %s", auth.ErrLockTimeout, key, m.timeout)
	}
}

// Held reports how many callers hold or wait on key.
func (m *MemoryLocker) Held(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[key]; ok {
		return s.refs
	}
	return 0
}

func (m *MemoryLocker) ref(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *MemoryLocker) unref(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.refs--
	if s.refs <= 0 && m.slots[key] == s {
		delete(m.slots, key)
	}
}

type memoryGuard struct {
	once   sync.Once
	locker *MemoryLocker
	key    string
	slot   *slot
}

func (g *memoryGuard) Key() string {
	return g.key
}

func (g *memoryGuard) Release(context.Context) error {
	g.once.Do(func() {
		<-g.slot.ch
		g.locker.unref(g.key, g.slot)
	})
	return nil
}
