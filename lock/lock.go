// Package lock provides the per-record cooperative mutual exclusion used to
// guard read-modify-write sequences on identities and accounts.
//
// A lock is scoped to a single key (see auth.LockKey), waits a bounded time
// and fails with auth.ErrLockTimeout when it cannot be acquired. Callers
// should prefer Do, which releases the guard on every exit path.
package lock

import (
	"context"
	"time"
)

// DefaultTimeout bounds how long Acquire waits for a held key.
const DefaultTimeout = 5 * time.Second

// Locker acquires exclusive guards over string keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (Guard, error)
}

// Guard is held until Release is called. Release is idempotent.
type Guard interface {
	Key() string
	Release(ctx context.Context) error
}

// Do runs fn while holding the lock for key. The guard is released before
// Do returns, including when fn fails or panics. A release failure is
// reported only when fn itself succeeded.
func Do(ctx context.Context, locker Locker, key string, fn func(ctx context.Context) error) (err error) {
	guard, err := locker.Acquire(ctx, key)
	if err != nil {
		return err
	}

	defer func() {
		rerr := guard.Release(context.WithoutCancel(ctx))
		if err == nil {
			err = rerr
		}
	}()

	return fn(ctx)
}
