package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-link"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired guard never frees a lock that has since been taken by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between processes through Redis.
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithRedisPrefix sets the key prefix (default "lock:").
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisLocker) {
		r.prefix = prefix
	}
}

// WithRedisTTL sets how long a guard lives if it is never released.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisLocker) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRedisTimeout sets the bounded wait for Acquire.
func WithRedisTimeout(timeout time.Duration) RedisOption {
	return func(r *RedisLocker) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithRedisRetryInterval sets the delay between acquisition attempts.
func WithRedisRetryInterval(interval time.Duration) RedisOption {
	return func(r *RedisLocker) {
		if interval > 0 {
			r.retry = interval
		}
	}
}

// NewRedisLocker creates a locker backed by client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	r := &RedisLocker{
		client:  client,
		prefix:  "lock:",
		ttl:     30 * time.Second,
		timeout: DefaultTimeout,
		retry:   25 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Acquire implements Locker. Each SET NX runs under ctx; the bounded wait
// only covers the retries between attempts.
func (r *RedisLocker) Acquire(ctx context.Context, key string) (Guard, error) {
	token := uuid.NewString()
	redisKey := r.prefix + key

	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				r.discard(redisKey, token)
				return nil, auth.WrapError(ctxErr, goerrors.CategoryOperation, "acquire "+key)
			}
			return nil, auth.WrapError(err, goerrors.CategoryOperation, "acquire "+key)
		}
		if ok {
			return &redisGuard{client: r.client, key: key, redisKey: redisKey, token: token}, nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, auth.WrapError(err, goerrors.CategoryOperation, "acquire "+key)
			}
			return nil, fmt.Errorf("%w: %s after %s", auth.ErrLockTimeout, key, r.timeout)
		}
	}
}

// discard drops a key whose SET may have been applied after the caller gave
// up on it.
func (r *RedisLocker) discard(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.retry+time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err()
}

type redisGuard struct {
	mu       sync.Mutex
	released bool
	client   redis.UniversalClient
	key      string
	redisKey string
	token    string
}

func (g *redisGuard) Key() string {
	return g.key
}

func (g *redisGuard) Release(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return nil
	}
	g.released = true

	if err := releaseScript.Run(ctx, g.client, []string{g.redisKey}, g.token).Err(); err != nil {
		return auth.WrapError(err, goerrors.CategoryOperation, "release "+g.key)
	}
	return nil
}
