package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/marketjobs/pkg/logger"
)

// ErrGuardUnavailable wraps storage failures of an IdempotencyGuard.
var ErrGuardUnavailable = errors.New("jobs: idempotency store unavailable")

const (
	defaultLockTTL = 30 * time.Second
	defaultDoneTTL = 7 * 24 * time.Hour

	guardDone = "done"
)

// IdempotencyGuard runs a side effect at most once per key.
//
// Once returns ran=false and a nil error when key already completed. While
// another call holds key it returns ErrOperationInProgress, which workers
// treat as queue.ErrRetryLater. When fn fails the key is released and fn's
// error returned. A run that dies inside fn holds the key until the lock TTL
// passes.
type IdempotencyGuard interface {
	Once(ctx context.Context, key string, fn func(ctx context.Context) error) (ran bool, err error)
}

// GuardOption configures the guards in this package.
type GuardOption func(*guardOptions)

type guardOptions struct {
	prefix  string
	lockTTL time.Duration
	doneTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func defaultGuardOptions() guardOptions {
	return guardOptions{
		prefix:  "idem:",
		lockTTL: defaultLockTTL,
		doneTTL: defaultDoneTTL,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WithGuardPrefix sets the key prefix. Redis only.
func WithGuardPrefix(prefix string) GuardOption {
	return func(o *guardOptions) {
		o.prefix = prefix
	}
}

// WithLockTTL bounds how long a crashed run blocks its key. Keep it at or
// below the worker lease so a redelivered job finds the lock gone.
func WithLockTTL(d time.Duration) GuardOption {
	return func(o *guardOptions) {
		if d > 0 {
			o.lockTTL = d
		}
	}
}

// WithDoneTTL sets how long a completed key is remembered.
func WithDoneTTL(d time.Duration) GuardOption {
	return func(o *guardOptions) {
		if d > 0 {
			o.doneTTL = d
		}
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(o *guardOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithGuardClock overrides the time source. Memory only.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(o *guardOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// Compare-and-set so a run only releases or commits its own lock.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	commitScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)
)

// RedisGuard is an IdempotencyGuard backed by SET NX. The lock is refreshed
// while fn runs, so only a dead run lets it expire.
type RedisGuard struct {
	client redis.UniversalClient
	opts   guardOptions
}

// NewRedisGuard creates a guard on client.
func NewRedisGuard(client redis.UniversalClient, opts ...GuardOption) (*RedisGuard, error) {
	if client == nil {
		return nil, ErrGuardNil
	}
	o := defaultGuardOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisGuard{client: client, opts: o}, nil
}

func (g *RedisGuard) Once(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	if key == "" {
		return false, ErrEmptyIdempotencyKey
	}
	k := g.opts.prefix + key
	token := "pending:" + uuid.NewString()

	acquired, err := g.client.SetNX(ctx, k, token, g.opts.lockTTL).Result()
	if err != nil {
		return false, errors.Join(ErrGuardUnavailable, err)
	}
	if !acquired {
		state, err := g.client.Get(ctx, k).Result()
		switch {
		case errors.Is(err, redis.Nil):
			return false, fmt.Errorf("%w: %s", ErrOperationInProgress, key)
		case err != nil:
			return false, errors.Join(ErrGuardUnavailable, err)
		case state == guardDone:
			return false, nil
		default:
			return false, fmt.Errorf("%w: %s", ErrOperationInProgress, key)
		}
	}

	// Release and commit must happen even when the job context is done.
	bg := context.WithoutCancel(ctx)

	if err := g.run(ctx, key, k, token, fn); err != nil {
		if relErr := releaseScript.Run(bg, g.client, []string{k}, token).Err(); relErr != nil {
			g.opts.logger.WarnContext(ctx, "failed to release idempotency key",
				slog.String("key", key), logger.Error(relErr))
		}
		return true, err
	}

	ttl := g.opts.doneTTL.Milliseconds()
	if err := commitScript.Run(bg, g.client, []string{k}, token, guardDone, ttl).Err(); err != nil {
		// The effect already happened; failing here would make the job retry it.
		g.opts.logger.ErrorContext(ctx, "failed to commit idempotency key",
			slog.String("key", key), logger.Error(err))
	}
	return true, nil
}

func (g *RedisGuard) run(ctx context.Context, key, k, token string, fn func(ctx context.Context) error) error {
	stop := g.keepAlive(ctx, key, k, token)
	defer stop()
	return fn(ctx)
}

// keepAlive extends the lock every third of its TTL until the returned func
// is called.
func (g *RedisGuard) keepAlive(ctx context.Context, key, k, token string) func() {
	interval := g.opts.lockTTL / 3
	if interval <= 0 {
		return func() {}
	}

	kaCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	ttl := g.opts.lockTTL.Milliseconds()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				n, err := extendScript.Run(kaCtx, g.client, []string{k}, token, ttl).Int()
				switch {
				case kaCtx.Err() != nil:
					return
				case err != nil:
					g.opts.logger.WarnContext(ctx, "failed to extend idempotency lock",
						slog.String("key", key), logger.Error(err))
				case n == 0:
					g.opts.logger.WarnContext(ctx, "idempotency lock lost", slog.String("key", key))
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// MemoryGuard is an in-process IdempotencyGuard for tests and single-node use.
// A pending lock is not refreshed; a run that outlives the lock TTL can be
// overtaken.
type MemoryGuard struct {
	opts guardOptions

	mu        sync.Mutex
	keys      map[string]guardEntry
	seq       uint64
	nextSweep time.Time
}

type guardEntry struct {
	owner   uint64
	done    bool
	expires time.Time
}

// NewMemoryGuard creates an empty guard.
func NewMemoryGuard(opts ...GuardOption) *MemoryGuard {
	o := defaultGuardOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryGuard{opts: o, keys: make(map[string]guardEntry)}
}

func (g *MemoryGuard) Once(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	if key == "" {
		return false, ErrEmptyIdempotencyKey
	}

	g.mu.Lock()
	now := g.opts.now()
	g.sweepLocked(now)
	if e, ok := g.keys[key]; ok && now.Before(e.expires) {
		g.mu.Unlock()
		if e.done {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s", ErrOperationInProgress, key)
	}
	g.seq++
	owner := g.seq
	g.keys[key] = guardEntry{owner: owner, expires: now.Add(g.opts.lockTTL)}
	g.mu.Unlock()

	err := fn(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	// A run that lost its lock to a later one must not touch the key.
	if e, ok := g.keys[key]; !ok || e.owner != owner {
		return true, err
	}
	if err != nil {
		delete(g.keys, key)
		return true, err
	}
	g.keys[key] = guardEntry{owner: owner, done: true, expires: g.opts.now().Add(g.opts.doneTTL)}
	return true, nil
}

// sweepLocked drops expired keys, at most once per lock TTL.
func (g *MemoryGuard) sweepLocked(now time.Time) {
	if now.Before(g.nextSweep) {
		return
	}
	for k, e := range g.keys {
		if !now.Before(e.expires) {
			delete(g.keys, k)
		}
	}
	g.nextSweep = now.Add(g.opts.lockTTL)
}

// Done reports whether key completed and is still remembered.
func (g *MemoryGuard) Done(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.keys[key]
	return ok && e.done && g.opts.now().Before(e.expires)
}
