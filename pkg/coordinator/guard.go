package coordinator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/redis"
)

// EntityGuard serializes change application per (entityType, entityId) key.
// Lock blocks until the key is held or ctx expires; the returned function
// releases it.
type EntityGuard interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type mutexEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutexGuard is the in-process guard, sufficient for a single instance.
// Entries are reference-counted so the key space does not grow unbounded.
type KeyedMutexGuard struct {
	mu      sync.Mutex
	entries map[string]*mutexEntry
}

// NewKeyedMutexGuard creates an in-process entity guard
func NewKeyedMutexGuard() *KeyedMutexGuard {
	return &KeyedMutexGuard{
		entries: make(map[string]*mutexEntry),
	}
}

// Lock acquires the per-key mutex
func (g *KeyedMutexGuard) Lock(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	entry := g.entries[key]
	if entry == nil {
		entry = &mutexEntry{}
		g.entries[key] = entry
	}
	entry.refs++
	g.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		g.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(g.entries, key)
		}
		g.mu.Unlock()
	}, nil
}

// RedisGuard serializes across service instances with a Redis SET NX lock
type RedisGuard struct {
	locker      *redis.Locker
	ttl         time.Duration
	waitTimeout time.Duration
}

// NewRedisGuard creates a cross-instance entity guard
func NewRedisGuard(locker *redis.Locker, ttl, waitTimeout time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Second
	}
	return &RedisGuard{
		locker:      locker,
		ttl:         ttl,
		waitTimeout: waitTimeout,
	}
}

// Lock acquires the distributed lock, retrying with backoff until the wait
// timeout
func (g *RedisGuard) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := g.locker.TryAcquire(ctx, "entity:"+key, g.ttl, g.waitTimeout)
	if err != nil {
		return nil, httperror.WrapError(http.StatusConflict, err)
	}

	return func() {
		// Release on a fresh context so shutdown cancellation cannot leak the lock
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}
