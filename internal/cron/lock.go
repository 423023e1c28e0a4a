package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/engagement-tracker/pkg/redis"
	"github.com/google/uuid"
)

const defaultLockTTL = 10 * time.Minute

// Lock coordinates exclusive runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLock implements Lock using Redis SETNX + TTL with an owner token.
type RedisLock struct {
	client redis.LockStore
	key    string
	ttl    time.Duration
	owner  string
}

// NewRedisLock constructs a Redis-backed lock.
func NewRedisLock(client redis.LockStore, name string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: client.LockKey(name), ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if the owner value still matches.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.client.ReleaseIfOwner(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.owner = ""
	return nil
}

// LocalLocks hands out in-process locks keyed by name. It serializes runs
// inside one process when Redis is not configured.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: map[string]bool{}}
}

// Lock returns a handle for name.
func (l *LocalLocks) Lock(name string) *LocalLock {
	return &LocalLock{set: l, name: name}
}

// LocalLock is one handle on a LocalLocks entry.
type LocalLock struct {
	set   *LocalLocks
	name  string
	owned bool
}

func (l *LocalLock) Acquire(context.Context) (bool, error) {
	l.set.mu.Lock()
	defer l.set.mu.Unlock()
	if l.set.held[l.name] {
		return false, nil
	}
	l.set.held[l.name] = true
	l.owned = true
	return true, nil
}

func (l *LocalLock) Release(context.Context) error {
	l.set.mu.Lock()
	defer l.set.mu.Unlock()
	if l.owned {
		delete(l.set.held, l.name)
		l.owned = false
	}
	return nil
}
