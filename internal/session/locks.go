package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"attendance/internal/apperr"
)

// keyedMutex serializes work per student while leaving different students independent.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Locker serializes one student's mutations across processes. Lock blocks until the student is
// free or ctx ends and returns the release func.
type Locker interface {
	Lock(ctx context.Context, studentID string) (func(), error)
}

// ErrLockTimeout is returned when another process held the student's lock for the whole wait.
var ErrLockTimeout = errors.New("session lock wait timed out")

// releaseScript deletes the lock only while it still holds our token, so a holder whose lease
// expired cannot release the next holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a per-student lease in Redis (SET NX PX with a random token).
type RedisLocker struct {
	client *redis.Client
	prefix string
	lease  time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a locker whose leases expire after lease. A zero lease means 10s.
func NewRedisLocker(client *redis.Client, prefix string, lease time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "attendance:lock:"
	}
	if lease <= 0 {
		lease = 10 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, lease: lease, wait: lease, retry: 20 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, studentID string) (func(), error) {
	key := l.prefix + studentID
	token := uuid.NewString()
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.lease).Result()
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s", ErrLockTimeout, studentID)
			}
			return nil, err
		}
		if ok {
			return func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, studentID)
		case <-ticker.C:
		}
	}
}

// lock takes the in-process lock and then, when configured, the shared one.
// Callers hold the returned func until the session is saved.
func (m *Manager) lock(ctx context.Context, studentID string) (func(), error) {
	unlock := m.locks.Lock(studentID)
	if m.locker == nil {
		return unlock, nil
	}
	release, err := m.locker.Lock(ctx, studentID)
	if err != nil {
		unlock()
		m.metrics.Failure("session_lock")
		return nil, apperr.Persistence("lock session", err)
	}
	return func() {
		release()
		unlock()
	}, nil
}
