package leaderboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aimd54/lingo-progression/internal/cache"
)

// ErrLockTimeout is returned when a partition lock cannot be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for partition lock")

// Locker serializes work per partition key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type refLock struct {
	sync.Mutex
	refs int
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free. Context cancellation is not observed while
// waiting; holders only run short re-ranks.
func (l *LocalLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &refLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}, nil
}

// RedisLocker takes the local lock, then a Redis lock so re-ranks are also
// serialized across instances.
type RedisLocker struct {
	local *LocalLocker
	cache cache.Cache
	ttl   time.Duration
	wait  time.Duration
	retry time.Duration
}

// NewRedisLocker creates a distributed locker. ttl bounds how long a crashed
// holder can block the partition.
func NewRedisLocker(c cache.Cache, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{
		local: NewLocalLocker(),
		cache: c,
		ttl:   ttl,
		wait:  2 * ttl,
		retry: 25 * time.Millisecond,
	}
}

// Lock acquires key locally and in Redis.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, _ := r.local.Lock(ctx, key)

	redisKey := "lock:leaderboard:" + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.cache.SetNX(ctx, redisKey, token, r.ttl)
		if err != nil {
			unlockLocal()
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			unlockLocal()
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	return func() {
		// Use a fresh context so a cancelled request still releases.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = r.cache.DelIfEquals(releaseCtx, redisKey, token)
		unlockLocal()
	}, nil
}
