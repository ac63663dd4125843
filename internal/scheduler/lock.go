package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLock guards a job run against other instances. A held key expires after ttl.
type RunLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLock shares run keys across instances through SET NX.
type RedisLock struct {
	client redis.Cmdable
	prefix string
	owner  string
}

// NewRedisLock creates a lock under prefix. owner is stored as the value for debugging.
func NewRedisLock(client redis.Cmdable, prefix, owner string) *RedisLock {
	return &RedisLock{client: client, prefix: prefix, owner: owner}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+key, l.owner, ttl).Result()
}

// LocalLock is the single-instance fallback.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLock(now func() time.Time) *LocalLock {
	if now == nil {
		now = time.Now
	}
	return &LocalLock{held: make(map[string]time.Time), now: now}
}

func (l *LocalLock) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, until := range l.held {
		if !now.Before(until) {
			delete(l.held, k)
		}
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}
