package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/instance"
)

// Lock makes a cron cycle exclusive across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfEquals(ctx context.Context, key, value string) (bool, error)
	LockKey(name string) string
}

// RedisLock is a lease: the key expires after ttl even if the holder dies, so
// ttl has to outlast the slowest cycle.
type RedisLock struct {
	store leaseStore
	key   string
	ttl   time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisLock(store leaseStore, name string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("cron lock: redis client is required")
	}
	if name == "" {
		name = "cron"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLock{store: store, key: store.LockKey(name), ttl: ttl}, nil
}

// Acquire stores "<instance>:<uuid>" as the lease token.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := fmt.Sprintf("%s:%s", instance.ID(), uuid.NewString())
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("cron lock %s: %w", l.key, err)
	}
	if won {
		l.swap(token)
	}
	return won, nil
}

// Release deletes the key only while it still holds our token.
func (l *RedisLock) Release(ctx context.Context) error {
	token := l.swap("")
	if token == "" {
		return nil
	}
	if _, err := l.store.DelIfEquals(ctx, l.key, token); err != nil {
		return fmt.Errorf("cron lock %s: release: %w", l.key, err)
	}
	return nil
}

func (l *RedisLock) swap(token string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.token
	l.token = token
	return prev
}
