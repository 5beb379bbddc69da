package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLeases struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryLeases() *memoryLeases {
	return &memoryLeases{values: map[string]string{}}
}

func (m *memoryLeases) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.values[key]; taken {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLeases) DelIfEquals(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryLeases) LockKey(name string) string { return "medrun:lock:" + name }

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLeases()
	first, err := NewRedisLock(store, "", 0)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "", 0)
	require.NoError(t, err)

	won, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, first.Release(ctx))
	won, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestRedisLockKeepsForeignLease(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLeases()
	lock, err := NewRedisLock(store, "jobs", time.Minute)
	require.NoError(t, err)

	won, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	// lease expired and another replica took it
	store.values["medrun:lock:jobs"] = "someone-else"
	require.NoError(t, lock.Release(ctx))
	assert.Equal(t, "someone-else", store.values["medrun:lock:jobs"])
}

func TestRedisLockReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	lock, err := NewRedisLock(newMemoryLeases(), "cron", time.Minute)
	require.NoError(t, err)

	assert.NoError(t, lock.Release(ctx))
	_, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.NoError(t, lock.Release(ctx))
	assert.NoError(t, lock.Release(ctx))
}

func TestNewRedisLockRequiresStore(t *testing.T) {
	_, err := NewRedisLock(nil, "cron", time.Minute)
	assert.Error(t, err)
}
