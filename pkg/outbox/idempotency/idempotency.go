// Package idempotency keeps Pub/Sub consumers from applying a redelivered
// event twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/instance"
)

var (
	errNoConsumer = errors.New("consumer name is required")
	errNoEventID  = errors.New("event id is required")
)

// MarkerStore is implemented by pkg/redis.Client.
type MarkerStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	ConsumerKey(consumer, eventID string) string
}

// Manager records which events each consumer has handled. A marker expires
// after ttl; zero keeps it until released.
type Manager struct {
	store MarkerStore
	ttl   time.Duration
}

func NewManager(store MarkerStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Once runs fn unless consumer already handled eventID. If fn fails the
// marker is released so redelivery runs it again. ran is false for a duplicate.
func (m *Manager) Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (ran bool, err error) {
	duplicate, err := m.Claim(ctx, consumer, eventID)
	if err != nil || duplicate {
		return false, err
	}
	if err := fn(ctx); err != nil {
		if relErr := m.Release(context.WithoutCancel(ctx), consumer, eventID); relErr != nil {
			err = errors.Join(err, fmt.Errorf("release marker: %w", relErr))
		}
		return true, err
	}
	return true, nil
}

// Claim sets the marker and reports true when it already existed.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, instance.ID(), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s for %s: %w", eventID, consumer, err)
	}
	return !set, nil
}

func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errNoConsumer
	}
	if eventID == uuid.Nil {
		return "", errNoEventID
	}
	return m.store.ConsumerKey(consumer, eventID.String()), nil
}
