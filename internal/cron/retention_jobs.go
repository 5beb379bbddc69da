package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

const (
	notificationRetentionDays = 30
	outboxRetentionDays       = 14
	day                       = 24 * time.Hour
)

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository notificationsCleanupRepo
	Retention  int
}

type notificationsCleanupRepo interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewNotificationCleanupJob purges inbox rows older than Retention days, read or not.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	return newRetentionJob(params.Logger, "notification-cleanup", params.Retention, notificationRetentionDays,
		params.Repository.DeleteOlderThan)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	Retention  int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewOutboxRetentionJob purges published outbox rows older than Retention days.
// Unpublished and dead-lettered rows stay.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	return newRetentionJob(params.Logger, "outbox-retention", params.Retention, outboxRetentionDays,
		params.Repository.DeletePublishedBefore)
}

type purgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

type retentionJob struct {
	name  string
	logg  *logger.Logger
	days  int
	purge purgeFunc
	now   func() time.Time
}

func newRetentionJob(logg *logger.Logger, name string, days, fallback int, purge purgeFunc) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if days <= 0 {
		days = fallback
	}
	return &retentionJob{name: name, logg: logg, days: days, purge: purge, now: time.Now}, nil
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.days) * day)
	deleted, err := j.purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"job":            j.name,
		"cutoff":         cutoff,
		"retention_days": j.days,
		"rows_deleted":   deleted,
	}), "retention purge complete")
	return nil
}
