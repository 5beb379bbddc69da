package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	cutoff time.Time
	calls  int
	rows   int64
	err    error
}

func (f *fakePurger) purge(cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.rows, f.err
}

func (f *fakePurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return f.purge(cutoff)
}

func (f *fakePurger) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return f.purge(cutoff)
}

func TestRetentionJobs(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	build := map[string]func(*fakePurger, int) (Job, error){
		"notification-cleanup": func(p *fakePurger, days int) (Job, error) {
			return NewNotificationCleanupJob(NotificationCleanupJobParams{Logger: testLogger(), Repository: p, Retention: days})
		},
		"outbox-retention": func(p *fakePurger, days int) (Job, error) {
			return NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), Repository: p, Retention: days})
		},
	}
	defaults := map[string]int{
		"notification-cleanup": notificationRetentionDays,
		"outbox-retention":     outboxRetentionDays,
	}

	for name, newJob := range build {
		t.Run(name+"/default retention", func(t *testing.T) {
			p := &fakePurger{rows: 42}
			job, err := newJob(p, 0)
			require.NoError(t, err)
			assert.Equal(t, name, job.Name())
			job.(*retentionJob).now = func() time.Time { return now }

			require.NoError(t, job.Run(context.Background()))
			assert.Equal(t, 1, p.calls)
			assert.Equal(t, now.Add(-time.Duration(defaults[name])*day), p.cutoff)
		})

		t.Run(name+"/configured retention", func(t *testing.T) {
			p := &fakePurger{}
			job, err := newJob(p, 7)
			require.NoError(t, err)
			job.(*retentionJob).now = func() time.Time { return now }

			require.NoError(t, job.Run(context.Background()))
			assert.Equal(t, now.Add(-7*day), p.cutoff)
		})

		t.Run(name+"/propagates errors", func(t *testing.T) {
			job, err := newJob(&fakePurger{err: errors.New("boom")}, 0)
			require.NoError(t, err)
			assert.ErrorContains(t, job.Run(context.Background()), "boom")
		})
	}
}

func TestRetentionJobsRequireDependencies(t *testing.T) {
	_, err := NewNotificationCleanupJob(NotificationCleanupJobParams{Logger: testLogger()})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Repository: &fakePurger{}})
	assert.Error(t, err)
}
