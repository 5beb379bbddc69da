package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/medrun-backend/pkg/logger"
	"github.com/angelmondragon/medrun-backend/pkg/metrics"
)

const (
	defaultSchedule = "@every 1m"
	drainTimeout    = 30 * time.Second
)

// ErrUnknownJob is returned by RunJob for a name nothing registered.
var ErrUnknownJob = errors.New("cron: unknown job")

// ServiceParams configure the cron service. Schedule accepts a crontab
// expression or a descriptor such as "@every 1m"; empty means every minute.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.SchedulerMetrics
	Schedule string
}

// Service runs the registered jobs on a schedule. A cycle only runs on the
// instance holding the lock, and a cycle still running locally skips the next tick.
type Service struct {
	logg     *logger.Logger
	jobs     *Registry
	lock     Lock
	metrics  *metrics.SchedulerMetrics
	expr     string
	schedule robfig.Schedule
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	jobs := params.Registry
	if jobs == nil {
		jobs, _ = NewRegistry()
	}
	expr := params.Schedule
	if expr == "" {
		expr = defaultSchedule
	}
	schedule, err := robfig.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return &Service{
		logg:     params.Logger,
		jobs:     jobs,
		lock:     params.Lock,
		metrics:  params.Metrics,
		expr:     expr,
		schedule: schedule,
	}, nil
}

// Run blocks until ctx is canceled, then waits up to drainTimeout for an
// in-progress cycle.
func (s *Service) Run(ctx context.Context) error {
	runner := robfig.New(robfig.WithChain(robfig.SkipIfStillRunning(robfig.DiscardLogger)))
	runner.Schedule(s.schedule, robfig.FuncJob(func() {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
	}))

	s.logg.Info(s.logg.WithField(ctx, "schedule", s.expr), "cron scheduler started")
	runner.Start()
	<-ctx.Done()

	select {
	case <-runner.Stop().Done():
	case <-time.After(drainTimeout):
		s.logg.Warn(ctx, "cron cycle still running at shutdown")
	}
	return ctx.Err()
}

// RunOnce runs every job once. A failing job is logged and does not stop
// the rest of the cycle.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.underLock(ctx, func(ctx context.Context) error {
		for _, job := range s.jobs.Jobs() {
			if err := ctx.Err(); err != nil {
				return err
			}
			_ = s.runJob(ctx, job)
		}
		return nil
	})
}

// RunJob runs the named job once under the lock and returns its error.
func (s *Service) RunJob(ctx context.Context, name string) error {
	job, ok := s.jobs.Lookup(name)
	if !ok {
		return fmt.Errorf("%w %q (registered: %v)", ErrUnknownJob, name, s.jobs.Names())
	}
	return s.underLock(ctx, func(ctx context.Context) error {
		return s.runJob(ctx, job)
	})
}

func (s *Service) underLock(ctx context.Context, fn func(context.Context) error) error {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !held {
		s.metrics.CycleSkipped()
		s.logg.Info(ctx, "cron lock held elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "cron lock release failed", err)
		}
	}()
	return fn(ctx)
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	started := time.Now()
	err := job.Run(ctx)
	took := time.Since(started)
	s.metrics.ObserveRun(job.Name(), took, err)

	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron job failed", err)
		return err
	}
	s.logg.Info(ctx, "cron job done")
	return nil
}
