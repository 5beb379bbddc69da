package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies map[string]pinger
	Consumers    map[string]runner
}

// Service runs every consumer until the context ends or one of them fails.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	consumers map[string]runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for name, c := range params.Consumers {
		if c == nil {
			return nil, fmt.Errorf("consumer %s is nil", name)
		}
	}
	return &Service{
		logg:      params.Logger,
		deps:      params.Dependencies,
		consumers: params.Consumers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	names := make([]string, 0, len(s.deps))
	for name := range s.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.deps[name].Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until ctx is cancelled. A consumer returning early cancels the rest.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, c := range s.consumers {
		g.Go(func() error {
			consumerCtx := s.logg.WithField(gctx, "consumer", name)
			s.logg.Info(consumerCtx, "consumer started")
			err := c.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(consumerCtx, "consumer stopped unexpectedly", err)
				return fmt.Errorf("consumer %s: %w", name, err)
			}
			if err == nil && gctx.Err() == nil {
				return fmt.Errorf("consumer %s exited", name)
			}
			return err
		})
	}
	return g.Wait()
}
