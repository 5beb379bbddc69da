package cron

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Job is one unit of periodic maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs in run order, keyed by unique name.
type Registry struct {
	order  []Job
	byName map[string]Job
}

// NewRegistry registers jobs in order and fails on the first invalid one.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{byName: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends job. Names must be non-blank and unique.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("cron: nil job")
	}
	name := job.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("cron: job %T has no name", job)
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("cron: job %q registered twice", name)
	}
	r.byName[name] = job
	r.order = append(r.order, job)
	return nil
}

func (r *Registry) Jobs() []Job {
	return slices.Clone(r.order)
}

func (r *Registry) Lookup(name string) (Job, bool) {
	job, ok := r.byName[name]
	return job, ok
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, job := range r.order {
		names[i] = job.Name()
	}
	return names
}
