package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job is one scheduled task. Name keys both the distributed lock and the
// last-run bookkeeping, so it must be unique within a registry.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its interval. A non-positive Every runs the job on
// every tick.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry is the ordered set of jobs a Service runs.
type Registry struct {
	entries []Entry
	names   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register appends job. Nil jobs are ignored; blank or duplicate names are
// rejected.
func (r *Registry) Register(job Job, every time.Duration) error {
	if job == nil {
		return nil
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return errors.New("cron job name is required")
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.names[name] = struct{}{}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
	return nil
}

// Entries returns a copy of the registered entries in registration order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Names lists job names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, entry := range r.entries {
		names[i] = entry.Job.Name()
	}
	return names
}
