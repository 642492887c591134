package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/sorn-tracker/internal/lifecycle"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
)

const (
	JobReconcile = "submission-reconcile"
	JobRetry     = "submission-retry"
	JobArchive   = "submission-archive"
	JobPrune     = "submission-event-prune"
)

type batchEngine interface {
	Run(ctx context.Context, now time.Time) (lifecycle.Report, error)
}

type sweeper interface {
	RunArchival(ctx context.Context, now time.Time) (lifecycle.Report, error)
	RunPruning(ctx context.Context, now time.Time) (lifecycle.PruneReport, error)
}

// BatchJobParams wires the reconcile and retry jobs.
type BatchJobParams struct {
	Logger *logger.Logger
	Engine batchEngine
}

// SweepJobParams wires the archive and prune jobs.
type SweepJobParams struct {
	Logger  *logger.Logger
	Sweeper sweeper
}

func NewReconcileJob(params BatchJobParams) (Job, error) {
	return newBatchJob(JobReconcile, params)
}

func NewRetryJob(params BatchJobParams) (Job, error) {
	return newBatchJob(JobRetry, params)
}

func newBatchJob(name string, params BatchJobParams) (*batchJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("%s engine required", name)
	}
	return &batchJob{name: name, logg: params.Logger, engine: params.Engine, now: time.Now}, nil
}

type batchJob struct {
	name   string
	logg   *logger.Logger
	engine batchEngine
	now    func() time.Time
}

func (j *batchJob) Name() string { return j.name }

func (j *batchJob) Run(ctx context.Context) error {
	report, err := j.engine.Run(ctx, j.now().UTC())
	j.logg.Info(j.logg.WithFields(j.logg.WithJob(ctx, j.name), map[string]any{
		"examined":     report.Examined,
		"transitioned": report.Transitioned,
		"unchanged":    report.Unchanged,
		"skipped":      report.Skipped,
		"failed":       report.Failed,
	}), "lifecycle job report")
	if err != nil {
		return fmt.Errorf("%s: %d of %d failed: %w", j.name, report.Failed, report.Examined, err)
	}
	return nil
}

func NewArchiveJob(params SweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &archiveJob{logg: params.Logger, sweeper: params.Sweeper, now: time.Now}, nil
}

type archiveJob struct {
	logg    *logger.Logger
	sweeper sweeper
	now     func() time.Time
}

func (j *archiveJob) Name() string { return JobArchive }

func (j *archiveJob) Run(ctx context.Context) error {
	report, err := j.sweeper.RunArchival(ctx, j.now().UTC())
	j.logg.Info(j.logg.WithFields(j.logg.WithJob(ctx, JobArchive), map[string]any{
		"archived": report.Transitioned,
		"failed":   report.Failed,
	}), "lifecycle job report")
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

func NewPruneJob(params SweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &pruneJob{logg: params.Logger, sweeper: params.Sweeper, now: time.Now}, nil
}

type pruneJob struct {
	logg    *logger.Logger
	sweeper sweeper
	now     func() time.Time
}

func (j *pruneJob) Name() string { return JobPrune }

func (j *pruneJob) Run(ctx context.Context) error {
	report, err := j.sweeper.RunPruning(ctx, j.now().UTC())
	j.logg.Info(j.logg.WithFields(j.logg.WithJob(ctx, JobPrune), map[string]any{
		"error_events":    report.ErrorEvents,
		"terminal_events": report.TerminalEvents,
	}), "lifecycle job report")
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	return nil
}
