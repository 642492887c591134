package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/sorn-tracker/internal/submissions"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/metrics"
)

const (
	defaultArchiveThreshold    int64 = 1000
	defaultArchiveRetention          = 90 * 24 * time.Hour
	defaultArchiveBatchSize          = 100
	defaultErrorEventRetention       = 30 * 24 * time.Hour
	defaultTerminalRetention         = 90 * 24 * time.Hour
)

// SweeperParams wires a Sweeper. Zero durations and sizes take the defaults.
type SweeperParams struct {
	Repository          submissions.Repository
	Logger              *logger.Logger
	Metrics             *metrics.LifecycleMetrics
	ArchiveThreshold    int64
	ArchiveRetention    time.Duration
	ArchiveBatchSize    int
	ErrorEventRetention time.Duration
	TerminalRetention   time.Duration
}

// Sweeper moves old terminal submissions into the archive and prunes
// events past retention.
type Sweeper struct {
	repo                submissions.Repository
	logg                *logger.Logger
	metrics             *metrics.LifecycleMetrics
	archiveThreshold    int64
	archiveRetention    time.Duration
	archiveBatchSize    int
	errorEventRetention time.Duration
	terminalRetention   time.Duration
}

// PruneReport counts deleted events per rule.
type PruneReport struct {
	ErrorEvents    int64
	TerminalEvents int64
}

func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("submissions repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	s := &Sweeper{
		repo:                params.Repository,
		logg:                params.Logger,
		metrics:             params.Metrics,
		archiveThreshold:    params.ArchiveThreshold,
		archiveRetention:    params.ArchiveRetention,
		archiveBatchSize:    params.ArchiveBatchSize,
		errorEventRetention: params.ErrorEventRetention,
		terminalRetention:   params.TerminalRetention,
	}
	if s.archiveThreshold <= 0 {
		s.archiveThreshold = defaultArchiveThreshold
	}
	if s.archiveRetention <= 0 {
		s.archiveRetention = defaultArchiveRetention
	}
	if s.archiveBatchSize <= 0 {
		s.archiveBatchSize = defaultArchiveBatchSize
	}
	if s.errorEventRetention <= 0 {
		s.errorEventRetention = defaultErrorEventRetention
	}
	if s.terminalRetention <= 0 {
		s.terminalRetention = defaultTerminalRetention
	}
	return s, nil
}

// RunArchival archives one batch of old terminal submissions, but only once
// the terminal population exceeds the threshold.
func (s *Sweeper) RunArchival(ctx context.Context, now time.Time) (Report, error) {
	var report Report
	now = now.UTC()

	total, err := s.repo.CountByStatuses(ctx, enums.TerminalStatuses)
	if err != nil {
		return report, err
	}
	if total <= s.archiveThreshold {
		s.logg.Debug(s.logg.WithField(ctx, "terminal_submissions", total), "archive threshold not reached")
		return report, nil
	}

	candidates, err := s.repo.FindArchivalCandidates(ctx, now.Add(-s.archiveRetention), s.archiveBatchSize)
	if err != nil {
		return report, err
	}

	var errs error
	for _, sub := range candidates {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		report.Examined++
		if err := s.archive(ctx, sub, now); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("submission %s: %w", sub.SubmissionID, err))
			continue
		}
		report.Transitioned++
	}
	s.metrics.AddArchived(report.Transitioned)

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"terminal_submissions": total,
		"archived":             report.Transitioned,
		"failed":               report.Failed,
	}), "archival finished")
	return report, errs
}

// ArchiveOne archives a single submission on demand. Only published,
// rejected and error submissions qualify.
func (s *Sweeper) ArchiveOne(ctx context.Context, id uint64, now time.Time) error {
	sub, found, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
	}
	if !sub.Status.IsArchivable() {
		return pkgerrors.New(pkgerrors.CodeConflict, "Can only archive completed or failed submissions")
	}
	if err := s.archive(ctx, *sub, now.UTC()); err != nil {
		return err
	}
	s.metrics.AddArchived(1)
	return nil
}

func (s *Sweeper) archive(ctx context.Context, sub models.Submission, now time.Time) error {
	itemCtx := s.logg.WithSubmission(ctx, sub.ID, sub.SubmissionID)
	record, err := s.repo.Archive(itemCtx, sub, now)
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		s.logg.Warn(itemCtx, "submission moved before archival, skipped")
		return err
	}
	if err != nil {
		s.logg.Error(itemCtx, "archive submission failed", err)
		return err
	}
	s.logg.Debug(s.logg.WithField(itemCtx, "archive_id", record.ID), "submission archived")
	return nil
}

// RunPruning applies both retention rules. They run independently; errors
// from either are combined.
func (s *Sweeper) RunPruning(ctx context.Context, now time.Time) (PruneReport, error) {
	var (
		report PruneReport
		errs   error
	)
	now = now.UTC()

	n, err := s.repo.DeleteEventsByTypeBefore(ctx, enums.SubmissionEventError, now.Add(-s.errorEventRetention))
	if err != nil {
		s.logg.Error(ctx, "prune error events failed", err)
		errs = multierr.Append(errs, err)
	} else {
		report.ErrorEvents = n
		s.metrics.AddPruned("error_events", n)
	}

	n, err = s.repo.DeleteEventsOfTerminalBefore(ctx, now.Add(-s.terminalRetention))
	if err != nil {
		s.logg.Error(ctx, "prune terminal submission events failed", err)
		errs = multierr.Append(errs, err)
	} else {
		report.TerminalEvents = n
		s.metrics.AddPruned("terminal_events", n)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"error_events":    report.ErrorEvents,
		"terminal_events": report.TerminalEvents,
	}), "event pruning finished")
	return report, errs
}
