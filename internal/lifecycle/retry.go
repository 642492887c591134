package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/sorn-tracker/internal/events"
	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	"github.com/angelmondragon/sorn-tracker/internal/sorns"
	"github.com/angelmondragon/sorn-tracker/internal/submissions"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/metrics"
)

const (
	defaultMaxRetries     = 3
	defaultRetryBatchSize = 10
)

var manualRetryStatuses = []enums.SubmissionStatus{
	enums.SubmissionStatusError,
	enums.SubmissionStatusRejected,
	enums.SubmissionStatusChangesRequested,
}

// RetryCoordinatorParams wires a RetryCoordinator.
type RetryCoordinatorParams struct {
	Repository submissions.Repository
	Sorns      sorns.Repository
	Registry   fedreg.Registry
	Publisher  events.Publisher
	Outbox     events.Recorder
	Logger     *logger.Logger
	Metrics    *metrics.LifecycleMetrics
	MaxRetries int
	BatchSize  int
	Now        func() time.Time
}

// RetryCoordinator resubmits failed submissions, automatically up to a
// bounded number of attempts or on demand.
type RetryCoordinator struct {
	repo       submissions.Repository
	sorns      sorns.Repository
	registry   fedreg.Registry
	publisher  events.Publisher
	outbox     events.Recorder
	logg       *logger.Logger
	metrics    *metrics.LifecycleMetrics
	maxRetries int
	batchSize  int
	now        func() time.Time
}

func NewRetryCoordinator(params RetryCoordinatorParams) (*RetryCoordinator, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("submissions repository required")
	}
	if params.Sorns == nil {
		return nil, fmt.Errorf("sorns repository required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRetryBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &RetryCoordinator{
		repo:       params.Repository,
		sorns:      params.Sorns,
		registry:   params.Registry,
		publisher:  publisherOrNoop(params.Publisher),
		outbox:     events.RecorderOrDiscard(params.Outbox),
		logg:       params.Logger,
		metrics:    params.Metrics,
		maxRetries: maxRetries,
		batchSize:  batch,
		now:        now,
	}, nil
}

// Run retries one batch of errored submissions that have attempts left.
func (c *RetryCoordinator) Run(ctx context.Context, now time.Time) (Report, error) {
	var report Report
	candidates, err := c.repo.FindRetryCandidates(ctx, c.maxRetries, c.batchSize)
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
		if _, err := c.attempt(ctx, sub, now.UTC()); err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("submission %s: %w", sub.SubmissionID, err))
			continue
		}
		report.Transitioned++
	}

	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"examined":    report.Examined,
		"resubmitted": report.Transitioned,
		"failed":      report.Failed,
	}), "retry run finished")
	return report, errs
}

// RetryOne resubmits a single submission regardless of how many attempts
// it already used.
func (c *RetryCoordinator) RetryOne(ctx context.Context, id uint64) (*models.Submission, error) {
	sub, found, err := c.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
	}
	if !retryable(sub.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("cannot retry a submission in status %s", sub.Status.Label()))
	}
	return c.attempt(ctx, *sub, c.now().UTC())
}

func retryable(status enums.SubmissionStatus) bool {
	for _, s := range manualRetryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (c *RetryCoordinator) attempt(ctx context.Context, sub models.Submission, now time.Time) (*models.Submission, error) {
	itemCtx := c.logg.WithSubmission(ctx, sub.ID, sub.SubmissionID)

	prior, err := c.repo.CountEventsByType(itemCtx, sub.SubmissionID, enums.SubmissionEventRetryAttempted)
	if err != nil {
		return nil, err
	}
	attempt := int(prior) + 1
	if _, err := c.repo.AppendEvent(itemCtx, sub.SubmissionID, enums.SubmissionEventRetryAttempted, map[string]any{
		"attempt": attempt,
	}); err != nil {
		return nil, err
	}

	sorn, found, err := c.sorns.Get(itemCtx, sub.SornID)
	if err != nil {
		return nil, err
	}
	if !found {
		err := pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("sorn %d not found", sub.SornID))
		c.recordFailure(itemCtx, sub, attempt, err, now)
		return nil, err
	}

	result, err := c.registry.Submit(itemCtx, fedreg.BuildSubmitPayload(*sorn, now))
	if err != nil {
		c.metrics.IncRegistryFailure("submit")
		c.recordFailure(itemCtx, sub, attempt, err, now)
		return nil, err
	}

	var (
		updated *models.Submission
		created events.SubmissionCreated
	)
	err = c.repo.InTx(itemCtx, func(tx submissions.Repository) error {
		ok, err := tx.Resubmit(itemCtx, sub.ID, sub.Status, result.SubmissionID)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "submission changed during retry")
		}
		if _, err := tx.ReassignEvents(itemCtx, sub.SubmissionID, result.SubmissionID); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(itemCtx, result.SubmissionID, enums.SubmissionEventSubmitted, map[string]any{
			"submission_id":          result.SubmissionID,
			"previous_submission_id": sub.SubmissionID,
			"attempt":                attempt,
		}); err != nil {
			return err
		}
		fresh, found, err := tx.FindByID(itemCtx, sub.ID)
		if err != nil {
			return err
		}
		if !found {
			return pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
		}
		updated = fresh
		created = events.SubmissionCreated{
			Envelope:             events.NewEnvelope(*fresh, now),
			PreviousSubmissionID: sub.SubmissionID,
			Attempt:              attempt,
		}
		return c.outbox.Record(itemCtx, tx.Conn(itemCtx), created)
	})
	if err != nil {
		c.logg.Error(itemCtx, "record resubmission failed", err)
		return nil, err
	}

	c.metrics.IncTransition(string(sub.Status), string(enums.SubmissionStatusSubmitted))
	c.logg.Info(c.logg.WithFields(itemCtx, map[string]any{
		"new_submission_id": result.SubmissionID,
		"attempt":           attempt,
	}), "submission resubmitted")

	c.publisher.Publish(ctx, created)
	return updated, nil
}

// recordFailure keeps the error event and its outbox row together. A
// failure here is logged; the original cause is what the caller reports.
func (c *RetryCoordinator) recordFailure(ctx context.Context, sub models.Submission, attempt int, cause error, now time.Time) {
	c.logg.Error(ctx, "resubmission failed", cause)
	failed := events.Error{
		Envelope: events.NewEnvelope(sub, now),
		Message:  pkgerrors.MessageOf(cause),
		Attempt:  attempt,
	}
	err := c.repo.InTx(ctx, func(tx submissions.Repository) error {
		if _, err := tx.AppendEvent(ctx, sub.SubmissionID, enums.SubmissionEventError, map[string]any{
			"message": failed.Message,
			"attempt": attempt,
		}); err != nil {
			return err
		}
		return c.outbox.Record(ctx, tx.Conn(ctx), failed)
	})
	if err != nil {
		c.logg.Error(ctx, "record retry failure event", err)
		return
	}
	c.publisher.Publish(ctx, failed)
}
