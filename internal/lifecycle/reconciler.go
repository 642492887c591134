package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/sorn-tracker/internal/events"
	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	"github.com/angelmondragon/sorn-tracker/internal/submissions"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/metrics"
)

const (
	defaultQuiescence         = 5 * time.Minute
	defaultReconcileBatchSize = 50
)

// Report summarises one engine run.
type Report struct {
	Examined     int
	Transitioned int
	Unchanged    int
	Skipped      int
	Failed       int
}

// ReconcilerParams wires a Reconciler.
type ReconcilerParams struct {
	Repository submissions.Repository
	Registry   fedreg.Registry
	Publisher  events.Publisher
	Outbox     events.Recorder
	Logger     *logger.Logger
	Metrics    *metrics.LifecycleMetrics
	Quiescence time.Duration
	BatchSize  int
}

// Reconciler pulls registry status for in-flight submissions and applies
// any change locally.
type Reconciler struct {
	repo       submissions.Repository
	registry   fedreg.Registry
	publisher  events.Publisher
	outbox     events.Recorder
	logg       *logger.Logger
	metrics    *metrics.LifecycleMetrics
	quiescence time.Duration
	batchSize  int
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("submissions repository required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	quiescence := params.Quiescence
	if quiescence <= 0 {
		quiescence = defaultQuiescence
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatchSize
	}
	return &Reconciler{
		repo:       params.Repository,
		registry:   params.Registry,
		publisher:  publisherOrNoop(params.Publisher),
		outbox:     events.RecorderOrDiscard(params.Outbox),
		logg:       params.Logger,
		metrics:    params.Metrics,
		quiescence: quiescence,
		batchSize:  batch,
	}, nil
}

// Run examines one batch of candidates. Per-item failures are combined into
// the returned error; the rest of the batch is still processed.
func (r *Reconciler) Run(ctx context.Context, now time.Time) (Report, error) {
	var report Report
	now = now.UTC()

	candidates, err := r.repo.FindReconcileCandidates(ctx, enums.ReconcilableStatuses, now.Add(-r.quiescence), r.batchSize)
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
		outcome, err := r.reconcileOne(ctx, sub, now)
		switch outcome {
		case outcomeTransitioned:
			report.Transitioned++
		case outcomeUnchanged:
			report.Unchanged++
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Failed++
			errs = multierr.Append(errs, err)
		}
	}

	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"examined":     report.Examined,
		"transitioned": report.Transitioned,
		"unchanged":    report.Unchanged,
		"skipped":      report.Skipped,
		"failed":       report.Failed,
	}), "reconciliation finished")
	return report, errs
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeTransitioned
	outcomeSkipped
	outcomeFailed
)

func (r *Reconciler) reconcileOne(ctx context.Context, sub models.Submission, now time.Time) (outcome, error) {
	itemCtx := r.logg.WithSubmission(ctx, sub.ID, sub.SubmissionID)

	remote, err := r.registry.GetStatus(itemCtx, sub.SubmissionID)
	if err != nil {
		r.metrics.IncRegistryFailure("get_status")
		r.logg.Error(itemCtx, "registry status lookup failed", err)
		return outcomeFailed, fmt.Errorf("submission %s: %w", sub.SubmissionID, err)
	}

	decision := Decide(sub, *remote, now)
	if !decision.Transition {
		return outcomeUnchanged, nil
	}

	if decision.To == enums.SubmissionStatusPublished && decision.DocumentNumber == nil {
		r.logg.Warn(itemCtx, "registry reported published without a document number")
	}

	var emitted []events.Event
	applied := false
	err = r.repo.InTx(itemCtx, func(tx submissions.Repository) error {
		ok, err := tx.CompareAndSetStatus(itemCtx, sub.ID, decision.From, decision.Update())
		if err != nil || !ok {
			return err
		}
		applied = true
		if err := appendDecisionEvents(itemCtx, tx, sub.SubmissionID, decision); err != nil {
			return err
		}
		updated := &sub
		fresh, found, err := tx.FindByID(itemCtx, sub.ID)
		if err != nil {
			return err
		}
		if found {
			updated = fresh
		}
		emitted = decisionEvents(*updated, decision, now)
		return r.outbox.Record(itemCtx, tx.Conn(itemCtx), emitted...)
	})
	if err != nil {
		r.logg.Error(itemCtx, "apply status transition failed", err)
		return outcomeFailed, fmt.Errorf("submission %s: %w", sub.SubmissionID, err)
	}
	if !applied {
		r.logg.Debug(itemCtx, "submission changed concurrently; skipping")
		return outcomeSkipped, nil
	}

	r.metrics.IncTransition(string(decision.From), string(decision.To))
	r.logg.Info(r.logg.WithFields(itemCtx, map[string]any{
		"old_status": decision.From,
		"new_status": decision.To,
	}), "submission status changed")

	for _, ev := range emitted {
		r.publisher.Publish(ctx, ev)
	}
	return outcomeTransitioned, nil
}

func appendDecisionEvents(ctx context.Context, tx submissions.Repository, externalID string, d Decision) error {
	if _, err := tx.AppendEvent(ctx, externalID, enums.SubmissionEventStatusChanged, map[string]any{
		"old_status":        d.From,
		"new_status":        d.To,
		"raw_remote_status": d.Raw,
	}); err != nil {
		return err
	}

	switch d.To {
	case enums.SubmissionStatusPublished:
		var published any
		if d.PublicationDate != nil {
			published = d.PublicationDate.Format(time.RFC3339)
		}
		var doc any
		if d.DocumentNumber != nil {
			doc = *d.DocumentNumber
		}
		_, err := tx.AppendEvent(ctx, externalID, enums.SubmissionEventPublished, map[string]any{
			"document_number":  doc,
			"publication_date": published,
		})
		return err
	case enums.SubmissionStatusRejected:
		_, err := tx.AppendEvent(ctx, externalID, enums.SubmissionEventRejected, map[string]any{
			"message": d.Message,
		})
		return err
	case enums.SubmissionStatusError:
		_, err := tx.AppendEvent(ctx, externalID, enums.SubmissionEventError, map[string]any{
			"message": errorMessage(d),
		})
		return err
	}
	return nil
}

func errorMessage(d Decision) string {
	if d.Message != "" {
		return d.Message
	}
	return fmt.Sprintf("unrecognized registry status %q", d.Raw)
}

// decisionEvents lists what a transition announces: always the status
// change, plus the published or error event when one applies.
func decisionEvents(sub models.Submission, d Decision, now time.Time) []events.Event {
	out := []events.Event{events.StatusChanged{
		Envelope: events.NewEnvelope(sub, now),
		Old:      d.From,
		New:      d.To,
		Raw:      d.Raw,
		Message:  d.Message,
	}}
	switch d.To {
	case enums.SubmissionStatusPublished:
		out = append(out, events.Published{
			Envelope:        events.NewEnvelope(sub, now),
			DocumentNumber:  deref(d.DocumentNumber),
			PublicationDate: d.PublicationDate,
		})
	case enums.SubmissionStatusError:
		out = append(out, events.Error{
			Envelope: events.NewEnvelope(sub, now),
			Message:  errorMessage(d),
		})
	}
	return out
}

func publisherOrNoop(p events.Publisher) events.Publisher {
	if p == nil {
		return events.Discard
	}
	return p
}
