package events

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/outbox"
	"github.com/angelmondragon/sorn-tracker/pkg/outbox/payloads"
)

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Recorder writes events into the transaction that produced them, so the
// outbox row commits or rolls back with the state change.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, evs ...Event) error
}

type discardRecorder struct{}

func (discardRecorder) Record(context.Context, *gorm.DB, ...Event) error { return nil }

// DiscardRecorder keeps nothing. Engines fall back to it when no outbox is
// wired.
var DiscardRecorder Recorder = discardRecorder{}

// OutboxRecorder maps events onto outbox_events rows for relay to Pub/Sub.
type OutboxRecorder struct {
	emitter emitter
}

var _ Recorder = (*OutboxRecorder)(nil)

func NewOutboxRecorder(emitter emitter) (*OutboxRecorder, error) {
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter is required")
	}
	return &OutboxRecorder{emitter: emitter}, nil
}

// Record emits every event through tx and stops at the first failure. The
// caller is expected to roll back when an error comes back.
func (r *OutboxRecorder) Record(ctx context.Context, tx *gorm.DB, evs ...Event) error {
	if tx == nil {
		return fmt.Errorf("outbox record requires a transaction")
	}
	for _, event := range evs {
		domain, err := ToDomainEvent(event)
		if err != nil {
			return err
		}
		if err := r.emitter.Emit(ctx, tx, domain); err != nil {
			return fmt.Errorf("emit %s: %w", event.Kind(), err)
		}
	}
	return nil
}

// RecorderOrDiscard returns r, or DiscardRecorder when r is nil.
func RecorderOrDiscard(r Recorder) Recorder {
	if r == nil {
		return DiscardRecorder
	}
	return r
}

// ToDomainEvent maps a bus event onto its outbox representation.
func ToDomainEvent(event Event) (outbox.DomainEvent, error) {
	env := event.Env()
	snapshot := payloads.Snapshot(env.Submission)

	var (
		eventType enums.OutboxEventType
		data      any
	)
	switch e := event.(type) {
	case SubmissionCreated:
		eventType = enums.EventSubmissionCreated
		data = payloads.SubmissionCreatedEvent{
			Submission:           snapshot,
			PreviousSubmissionID: e.PreviousSubmissionID,
			Attempt:              e.Attempt,
		}
	case StatusChanged:
		eventType = enums.EventSubmissionStatusChanged
		data = payloads.SubmissionStatusChangedEvent{
			Submission: snapshot,
			OldStatus:  e.Old,
			NewStatus:  e.New,
			RawStatus:  e.Raw,
		}
	case Published:
		eventType = enums.EventSubmissionPublished
		data = payloads.SubmissionPublishedEvent{
			Submission:      snapshot,
			DocumentNumber:  e.DocumentNumber,
			PublicationDate: e.PublicationDate,
		}
	case Error:
		eventType = enums.EventSubmissionError
		data = payloads.SubmissionErrorEvent{
			Submission: snapshot,
			Message:    e.Message,
			Attempt:    e.Attempt,
		}
	default:
		return outbox.DomainEvent{}, fmt.Errorf("unsupported event %T", event)
	}

	return outbox.DomainEvent{
		EventID:       env.ID,
		EventType:     eventType,
		AggregateType: enums.AggregateSubmission,
		AggregateID:   env.Submission.SubmissionID,
		Data:          data,
		OccurredAt:    env.OccurredAt,
	}, nil
}
