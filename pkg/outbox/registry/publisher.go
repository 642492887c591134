package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/sorn-tracker/pkg/config"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/outbox"
	"github.com/angelmondragon/sorn-tracker/pkg/outbox/payloads"
)

// EventDescriptor says where an event type is published and how its data
// decodes.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// Attributes are the Pub/Sub message attributes for the row. Consumers
// filter on event_type and dedupe on event_id.
func (e *ResolvedEvent) Attributes(row models.OutboxEvent) map[string]string {
	attrs := map[string]string{
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"submission_id":  row.AggregateID,
		"schema_version": fmt.Sprint(e.Envelope.Version),
	}
	if e.Envelope.EventID != "" {
		attrs["event_id"] = e.Envelope.EventID
	}
	if !e.Envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = e.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return attrs
}

// EventRegistry holds the descriptor for each submission event type.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will fail the same way on every
// attempt and belongs in the dead-letter table.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable outbox error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// NewNonRetryableError wraps err as a NonRetryableError.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

func submissionEvent[T any](eventType enums.OutboxEventType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  enums.AggregateSubmission,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry routes every submission event to the domain topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.DomainTopic)
	if topic == "" {
		return nil, errors.New("pubsub domain topic is required")
	}

	descriptors := []EventDescriptor{
		submissionEvent[payloads.SubmissionCreatedEvent](enums.EventSubmissionCreated, topic),
		submissionEvent[payloads.SubmissionStatusChangedEvent](enums.EventSubmissionStatusChanged, topic),
		submissionEvent[payloads.SubmissionPublishedEvent](enums.EventSubmissionPublished, topic),
		submissionEvent[payloads.SubmissionErrorEvent](enums.EventSubmissionError, topic),
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the stored row will not change.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[row.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %q", row.EventType)
	case desc.AggregateType != row.AggregateType:
		return nil, nonRetryable("%s: aggregate type %q, want %q", row.EventType, row.AggregateType, desc.AggregateType)
	case strings.TrimSpace(row.AggregateID) == "":
		return nil, nonRetryable("%s: missing submission id", row.EventType)
	}

	envelope, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, nonRetryable("%s: %w", row.EventType, err)
	}
	if envelope.Version < 1 || envelope.Version > outbox.EnvelopeVersion {
		return nil, nonRetryable("%s: unsupported envelope version %d", row.EventType, envelope.Version)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, nonRetryable("%s: decode data: %w", row.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
