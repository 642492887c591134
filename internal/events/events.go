// Package events carries submission lifecycle facts from the engines to
// their consumers within one process.
package events

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

type Kind string

const (
	KindSubmissionCreated Kind = "submission_created"
	KindStatusChanged     Kind = "status_changed"
	KindPublished         Kind = "published"
	KindError             Kind = "error"
)

// Event is implemented by every lifecycle event.
type Event interface {
	Kind() Kind
	Env() Envelope
}

// Envelope is the metadata shared by all events. Submission is a snapshot
// taken after the change was committed.
type Envelope struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Submission models.Submission `json:"submission"`
}

func (e Envelope) Env() Envelope { return e }

// NewEnvelope stamps sub with a fresh ULID ordered by occurredAt.
func NewEnvelope(sub models.Submission, occurredAt time.Time) Envelope {
	occurredAt = occurredAt.UTC()
	id := ulid.MustNew(ulid.Timestamp(occurredAt), ulid.DefaultEntropy())
	return Envelope{ID: id.String(), OccurredAt: occurredAt, Submission: sub}
}

// SubmissionCreated fires when a document is accepted by the registry,
// including accepted retries.
type SubmissionCreated struct {
	Envelope
	PreviousSubmissionID string `json:"previous_submission_id,omitempty"`
	Attempt              int    `json:"attempt,omitempty"`
}

func (SubmissionCreated) Kind() Kind { return KindSubmissionCreated }

// StatusChanged carries the remote message, if any, so rejections can say
// why.
type StatusChanged struct {
	Envelope
	Old     enums.SubmissionStatus `json:"old_status"`
	New     enums.SubmissionStatus `json:"new_status"`
	Raw     string                 `json:"raw_status"`
	Message string                 `json:"message,omitempty"`
}

func (StatusChanged) Kind() Kind { return KindStatusChanged }

type Published struct {
	Envelope
	DocumentNumber  string     `json:"document_number"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
}

func (Published) Kind() Kind { return KindPublished }

type Error struct {
	Envelope
	Message string `json:"message"`
	Attempt int    `json:"attempt,omitempty"`
}

func (Error) Kind() Kind { return KindError }
