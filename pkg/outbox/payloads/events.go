package payloads

import (
	"time"

	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

// SubmissionSnapshot is the wire view of a submission row.
type SubmissionSnapshot struct {
	ID             uint64                 `json:"id"`
	SubmissionID   string                 `json:"submission_id"`
	SornID         uint64                 `json:"sorn_id"`
	Status         enums.SubmissionStatus `json:"status"`
	DocumentNumber *string                `json:"document_number,omitempty"`
	SubmittedAt    time.Time              `json:"submitted_at"`
	PublishedAt    *time.Time             `json:"published_at,omitempty"`
}

// Snapshot copies the fields consumers rely on.
func Snapshot(sub models.Submission) SubmissionSnapshot {
	return SubmissionSnapshot{
		ID:             sub.ID,
		SubmissionID:   sub.SubmissionID,
		SornID:         sub.SornID,
		Status:         sub.Status,
		DocumentNumber: sub.DocumentNumber,
		SubmittedAt:    sub.SubmittedAt,
		PublishedAt:    sub.PublishedAt,
	}
}

// SubmissionCreatedEvent is emitted when the registry accepts a document.
type SubmissionCreatedEvent struct {
	Submission           SubmissionSnapshot `json:"submission"`
	PreviousSubmissionID string             `json:"previous_submission_id,omitempty"`
	Attempt              int                `json:"attempt,omitempty"`
}

// SubmissionStatusChangedEvent is emitted for every reconciled transition.
type SubmissionStatusChangedEvent struct {
	Submission SubmissionSnapshot     `json:"submission"`
	OldStatus  enums.SubmissionStatus `json:"old_status"`
	NewStatus  enums.SubmissionStatus `json:"new_status"`
	RawStatus  string                 `json:"raw_status"`
}

// SubmissionPublishedEvent is emitted once a document number is assigned.
type SubmissionPublishedEvent struct {
	Submission      SubmissionSnapshot `json:"submission"`
	DocumentNumber  string             `json:"document_number"`
	PublicationDate *time.Time         `json:"publication_date,omitempty"`
}

// SubmissionErrorEvent is emitted when a submission lands in error.
type SubmissionErrorEvent struct {
	Submission SubmissionSnapshot `json:"submission"`
	Message    string             `json:"message"`
	Attempt    int                `json:"attempt,omitempty"`
}
