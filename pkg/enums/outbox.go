package enums

import "fmt"

// OutboxAggregateType names the entity an outbox row is keyed by. Submissions
// are the only aggregate today.
type OutboxAggregateType string

const AggregateSubmission OutboxAggregateType = "submission"

func (a OutboxAggregateType) IsValid() bool { return a == AggregateSubmission }

// OutboxEventType is the wire name of a submission event relayed to Pub/Sub.
type OutboxEventType string

const (
	EventSubmissionCreated       OutboxEventType = "submission_created"
	EventSubmissionStatusChanged OutboxEventType = "submission_status_changed"
	EventSubmissionPublished     OutboxEventType = "submission_published"
	EventSubmissionError         OutboxEventType = "submission_error"
)

func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventSubmissionCreated, EventSubmissionStatusChanged,
		EventSubmissionPublished, EventSubmissionError:
		return true
	}
	return false
}

// ParseOutboxEventType is exact-match; event names on the wire are lowercase.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("unknown outbox event type %q", value)
}
