package enums

import "fmt"

// SubmissionEventType labels an append-only submission event. The set is
// conventional; stored rows may carry other values.
type SubmissionEventType string

const (
	SubmissionEventSubmitted      SubmissionEventType = "submitted"
	SubmissionEventStatusChanged  SubmissionEventType = "status_changed"
	SubmissionEventPublished      SubmissionEventType = "published"
	SubmissionEventRejected       SubmissionEventType = "rejected"
	SubmissionEventError          SubmissionEventType = "error"
	SubmissionEventRetryAttempted SubmissionEventType = "retry_attempted"
)

var validSubmissionEventTypes = []SubmissionEventType{
	SubmissionEventSubmitted,
	SubmissionEventStatusChanged,
	SubmissionEventPublished,
	SubmissionEventRejected,
	SubmissionEventError,
	SubmissionEventRetryAttempted,
}

// IsValid reports whether the value is one of the conventional event types.
func (t SubmissionEventType) IsValid() bool {
	for _, candidate := range validSubmissionEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseSubmissionEventType converts raw input into SubmissionEventType.
func ParseSubmissionEventType(value string) (SubmissionEventType, error) {
	for _, candidate := range validSubmissionEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid submission event type %q", value)
}
