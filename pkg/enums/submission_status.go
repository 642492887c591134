package enums

import (
	"fmt"
	"strings"
)

// SubmissionStatus is the local lifecycle state of a Federal Register submission.
type SubmissionStatus string

const (
	SubmissionStatusDraft            SubmissionStatus = "draft"
	SubmissionStatusSubmitted        SubmissionStatus = "submitted"
	SubmissionStatusInReview         SubmissionStatus = "in_review"
	SubmissionStatusChangesRequested SubmissionStatus = "changes_requested"
	SubmissionStatusApproved         SubmissionStatus = "approved"
	SubmissionStatusScheduled        SubmissionStatus = "scheduled"
	SubmissionStatusPublished        SubmissionStatus = "published"
	SubmissionStatusRejected         SubmissionStatus = "rejected"
	SubmissionStatusError            SubmissionStatus = "error"
)

var validSubmissionStatuses = []SubmissionStatus{
	SubmissionStatusDraft,
	SubmissionStatusSubmitted,
	SubmissionStatusInReview,
	SubmissionStatusChangesRequested,
	SubmissionStatusApproved,
	SubmissionStatusScheduled,
	SubmissionStatusPublished,
	SubmissionStatusRejected,
	SubmissionStatusError,
}

// ReconcilableStatuses are polled against the registry.
var ReconcilableStatuses = []SubmissionStatus{
	SubmissionStatusSubmitted,
	SubmissionStatusInReview,
	SubmissionStatusApproved,
	SubmissionStatusScheduled,
}

// TerminalStatuses expect no further automatic transitions.
var TerminalStatuses = []SubmissionStatus{
	SubmissionStatusPublished,
	SubmissionStatusRejected,
}

// ArchivableStatuses may be archived on demand.
var ArchivableStatuses = []SubmissionStatus{
	SubmissionStatusPublished,
	SubmissionStatusRejected,
	SubmissionStatusError,
}

// SubmissionStatuses returns a copy of every valid status.
func SubmissionStatuses() []SubmissionStatus {
	out := make([]SubmissionStatus, len(validSubmissionStatuses))
	copy(out, validSubmissionStatuses)
	return out
}

// IsValid checks whether the status matches the canonical enum.
func (s SubmissionStatus) IsValid() bool {
	return containsStatus(validSubmissionStatuses, s)
}

func (s SubmissionStatus) IsTerminal() bool {
	return containsStatus(TerminalStatuses, s)
}

func (s SubmissionStatus) IsReconcilable() bool {
	return containsStatus(ReconcilableStatuses, s)
}

func (s SubmissionStatus) IsArchivable() bool {
	return containsStatus(ArchivableStatuses, s)
}

// Label renders the status for humans, e.g. "in_review" -> "In Review".
func (s SubmissionStatus) Label() string {
	parts := strings.Split(string(s), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// ParseSubmissionStatus converts raw strings into SubmissionStatus.
func ParseSubmissionStatus(value string) (SubmissionStatus, error) {
	for _, candidate := range validSubmissionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid submission status %q", value)
}

// StatusStrings converts statuses for use in SQL IN clauses.
func StatusStrings(statuses []SubmissionStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func containsStatus(set []SubmissionStatus, s SubmissionStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
