// Package lifecycle advances Federal Register submissions: polling the
// registry for status, resubmitting failures, and retiring old records.
package lifecycle

import (
	"strings"
	"time"

	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	"github.com/angelmondragon/sorn-tracker/internal/submissions"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

// MapRemoteStatus folds a registry status onto the local lifecycle.
// Anything unrecognised becomes error.
func MapRemoteStatus(raw string) enums.SubmissionStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "submitted":
		return enums.SubmissionStatusSubmitted
	case "in_review":
		return enums.SubmissionStatusInReview
	case "changes_requested":
		return enums.SubmissionStatusChangesRequested
	case "approved":
		return enums.SubmissionStatusApproved
	case "scheduled":
		return enums.SubmissionStatusScheduled
	case "published":
		return enums.SubmissionStatusPublished
	case "rejected":
		return enums.SubmissionStatusRejected
	default:
		return enums.SubmissionStatusError
	}
}

// Decision is what reconciliation intends to do with one submission.
type Decision struct {
	Transition      bool
	From            enums.SubmissionStatus
	To              enums.SubmissionStatus
	Raw             string
	DocumentNumber  *string
	PublicationDate *time.Time
	Message         string
}

// Update converts the decision into a store update.
func (d Decision) Update() submissions.StatusUpdate {
	update := submissions.StatusUpdate{Status: d.To}
	if d.To == enums.SubmissionStatusPublished {
		update.DocumentNumber = d.DocumentNumber
		update.PublishedAt = d.PublicationDate
	}
	return update
}

// Decide compares the local record against the registry's answer. It has no
// side effects.
func Decide(sub models.Submission, remote fedreg.StatusResult, now time.Time) Decision {
	to := MapRemoteStatus(remote.Status)
	d := Decision{
		Transition: to != sub.Status,
		From:       sub.Status,
		To:         to,
		Raw:        remote.Status,
		Message:    strings.TrimSpace(remote.Message),
	}
	if !d.Transition || to != enums.SubmissionStatusPublished {
		return d
	}

	doc := sub.DocumentNumber
	if remote.DocumentNumber != nil && strings.TrimSpace(*remote.DocumentNumber) != "" {
		trimmed := strings.TrimSpace(*remote.DocumentNumber)
		doc = &trimmed
	}
	d.DocumentNumber = doc

	published := now.UTC()
	if remote.PublicationDate != nil {
		if parsed, ok := parseRemoteDate(*remote.PublicationDate); ok {
			published = parsed
		}
	}
	d.PublicationDate = &published
	return d
}

func parseRemoteDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.DateOnly, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
