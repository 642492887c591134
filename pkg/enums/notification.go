package enums

import "fmt"

// NotificationKind groups domain events for preference and template lookup.
type NotificationKind string

const (
	NotificationKindSubmission  NotificationKind = "submission"
	NotificationKindStatus      NotificationKind = "status"
	NotificationKindPublication NotificationKind = "publication"
	NotificationKindError       NotificationKind = "error"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindSubmission,
	NotificationKindStatus,
	NotificationKindPublication,
	NotificationKindError,
}

// IsValid checks whether the given kind matches the canonical enum.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw strings into NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}

// AdminNoticeKind maps to admin_notices.kind.
type AdminNoticeKind string

const (
	AdminNoticeInfo  AdminNoticeKind = "info"
	AdminNoticeError AdminNoticeKind = "error"
)

func (k AdminNoticeKind) IsValid() bool {
	return k == AdminNoticeInfo || k == AdminNoticeError
}
