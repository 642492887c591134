package submissions

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

// EventMessage renders an event for the audit log. sornTitle may be nil.
func EventMessage(eventType enums.SubmissionEventType, data map[string]any, sornTitle *string) string {
	switch eventType {
	case enums.SubmissionEventSubmitted:
		title := sornDeleted
		if sornTitle != nil {
			title = *sornTitle
		}
		return fmt.Sprintf("SORN \"%s\" submitted to Federal Register", title)
	case enums.SubmissionEventStatusChanged:
		return fmt.Sprintf("Status changed from %s to %s", field(data, "old_status"), field(data, "new_status"))
	case enums.SubmissionEventError:
		return fmt.Sprintf("Error occurred: %s", field(data, "message"))
	case enums.SubmissionEventPublished:
		return fmt.Sprintf("Published to Federal Register with document number %s", field(data, "document_number"))
	case enums.SubmissionEventRejected:
		return fmt.Sprintf("Rejected by Federal Register: %s", field(data, "message"))
	case enums.SubmissionEventRetryAttempted:
		return "Submission retry attempted"
	}
	if msg := field(data, "message"); msg != "" {
		return msg
	}
	return "Event occurred"
}

func field(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// decodeEventData returns an empty map for payloads that are not JSON
// objects.
func decodeEventData(raw datatypes.JSON) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}
