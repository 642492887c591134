package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

// SubmissionEvent is an immutable fact about a submission, keyed by the
// external submission id rather than the numeric primary key.
type SubmissionEvent struct {
	ID           uint64                    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SubmissionID string                    `gorm:"column:submission_id;type:varchar(100);not null;index" json:"submission_id"`
	EventType    enums.SubmissionEventType `gorm:"column:event_type;type:varchar(50);not null;index" json:"event_type"`
	EventData    datatypes.JSON            `gorm:"column:event_data" json:"event_data"`
	CreatedAt    time.Time                 `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (SubmissionEvent) TableName() string { return "submission_events" }
