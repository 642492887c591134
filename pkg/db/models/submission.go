package models

import (
	"time"

	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

// Submission is one attempt to register a SORN with the Federal Register.
// SubmissionID is the registry-assigned id that events reference.
type Submission struct {
	ID             uint64                 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SornID         uint64                 `gorm:"column:sorn_id;not null;index;index:idx_submissions_sorn_status,priority:1" json:"sorn_id"`
	SubmissionID   string                 `gorm:"column:submission_id;type:varchar(100);not null;index" json:"submission_id"`
	DocumentNumber *string                `gorm:"column:document_number;type:varchar(100);index" json:"document_number"`
	Status         enums.SubmissionStatus `gorm:"column:status;type:varchar(50);not null;index;index:idx_submissions_sorn_status,priority:2" json:"status"`
	SubmittedAt    time.Time              `gorm:"column:submitted_at;not null" json:"submitted_at"`
	PublishedAt    *time.Time             `gorm:"column:published_at" json:"published_at"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Submission) TableName() string { return "submissions" }
