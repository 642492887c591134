package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionArchive is a write-once snapshot of a submission and its events.
type SubmissionArchive struct {
	ID           uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	SubmissionID string         `gorm:"column:submission_id;type:varchar(100);not null;index"`
	SornID       uint64         `gorm:"column:sorn_id;not null;index"`
	Data         datatypes.JSON `gorm:"column:data;not null"`
	ArchivedAt   time.Time      `gorm:"column:archived_at;not null"`
}

func (SubmissionArchive) TableName() string { return "submission_archives" }
