package models

import (
	"time"

	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

// AdminNotice is an inline notice shown to administrators.
type AdminNotice struct {
	ID           uint64                `gorm:"column:id;primaryKey;autoIncrement"`
	Kind         enums.AdminNoticeKind `gorm:"column:kind;type:varchar(20);not null"`
	Title        string                `gorm:"column:title;type:text;not null"`
	Message      string                `gorm:"column:message;type:text;not null"`
	SubmissionID *string               `gorm:"column:submission_id;type:varchar(100);index"`
	ReadAt       *time.Time            `gorm:"column:read_at"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime;index"`
}

func (AdminNotice) TableName() string { return "admin_notices" }
