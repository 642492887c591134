package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sorn is the read-only view of a System of Records Notice owned by the
// content layer.
type Sorn struct {
	ID          uint64            `gorm:"column:id;primaryKey;autoIncrement"`
	Title       string            `gorm:"column:title;type:text;not null"`
	Content     string            `gorm:"column:content;type:text;not null"`
	Excerpt     string            `gorm:"column:excerpt;type:text"`
	AgencyID    string            `gorm:"column:agency_id;type:varchar(100)"`
	AuthorEmail *string           `gorm:"column:author_email;type:varchar(255)"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Sorn) TableName() string { return "sorns" }
