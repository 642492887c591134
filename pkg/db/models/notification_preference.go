package models

import "time"

// NotificationPreference holds per-recipient opt-outs. A missing row means
// every kind is enabled.
type NotificationPreference struct {
	Email              string    `gorm:"column:email;type:varchar(255);primaryKey"`
	NotifySubmissions  bool      `gorm:"column:notify_submissions;not null"`
	NotifyStatus       bool      `gorm:"column:notify_status;not null"`
	NotifyPublications bool      `gorm:"column:notify_publications;not null"`
	NotifyErrors       bool      `gorm:"column:notify_errors;not null"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (NotificationPreference) TableName() string { return "notification_preferences" }
