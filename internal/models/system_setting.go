package models

import "time"

// SystemSetting is a key/value row for installation state, such as the last successful run of
// each batch job. Keys are capped at 191 characters to fit a MySQL utf8mb4 index.
type SystemSetting struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}
