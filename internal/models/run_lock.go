package models

import "time"

// RunLock is a lease held by the batch process currently allowed to touch shared state.
type RunLock struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Owner     string    `gorm:"size:64;not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
