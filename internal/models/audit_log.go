package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog records the outcome of a batch run.
type AuditLog struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	Action   string `gorm:"not null;index" json:"action"`
	Resource string `gorm:"index" json:"resource"`
	Result   string `gorm:"not null" json:"result"`
	Trigger  string `gorm:"column:triggered_by;type:varchar(16)" json:"trigger"`
	Error    string `json:"error"`
	Metadata string `gorm:"type:json" json:"metadata"`

	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
