package models

import "time"

// WaitingListEntry is a young person waiting for a place, imported from OSM exports.
type WaitingListEntry struct {
	BaseModel

	OSMID       string      `gorm:"uniqueIndex;not null" json:"osm_id"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	DateOfBirth *time.Time  `json:"date_of_birth"`
	JoinedAt    *time.Time  `json:"joined_at"`
	SectionType SectionType `gorm:"type:varchar(32);index" json:"section_type"`
	GroupID     *string     `gorm:"size:36;index" json:"group_id"`
}
