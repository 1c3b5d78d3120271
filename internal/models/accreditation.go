package models

import "time"

// AccreditationType names a certification such as "First Aid".
type AccreditationType struct {
	BaseModel

	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

// Accreditation records a certification held by a person within a team.
type Accreditation struct {
	BaseModel

	TSAID               string     `gorm:"index" json:"tsa_id"`
	PersonID            string     `gorm:"size:36;not null;index" json:"person_id"`
	TeamID              string     `gorm:"size:36;not null;index" json:"team_id"`
	AccreditationTypeID string     `gorm:"size:36;not null;index" json:"accreditation_type_id"`
	Status              string     `json:"status"`
	ExpiresAt           *time.Time `json:"expires_at"`
	GrantedAt           *time.Time `json:"granted_at"`

	Person            *Person            `gorm:"foreignKey:PersonID" json:"person,omitempty"`
	AccreditationType *AccreditationType `gorm:"foreignKey:AccreditationTypeID" json:"accreditation_type,omitempty"`
}
