package models

// RoleType names a position such as "Team Leader".
type RoleType struct {
	BaseModel

	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

// RoleStatus names the state of a role such as "Full" or "Provisional".
type RoleStatus struct {
	BaseModel

	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

// Role assigns a person to a team. Duplicate tuples are tolerated.
type Role struct {
	BaseModel

	TSAID        string `gorm:"index" json:"tsa_id"`
	PersonID     string `gorm:"size:36;not null;index" json:"person_id"`
	TeamID       string `gorm:"size:36;not null;index" json:"team_id"`
	RoleTypeID   string `gorm:"size:36;not null;index" json:"role_type_id"`
	RoleStatusID string `gorm:"size:36;not null;index" json:"role_status_id"`

	Person     *Person     `gorm:"foreignKey:PersonID" json:"person,omitempty"`
	Team       *Team       `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	RoleType   *RoleType   `gorm:"foreignKey:RoleTypeID" json:"role_type,omitempty"`
	RoleStatus *RoleStatus `gorm:"foreignKey:RoleStatusID" json:"role_status,omitempty"`
}
