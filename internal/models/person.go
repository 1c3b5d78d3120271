package models

import "strings"

// Person is a member known to the TSA membership system.
type Person struct {
	BaseModel

	TSAID     string `gorm:"index" json:"tsa_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `gorm:"index" json:"email"`

	Roles []Role `gorm:"foreignKey:PersonID" json:"roles,omitempty"`
}

// DisplayName joins the first and last names.
func (p Person) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}
