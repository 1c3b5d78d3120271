package models

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// TeamType classifies teams; maintained by the TSA import and read-only elsewhere.
type TeamType struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Nickname    string `json:"nickname"`
	MailingSlug string `json:"mailing_slug"`

	HasTeamLead          bool `json:"has_team_lead"`
	HasAllList           bool `json:"has_all_list"`
	IncludedInAllMembers bool `json:"included_in_all_members"`
	MembersCanSendAs     bool `json:"members_can_send_as"`
}

// DisplayName prefers the nickname over the TSA name.
func (t TeamType) DisplayName() string {
	if nickname := strings.TrimSpace(t.Nickname); nickname != "" {
		return nickname
	}
	return t.Name
}

// Slug returns the mailing slug, deriving one from the display name when unset.
func (t TeamType) Slug() string {
	if slug := strings.TrimSpace(t.MailingSlug); slug != "" {
		return slug
	}
	return Slugify(t.DisplayName())
}

// Team holds roles. A team hangs off exactly one of a district, group, section or parent team.
type Team struct {
	BaseModel

	TSAID        string  `gorm:"index" json:"tsa_id"`
	Name         string  `gorm:"not null" json:"name"`
	TeamTypeID   string  `gorm:"size:36;not null;index" json:"team_type_id"`
	DistrictID   *string `gorm:"size:36;index" json:"district_id"`
	GroupID      *string `gorm:"size:36;index" json:"group_id"`
	SectionID    *string `gorm:"size:36;index" json:"section_id"`
	ParentTeamID *string `gorm:"size:36;index" json:"parent_team_id"`

	TeamType *TeamType `gorm:"foreignKey:TeamTypeID" json:"team_type,omitempty"`
	Roles    []Role    `gorm:"foreignKey:TeamID" json:"roles,omitempty"`
}

// BeforeSave rejects teams without exactly one parent.
func (t *Team) BeforeSave(tx *gorm.DB) error {
	if strings.TrimSpace(t.TeamTypeID) == "" {
		return errors.New("team: team_type_id is required")
	}
	if t.parentCount() != 1 {
		return errors.New("team: exactly one of district_id, group_id, section_id or parent_team_id is required")
	}
	return nil
}

func (t *Team) parentCount() int {
	count := 0
	for _, ref := range []*string{t.DistrictID, t.GroupID, t.SectionID, t.ParentTeamID} {
		if ref != nil && strings.TrimSpace(*ref) != "" {
			count++
		}
	}
	return count
}
