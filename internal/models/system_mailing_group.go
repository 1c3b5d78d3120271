package models

import (
	"strings"

	"gorm.io/datatypes"
)

// SystemMailingGroup is a mailing list whose membership is derived from roles. CompositeKey is
// the identity used across catalog runs; the primary key is not.
type SystemMailingGroup struct {
	BaseModel

	Name         string                              `gorm:"uniqueIndex;not null" json:"name"`
	DisplayName  string                              `gorm:"not null" json:"display_name"`
	CompositeKey string                              `gorm:"uniqueIndex;not null" json:"composite_key"`
	Config       datatypes.JSONType[MailGroupConfig] `json:"config"`

	CanReceiveExternalEmail    bool   `json:"can_receive_external_email"`
	CanMembersSendAs           bool   `json:"can_members_send_as"`
	FallbackGroupCompositeKey  string `gorm:"index" json:"fallback_group_composite_key"`
	AlwaysIncludeFallbackGroup bool   `json:"always_include_fallback_group"`

	Members []Person `gorm:"many2many:system_mailing_group_members;" json:"members,omitempty"`
}

// MailConfig returns the decoded membership configuration.
func (g SystemMailingGroup) MailConfig() MailGroupConfig {
	return g.Config.Data()
}

// Email returns the full address for the group in domain.
func (g SystemMailingGroup) Email(domain string) string {
	return strings.ToLower(g.Name + "@" + strings.TrimPrefix(strings.TrimSpace(domain), "@"))
}

// MailingPreference selects how a group's section-type address is populated.
type MailingPreference string

const (
	// MailingPreferenceTeams sends to the whole section team.
	MailingPreferenceTeams MailingPreference = "teams"
	// MailingPreferenceLeaders sends to section leaders, with a separate address for the team.
	MailingPreferenceLeaders MailingPreference = "leaders"
)

// GroupSectionMailingPreference stores the preference for one group and section type.
type GroupSectionMailingPreference struct {
	BaseModel

	GroupID     string            `gorm:"size:36;not null;uniqueIndex:idx_group_section_preference" json:"group_id"`
	SectionType SectionType       `gorm:"type:varchar(32);not null;uniqueIndex:idx_group_section_preference" json:"section_type"`
	Preference  MailingPreference `gorm:"type:varchar(16);not null" json:"preference"`
}
