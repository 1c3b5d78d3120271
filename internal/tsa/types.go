package tsa

import "time"

// Parent kinds used by team payloads.
const (
	ParentDistrict = "district"
	ParentGroup    = "group"
	ParentSection  = "section"
	ParentTeam     = "team"
)

// page is the envelope of every list endpoint. An absent or empty Next ends the listing.
type page[T any] struct {
	Results []T    `json:"results"`
	Next    string `json:"next"`
}

// DistrictPayload describes the district being imported.
type DistrictPayload struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type GroupPayload struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// SectionPayload describes a section. GroupID is empty for district-run sections.
type SectionPayload struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	SectionType string `json:"section_type" validate:"required,oneof=squirrels beavers cubs scouts explorers network young_leaders"`
	GroupID     string `json:"group_id"`
}

// TeamTypePayload describes a team type. Absent flags leave the stored values untouched.
type TeamTypePayload struct {
	ID                   string `json:"id" validate:"required"`
	Name                 string `json:"name" validate:"required"`
	Nickname             string `json:"nickname"`
	MailingSlug          string `json:"mailing_slug" validate:"omitempty,mailslug"`
	HasTeamLead          *bool  `json:"has_team_lead"`
	HasAllList           *bool  `json:"has_all_list"`
	IncludedInAllMembers *bool  `json:"included_in_all_members"`
	MembersCanSendAs     *bool  `json:"members_can_send_as"`
}

// ParentPayload points a team at the unit or team it hangs off.
type ParentPayload struct {
	Type string `json:"type" validate:"required,oneof=district group section team"`
	ID   string `json:"id" validate:"required"`
}

type TeamPayload struct {
	ID         string        `json:"id" validate:"required"`
	Name       string        `json:"name" validate:"required"`
	TeamTypeID string        `json:"team_type_id" validate:"required"`
	Parent     ParentPayload `json:"parent"`
}

type PersonPayload struct {
	ID        string `json:"id" validate:"required"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name"`
	Email     string `json:"email" validate:"omitempty,email"`
}

type RolePayload struct {
	ID       string `json:"id" validate:"required"`
	PersonID string `json:"person_id" validate:"required"`
	TeamID   string `json:"team_id" validate:"required"`
	RoleType string `json:"role_type" validate:"required"`
	Status   string `json:"status" validate:"required"`
}

type AccreditationPayload struct {
	ID        string     `json:"id" validate:"required"`
	PersonID  string     `json:"person_id" validate:"required"`
	TeamID    string     `json:"team_id" validate:"required"`
	Type      string     `json:"type" validate:"required"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at"`
	GrantedAt *time.Time `json:"granted_at"`
}

// Snapshot is everything the API returns for one district.
type Snapshot struct {
	District       DistrictPayload
	Groups         []GroupPayload
	Sections       []SectionPayload
	TeamTypes      []TeamTypePayload
	Teams          []TeamPayload
	People         []PersonPayload
	Roles          []RolePayload
	Accreditations []AccreditationPayload
}
