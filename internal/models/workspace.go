package models

import "time"

// WorkspaceAccount mirrors a Google Workspace user. Rows are rewritten on every directory sync.
type WorkspaceAccount struct {
	BaseModel

	GoogleID     string `gorm:"uniqueIndex;not null" json:"google_id"`
	PrimaryEmail string `gorm:"index;not null" json:"primary_email"`
	GivenName    string `json:"given_name"`
	FamilyName   string `json:"family_name"`

	Suspended                 bool       `json:"suspended"`
	Archived                  bool       `json:"archived"`
	IsAdmin                   bool       `json:"is_admin"`
	ChangePasswordAtNextLogin bool       `json:"change_password_at_next_login"`
	IsEnrolledIn2SV           bool       `json:"is_enrolled_in_2sv"`
	IsEnforcedIn2SV           bool       `json:"is_enforced_in_2sv"`
	OrgUnitPath               string     `json:"org_unit_path"`
	LastLoginAt               *time.Time `json:"last_login_at"`

	PersonID *string `gorm:"size:36;index" json:"person_id"`
	Person   *Person `gorm:"foreignKey:PersonID" json:"person,omitempty"`

	Aliases []WorkspaceAccountAlias `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"aliases,omitempty"`
}

// WorkspaceAccountAlias is an alternative address of a workspace account.
type WorkspaceAccountAlias struct {
	BaseModel

	AccountID string `gorm:"size:36;not null;index" json:"account_id"`
	Address   string `gorm:"uniqueIndex;not null" json:"address"`
}

// WorkspaceGroup mirrors a Google Workspace group.
type WorkspaceGroup struct {
	BaseModel

	GoogleID           string `gorm:"uniqueIndex;not null" json:"google_id"`
	Email              string `gorm:"index;not null" json:"email"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	DirectMembersCount int64  `json:"direct_members_count"`
	AdminCreated       bool   `json:"admin_created"`

	SystemMailingGroupID *string             `gorm:"size:36;index" json:"system_mailing_group_id"`
	SystemMailingGroup   *SystemMailingGroup `gorm:"foreignKey:SystemMailingGroupID" json:"system_mailing_group,omitempty"`

	Aliases []WorkspaceGroupAlias `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"aliases,omitempty"`
}

// WorkspaceGroupAlias is an alternative address of a workspace group.
type WorkspaceGroupAlias struct {
	BaseModel

	GroupID string `gorm:"size:36;not null;index" json:"group_id"`
	Address string `gorm:"uniqueIndex;not null" json:"address"`
}
