// Package workspace talks to the external account directory (Google Workspace).
package workspace

import (
	"context"
	"strings"
	"time"
)

// MemberRole is a directory group membership role.
type MemberRole string

const (
	RoleOwner   MemberRole = "OWNER"
	RoleManager MemberRole = "MANAGER"
	RoleMember  MemberRole = "MEMBER"
)

// Who-can-post values understood by the group settings API.
const (
	PostAnyone       = "ANYONE_CAN_POST"
	PostAllInDomain  = "ALL_IN_DOMAIN_CAN_POST"
	PostAllMembers   = "ALL_MEMBERS_CAN_POST"
	PostManagersOnly = "ALL_MANAGERS_CAN_POST"
)

// AccountInfo is a directory user.
type AccountInfo struct {
	ID                        string
	PrimaryEmail              string
	GivenName                 string
	FamilyName                string
	Aliases                   []string
	Suspended                 bool
	Archived                  bool
	IsAdmin                   bool
	ChangePasswordAtNextLogin bool
	IsEnrolledIn2SV           bool
	IsEnforcedIn2SV           bool
	OrgUnitPath               string
	LastLoginAt               *time.Time
}

// GroupInfo is a directory group.
type GroupInfo struct {
	ID                 string
	Email              string
	Name               string
	Description        string
	DirectMembersCount int64
	AdminCreated       bool
	Aliases            []string
}

// MemberInfo is one member of a directory group.
type MemberInfo struct {
	ID    string
	Email string
	Role  MemberRole
	Type  string
}

// GroupSettings holds the group settings the reconciler manages.
type GroupSettings struct {
	WhoCanPostMessage string
}

// Directory is the port to the external directory. Group and member keys are email addresses.
type Directory interface {
	ListUsers(ctx context.Context) ([]AccountInfo, error)
	ListGroups(ctx context.Context) ([]GroupInfo, error)
	ListMembers(ctx context.Context, groupKey string) ([]MemberInfo, error)

	InsertGroup(ctx context.Context, group GroupInfo) (GroupInfo, error)
	PatchGroup(ctx context.Context, groupKey, name, description string) error
	GetGroupSettings(ctx context.Context, groupKey string) (GroupSettings, error)
	UpdateGroupSettings(ctx context.Context, groupKey string, settings GroupSettings) error

	InsertMember(ctx context.Context, groupKey, email string, role MemberRole) error
	UpdateMemberRole(ctx context.Context, groupKey, memberKey string, role MemberRole) error
	DeleteMember(ctx context.Context, groupKey, memberKey string) error
}

// NormaliseEmail lower-cases and trims an address for comparison.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
