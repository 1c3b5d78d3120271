package database

import (
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/models"
)

// Names the mailing-group catalog looks up. They are seeded so a fresh database can build a
// catalog before the first TSA import.
const (
	RoleTypeLeadVolunteer = "Lead Volunteer"
	RoleTypeChair         = "Chair"
	RoleTypeTeamLeader    = "Team Leader"
	RoleTypeTeamMember    = "Team Member"

	RoleStatusFull        = "Full"
	RoleStatusProvisional = "Provisional"

	TeamTypeLeadership   = "Leadership"
	TeamTypeTrusteeBoard = "Trustee Board"
	TeamTypeSectionTeam  = "Section Team"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.District{},
		&models.Group{},
		&models.Section{},
		&models.TeamType{},
		&models.Team{},
		&models.Person{},
		&models.RoleType{},
		&models.RoleStatus{},
		&models.Role{},
		&models.AccreditationType{},
		&models.Accreditation{},
		&models.SystemMailingGroup{},
		&models.GroupSectionMailingPreference{},
		&models.WorkspaceAccount{},
		&models.WorkspaceAccountAlias{},
		&models.WorkspaceGroup{},
		&models.WorkspaceGroupAlias{},
		&models.WaitingListEntry{},
		&models.AuditLog{},
		&models.SystemSetting{},
		&models.RunLock{},
	)
}

// SeedData populates the role types, role statuses and team types the catalog depends on.
func SeedData(db *gorm.DB) error {
	for _, name := range []string{RoleTypeLeadVolunteer, RoleTypeChair, RoleTypeTeamLeader, RoleTypeTeamMember} {
		if err := db.Where(models.RoleType{Name: name}).FirstOrCreate(&models.RoleType{}).Error; err != nil {
			return err
		}
	}

	for _, name := range []string{RoleStatusFull, RoleStatusProvisional} {
		if err := db.Where(models.RoleStatus{Name: name}).FirstOrCreate(&models.RoleStatus{}).Error; err != nil {
			return err
		}
	}

	teamTypes := []models.TeamType{
		{
			Name:                 TeamTypeLeadership,
			MailingSlug:          "leadership",
			HasTeamLead:          true,
			IncludedInAllMembers: true,
		},
		{
			Name:                 TeamTypeTrusteeBoard,
			Nickname:             "Trustees",
			MailingSlug:          "trustees",
			HasAllList:           true,
			IncludedInAllMembers: true,
		},
		{
			Name:                 TeamTypeSectionTeam,
			MailingSlug:          "section-team",
			HasTeamLead:          true,
			IncludedInAllMembers: true,
		},
	}
	for _, teamType := range teamTypes {
		if err := db.Where(models.TeamType{Name: teamType.Name}).Attrs(teamType).FirstOrCreate(&models.TeamType{}).Error; err != nil {
			return err
		}
	}

	return nil
}
