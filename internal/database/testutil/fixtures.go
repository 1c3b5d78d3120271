package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/models"
)

// Fixtures creates hierarchy rows for tests. The database must have been opened WithSeedData.
type Fixtures struct {
	t  *testing.T
	db *gorm.DB
}

// NewFixtures binds a fixture builder to db.
func NewFixtures(t *testing.T, db *gorm.DB) *Fixtures {
	t.Helper()
	return &Fixtures{t: t, db: db}
}

func (f *Fixtures) create(value any) {
	f.t.Helper()
	require.NoError(f.t, f.db.Create(value).Error)
}

func (f *Fixtures) District(tsaID string) *models.District {
	f.t.Helper()
	d := &models.District{TSAID: tsaID, Name: "District " + tsaID, MailingSlug: "district"}
	f.create(d)
	return d
}

func (f *Fixtures) Group(district *models.District, tsaID string) *models.Group {
	f.t.Helper()
	g := &models.Group{TSAID: tsaID, Name: "Group " + tsaID, MailingSlug: "group-" + tsaID, DistrictID: district.ID}
	f.create(g)
	return g
}

func (f *Fixtures) GroupSection(group *models.Group, tsaID string, sectionType models.SectionType) *models.Section {
	f.t.Helper()
	s := &models.Section{TSAID: tsaID, Name: "Section " + tsaID, SectionType: sectionType, GroupID: &group.ID}
	f.create(s)
	return s
}

func (f *Fixtures) DistrictSection(district *models.District, tsaID string, sectionType models.SectionType, slug string) *models.Section {
	f.t.Helper()
	s := &models.Section{TSAID: tsaID, Name: "Section " + tsaID, SectionType: sectionType, MailingSlug: slug, DistrictID: &district.ID}
	f.create(s)
	return s
}

// TeamType returns the team type called name, creating it when missing.
func (f *Fixtures) TeamType(name string, configure ...func(*models.TeamType)) *models.TeamType {
	f.t.Helper()
	var tt models.TeamType
	err := f.db.Where("name = ?", name).Take(&tt).Error
	if err == nil {
		return &tt
	}
	require.ErrorIs(f.t, err, gorm.ErrRecordNotFound)
	tt = models.TeamType{Name: name}
	for _, fn := range configure {
		fn(&tt)
	}
	f.create(&tt)
	return &tt
}

// RoleType returns the role type called name, creating it when missing.
func (f *Fixtures) RoleType(name string) *models.RoleType {
	f.t.Helper()
	var rt models.RoleType
	require.NoError(f.t, f.db.Where(models.RoleType{Name: name}).FirstOrCreate(&rt).Error)
	return &rt
}

// Team creates a team. parent is one of *models.District, *models.Group, *models.Section or
// *models.Team.
func (f *Fixtures) Team(parent any, teamType *models.TeamType, name string) *models.Team {
	f.t.Helper()
	team := &models.Team{Name: name, TSAID: name, TeamTypeID: teamType.ID}
	switch p := parent.(type) {
	case *models.District:
		team.DistrictID = &p.ID
	case *models.Group:
		team.GroupID = &p.ID
	case *models.Section:
		team.SectionID = &p.ID
	case *models.Team:
		team.ParentTeamID = &p.ID
	default:
		f.t.Fatalf("unsupported team parent %T", parent)
	}
	f.create(team)
	return team
}

func (f *Fixtures) Person(first, last, email string) *models.Person {
	f.t.Helper()
	p := &models.Person{TSAID: email, FirstName: first, LastName: last, Email: email}
	f.create(p)
	return p
}

// Role assigns person to team with the named role type and the Full status.
func (f *Fixtures) Role(person *models.Person, team *models.Team, roleType string) *models.Role {
	f.t.Helper()
	var status models.RoleStatus
	require.NoError(f.t, f.db.Where(models.RoleStatus{Name: "Full"}).FirstOrCreate(&status).Error)
	role := &models.Role{
		PersonID:     person.ID,
		TeamID:       team.ID,
		RoleTypeID:   f.RoleType(roleType).ID,
		RoleStatusID: status.ID,
	}
	f.create(role)
	return role
}
