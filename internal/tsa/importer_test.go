package tsa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	testutil "github.com/districtscouts/roster/internal/database/testutil"
	"github.com/districtscouts/roster/internal/models"
	apperrors "github.com/districtscouts/roster/pkg/errors"
	"github.com/districtscouts/roster/pkg/logger"
	"github.com/districtscouts/roster/pkg/validator"
)

type staticSource struct {
	snapshot Snapshot
}

func (s *staticSource) Fetch(context.Context) (Snapshot, error) {
	return s.snapshot, nil
}

func baseSnapshot() Snapshot {
	return Snapshot{
		District: DistrictPayload{ID: "D1", Name: "Riverside"},
		Groups:   []GroupPayload{{ID: "G1", Name: "1st Town"}},
		Sections: []SectionPayload{
			{ID: "S1", Name: "Wolf Cubs", SectionType: "cubs", GroupID: "G1"},
			{ID: "S9", Name: "Explorers", SectionType: "explorers"},
		},
		TeamTypes: []TeamTypePayload{
			{ID: "TT1", Name: "Leadership"},
			{ID: "TT2", Name: "Section Team"},
			{ID: "TT3", Name: "Events", Nickname: "Camps"},
		},
		Teams: []TeamPayload{
			{ID: "T-sub", Name: "Camp Crew", TeamTypeID: "TT3", Parent: ParentPayload{Type: ParentTeam, ID: "T-events"}},
			{ID: "T-lead", Name: "District Leadership", TeamTypeID: "TT1", Parent: ParentPayload{Type: ParentDistrict, ID: "D1"}},
			{ID: "T-events", Name: "Events", TeamTypeID: "TT3", Parent: ParentPayload{Type: ParentDistrict, ID: "D1"}},
			{ID: "T-cubs", Name: "Cubs Team", TeamTypeID: "TT2", Parent: ParentPayload{Type: ParentSection, ID: "S1"}},
		},
		People: []PersonPayload{
			{ID: "P1", FirstName: "Akela", LastName: "Wolf", Email: "akela@mail.test"},
			{ID: "P2", FirstName: "Baloo", LastName: "Bear"},
		},
		Roles: []RolePayload{
			{ID: "R1", PersonID: "P1", TeamID: "T-lead", RoleType: "Lead Volunteer", Status: "Full"},
			{ID: "R2", PersonID: "P2", TeamID: "T-sub", RoleType: "Team Member", Status: "Provisional"},
		},
		Accreditations: []AccreditationPayload{
			{ID: "A1", PersonID: "P2", TeamID: "T-sub", Type: "First Aid", Status: "valid"},
		},
	}
}

func importSnapshot(t *testing.T, db *gorm.DB, snapshot Snapshot) (ImportReport, error) {
	t.Helper()
	importer, err := NewImporter(db, &staticSource{snapshot: snapshot})
	require.NoError(t, err)
	return importer.Import(context.Background())
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestImportCreatesHierarchy(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	report, err := importSnapshot(t, db, baseSnapshot())
	require.NoError(t, err)
	require.Equal(t, 4, report.Teams)
	require.Equal(t, 2, report.Roles)
	require.Empty(t, report.PrunedTeams)

	var district models.District
	require.NoError(t, db.Where("tsa_id = ?", "D1").Take(&district).Error)

	var explorers models.Section
	require.NoError(t, db.Where("tsa_id = ?", "S9").Take(&explorers).Error)
	require.NotNil(t, explorers.DistrictID)
	require.Equal(t, district.ID, *explorers.DistrictID)
	require.Nil(t, explorers.GroupID)

	var events, sub models.Team
	require.NoError(t, db.Where("tsa_id = ?", "T-events").Take(&events).Error)
	require.NoError(t, db.Where("tsa_id = ?", "T-sub").Take(&sub).Error)
	require.NotNil(t, sub.ParentTeamID)
	require.Equal(t, events.ID, *sub.ParentTeamID)

	var teamType models.TeamType
	require.NoError(t, db.Where("name = ?", "Events").Take(&teamType).Error)
	require.Equal(t, "Camps", teamType.DisplayName())

	var status models.RoleStatus
	require.NoError(t, db.Where("name = ?", "Provisional").Take(&status).Error)
	require.Equal(t, int64(1), count(t, db, &models.Accreditation{}))
}

func TestImportIsIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	_, err := importSnapshot(t, db, baseSnapshot())
	require.NoError(t, err)
	teamTypes := count(t, db, &models.TeamType{})
	roleTypes := count(t, db, &models.RoleType{})

	_, err = importSnapshot(t, db, baseSnapshot())
	require.NoError(t, err)
	require.Equal(t, int64(4), count(t, db, &models.Team{}))
	require.Equal(t, int64(2), count(t, db, &models.Person{}))
	require.Equal(t, int64(2), count(t, db, &models.Role{}))
	require.Equal(t, teamTypes, count(t, db, &models.TeamType{}))
	require.Equal(t, roleTypes, count(t, db, &models.RoleType{}))
}

func TestImportCopiesTeamTypeMailingFlags(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	yes, no := true, false

	snapshot := baseSnapshot()
	snapshot.TeamTypes[2].MailingSlug = "camps"
	snapshot.TeamTypes[2].HasTeamLead = &yes
	snapshot.TeamTypes[2].HasAllList = &yes
	snapshot.TeamTypes[2].IncludedInAllMembers = &yes
	snapshot.TeamTypes[2].MembersCanSendAs = &yes
	_, err := importSnapshot(t, db, snapshot)
	require.NoError(t, err)

	var events models.TeamType
	require.NoError(t, db.Where("name = ?", "Events").Take(&events).Error)
	require.Equal(t, "camps", events.MailingSlug)
	require.True(t, events.HasTeamLead)
	require.True(t, events.HasAllList)
	require.True(t, events.IncludedInAllMembers)
	require.True(t, events.MembersCanSendAs)

	// Omitted flags keep the seeded values.
	var leadership models.TeamType
	require.NoError(t, db.Where("name = ?", "Leadership").Take(&leadership).Error)
	require.True(t, leadership.HasTeamLead)
	require.Equal(t, "leadership", leadership.MailingSlug)

	snapshot.TeamTypes[2].HasAllList = &no
	_, err = importSnapshot(t, db, snapshot)
	require.NoError(t, err)
	require.NoError(t, db.Where("name = ?", "Events").Take(&events).Error)
	require.False(t, events.HasAllList)
	require.True(t, events.HasTeamLead)
}

func TestTeamTypePayloadRejectsBadSlug(t *testing.T) {
	err := validator.ValidateStruct(TeamTypePayload{ID: "TT9", Name: "Events", MailingSlug: "Not a slug"})
	require.Error(t, err)
	require.NoError(t, validator.ValidateStruct(TeamTypePayload{ID: "TT9", Name: "Events", MailingSlug: "events"}))
}

func TestImportPrunesSpuriousRows(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	_, err := importSnapshot(t, db, baseSnapshot())
	require.NoError(t, err)

	core, recorded := observer.New(zapcore.WarnLevel)
	previous := logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(previous) })

	next := baseSnapshot()
	next.Teams = next.Teams[1:2]
	next.Roles = next.Roles[:1]
	next.Accreditations = nil

	report, err := importSnapshot(t, db, next)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"T-sub", "T-events", "T-cubs"}, report.PrunedTeams)
	require.Equal(t, []string{"R2"}, report.PrunedRoles)
	require.Equal(t, []string{"A1"}, report.PrunedAccreditations)

	require.Equal(t, int64(1), count(t, db, &models.Team{}))
	require.Equal(t, int64(1), count(t, db, &models.Role{}))
	require.Zero(t, count(t, db, &models.Accreditation{}))
	require.Equal(t, int64(2), count(t, db, &models.Person{}))

	require.Equal(t, 5, recorded.FilterMessageSnippet("removing spurious").Len())
}

func TestImportRejectsMalformedSnapshots(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"district section under group", func(s *Snapshot) { s.Sections[1].GroupID = "G1" }},
		{"group section without group", func(s *Snapshot) { s.Sections[0].GroupID = "" }},
		{"unknown group", func(s *Snapshot) { s.Sections[0].GroupID = "G404" }},
		{"unknown team type", func(s *Snapshot) { s.Teams[1].TeamTypeID = "TT404" }},
		{"missing parent team", func(s *Snapshot) { s.Teams[0].Parent.ID = "T404" }},
		{"unknown person", func(s *Snapshot) { s.Roles[0].PersonID = "P404" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
			snapshot := baseSnapshot()
			tt.mutate(&snapshot)

			_, err := importSnapshot(t, db, snapshot)
			require.ErrorIs(t, err, apperrors.ErrMalformedPayload)
			require.Zero(t, count(t, db, &models.Team{}))
			require.Zero(t, count(t, db, &models.District{}))
		})
	}
}
