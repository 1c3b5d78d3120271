package mailgroups

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/database"
	testutil "github.com/districtscouts/roster/internal/database/testutil"
	"github.com/districtscouts/roster/internal/models"
	apperrors "github.com/districtscouts/roster/pkg/errors"
)

type catalogFixture struct {
	db        *gorm.DB
	fx        *testutil.Fixtures
	district  *models.District
	group     *models.Group
	cubs      *models.Section
	beavers   *models.Section
	explorers *models.Section
	events    *models.TeamType
	trustees  *models.TeamType
}

func newCatalogFixture(t *testing.T) *catalogFixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	fx := testutil.NewFixtures(t, db)

	f := &catalogFixture{db: db, fx: fx}
	f.district = fx.District("D1")
	f.group = fx.Group(f.district, "G1")
	f.cubs = fx.GroupSection(f.group, "S1", models.SectionTypeCubs)
	f.beavers = fx.GroupSection(f.group, "S2", models.SectionTypeBeavers)
	f.explorers = fx.DistrictSection(f.district, "S9", models.SectionTypeExplorers, "explorers")

	f.events = fx.TeamType("Events", func(tt *models.TeamType) {
		tt.HasTeamLead = true
		tt.IncludedInAllMembers = true
	})
	f.trustees = fx.TeamType(database.TeamTypeTrusteeBoard)

	fx.Team(f.district, fx.TeamType(database.TeamTypeLeadership), "district-leadership")
	fx.Team(f.district, f.events, "district-events")
	fx.Team(f.cubs, fx.TeamType(database.TeamTypeSectionTeam), "cubs-team")
	return f
}

func (f *catalogFixture) build(t *testing.T) CatalogReport {
	t.Helper()
	builder, err := NewCatalogBuilder(f.db)
	require.NoError(t, err)
	report, err := builder.Build(context.Background())
	require.NoError(t, err)
	return report
}

func (f *catalogFixture) setPreference(t *testing.T, sectionType models.SectionType, pref models.MailingPreference) {
	t.Helper()
	row := models.GroupSectionMailingPreference{GroupID: f.group.ID, SectionType: sectionType}
	require.NoError(t, f.db.Where(row).Assign(models.GroupSectionMailingPreference{Preference: pref}).FirstOrCreate(&row).Error)
}

func storedGroups(t *testing.T, db *gorm.DB) map[string]models.SystemMailingGroup {
	t.Helper()
	var groups []models.SystemMailingGroup
	require.NoError(t, db.Find(&groups).Error)
	out := make(map[string]models.SystemMailingGroup, len(groups))
	for _, g := range groups {
		out[g.CompositeKey] = g
	}
	return out
}

func sortedKeys(groups map[string]models.SystemMailingGroup) []string {
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func TestCatalogBuildEnumeratesScopes(t *testing.T) {
	f := newCatalogFixture(t)
	report := f.build(t)

	expected := []string{
		"all_" + f.trustees.ID,
		KeyAllMembers,
		KeyDistrictChair,
		KeyDistrictLead,
		"district_section_S9",
		"district_team_" + f.events.ID,
		"district_team_" + f.events.ID + "__lead",
		"group_G1_all",
		"group_G1_beavers",
		"group_G1_chair",
		"group_G1_cubs",
		"group_G1_lead",
		"group_section_S1",
		"group_section_S2",
	}
	sort.Strings(expected)

	groups := storedGroups(t, f.db)
	require.Equal(t, expected, sortedKeys(groups))
	require.Len(t, report.Created, len(expected))
	require.Empty(t, report.Deleted)

	chair := groups[KeyDistrictChair]
	require.Equal(t, KeyDistrictLead, chair.FallbackGroupCompositeKey)
	require.Equal(t, "chair", chair.Name)

	explorers := groups["district_section_S9"]
	require.Equal(t, "explorers", explorers.Name)
	require.Equal(t, []models.UnitRef{models.SectionRef{ID: f.explorers.ID}}, explorers.MailConfig().Units)

	all := groups["group_G1_all"].MailConfig()
	require.True(t, all.IsAllMembersList)
	require.Len(t, all.Units, 3)

	section := groups["group_section_S1"]
	require.Equal(t, "group_G1_cubs", section.FallbackGroupCompositeKey)
}

func TestCatalogBuildIsIdempotent(t *testing.T) {
	f := newCatalogFixture(t)
	f.setPreference(t, models.SectionTypeCubs, models.MailingPreferenceLeaders)

	f.build(t)
	before := storedGroups(t, f.db)

	report := f.build(t)
	require.False(t, report.Changed())
	require.Len(t, report.Unchanged, len(before))

	after := storedGroups(t, f.db)
	require.Equal(t, sortedKeys(before), sortedKeys(after))
	for key, group := range before {
		require.Equal(t, group.ID, after[key].ID, key)
		require.True(t, group.MailConfig().Equal(after[key].MailConfig()), key)
		require.Equal(t, group.UpdatedAt, after[key].UpdatedAt, key)
	}
}

func TestCatalogPreferenceSwitchPrunesTeamMembersGroup(t *testing.T) {
	f := newCatalogFixture(t)
	f.setPreference(t, models.SectionTypeCubs, models.MailingPreferenceLeaders)

	f.build(t)
	groups := storedGroups(t, f.db)
	require.Contains(t, groups, "group_G1_cubs_team_members")

	leaders := groups["group_G1_cubs"]
	require.NotNil(t, leaders.MailConfig().RoleTypeID)
	teamMembers := groups["group_G1_cubs_team_members"]
	require.Equal(t, "group_G1_cubs", teamMembers.FallbackGroupCompositeKey)
	require.True(t, teamMembers.AlwaysIncludeFallbackGroup)
	require.Equal(t, "group-g1-cubs-team", teamMembers.Name)

	f.setPreference(t, models.SectionTypeCubs, models.MailingPreferenceTeams)
	report := f.build(t)

	require.Equal(t, []string{"group_G1_cubs_team_members"}, report.Deleted)
	require.Equal(t, []string{"group_G1_cubs"}, report.Updated)

	groups = storedGroups(t, f.db)
	require.NotContains(t, groups, "group_G1_cubs_team_members")
	require.Nil(t, groups["group_G1_cubs"].MailConfig().RoleTypeID)
}

func TestCatalogMissingDistrictSectionSlugFails(t *testing.T) {
	f := newCatalogFixture(t)
	f.fx.DistrictSection(f.district, "S10", models.SectionTypeNetwork, "")

	builder, err := NewCatalogBuilder(f.db)
	require.NoError(t, err)
	_, err = builder.Build(context.Background())
	require.ErrorIs(t, err, apperrors.ErrPrecondition)
	require.Contains(t, err.Error(), "S10")

	require.Empty(t, storedGroups(t, f.db))
}

func TestCatalogMissingRoleTypeRollsBack(t *testing.T) {
	f := newCatalogFixture(t)
	f.build(t)
	before := storedGroups(t, f.db)

	// A new group would add rows if the build got that far.
	f.fx.Group(f.district, "G2")
	require.NoError(t, f.db.Where("name = ?", database.RoleTypeChair).Delete(&models.RoleType{}).Error)

	builder, err := NewCatalogBuilder(f.db)
	require.NoError(t, err)
	_, err = builder.Build(context.Background())
	require.ErrorIs(t, err, apperrors.ErrLookupNotFound)

	require.Equal(t, sortedKeys(before), sortedKeys(storedGroups(t, f.db)))
}

func TestCatalogRequiresSingleDistrict(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	builder, err := NewCatalogBuilder(db)
	require.NoError(t, err)
	_, err = builder.Build(context.Background())
	require.ErrorIs(t, err, apperrors.ErrPrecondition)
}

func TestCatalogSectionsWithSameNameGetDistinctAddresses(t *testing.T) {
	f := newCatalogFixture(t)
	twin := f.fx.GroupSection(f.group, "S3", models.SectionTypeCubs)
	require.NoError(t, f.db.Model(twin).Update("name", f.cubs.Name).Error)

	f.build(t)
	groups := storedGroups(t, f.db)
	require.Equal(t, "group-g1-cubs-section-s1-s1", groups["group_section_S1"].Name)
	require.Equal(t, "group-g1-cubs-section-s1-s3", groups["group_section_S3"].Name)
	require.Equal(t, "group-g1-beavers-section-s2", groups["group_section_S2"].Name)

	names := make(map[string]string, len(groups))
	for key, group := range groups {
		other, dup := names[group.Name]
		require.False(t, dup, "%s and %s share %s", key, other, group.Name)
		names[group.Name] = key
	}
}

func TestCatalogAddressCollisionFailsBeforeWriting(t *testing.T) {
	f := newCatalogFixture(t)
	clash := f.fx.Group(f.district, "G2")
	require.NoError(t, f.db.Model(clash).Update("mailing_slug", f.group.MailingSlug).Error)

	builder, err := NewCatalogBuilder(f.db)
	require.NoError(t, err)
	_, err = builder.Build(context.Background())
	require.ErrorIs(t, err, apperrors.ErrPrecondition)
	require.Contains(t, err.Error(), "share the address")

	require.Empty(t, storedGroups(t, f.db))
}
