package mailgroups

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	testutil "github.com/districtscouts/roster/internal/database/testutil"
	"github.com/districtscouts/roster/internal/models"
	apperrors "github.com/districtscouts/roster/pkg/errors"
)

func mailingGroup(key string, cfg models.MailGroupConfig, fallback string, always bool) models.SystemMailingGroup {
	return models.SystemMailingGroup{
		Name:                       key,
		DisplayName:                key,
		CompositeKey:               key,
		Config:                     datatypes.NewJSONType(cfg),
		FallbackGroupCompositeKey:  fallback,
		AlwaysIncludeFallbackGroup: always,
	}
}

var (
	nobody      = models.MailGroupConfig{Units: []models.UnitRef{models.GroupRef{ID: "nowhere"}}}
	cubLeaders  = models.MailGroupConfig{RoleTypeID: models.StringPtr("team-leader"), Units: []models.UnitRef{models.SectionRef{ID: "S-cubs"}}}
	groupLead   = models.MailGroupConfig{RoleTypeID: models.StringPtr("lead-volunteer"), Units: []models.UnitRef{models.GroupRef{ID: "G"}}}
	districtLVs = models.MailGroupConfig{RoleTypeID: models.StringPtr("lead-volunteer"), Units: []models.UnitRef{models.DistrictRef{ID: "D"}}}
)

func resolveWithFallback(t *testing.T, key string, groups ...models.SystemMailingGroup) (PersonSet, error) {
	t.Helper()
	lookup := NewMapLookup(groups)
	group, err := lookup.LookupGroup(context.Background(), key)
	require.NoError(t, err)
	return NewFallbackResolver(fixtureGraph(t), lookup).Resolve(context.Background(), group)
}

func TestFallbackWithoutKeyReturnsPrimary(t *testing.T) {
	set, err := resolveWithFallback(t, "cubs", mailingGroup("cubs", cubLeaders, "", false))
	require.NoError(t, err)
	require.Equal(t, []string{"akela"}, set.Sorted())
}

func TestFallbackUsedWhenPrimaryEmpty(t *testing.T) {
	set, err := resolveWithFallback(t, "beavers",
		mailingGroup("beavers", nobody, "group_lead", false),
		mailingGroup("group_lead", groupLead, "district_lead", false),
		mailingGroup("district_lead", districtLVs, "", false),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"glv"}, set.Sorted())
}

func TestFallbackChainsEscalate(t *testing.T) {
	set, err := resolveWithFallback(t, "beavers",
		mailingGroup("beavers", nobody, "group_lead", false),
		mailingGroup("group_lead", nobody, "district_lead", false),
		mailingGroup("district_lead", districtLVs, "", false),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"dlv"}, set.Sorted())
}

func TestFallbackIgnoredWhenPrimaryPopulated(t *testing.T) {
	set, err := resolveWithFallback(t, "cubs",
		mailingGroup("cubs", cubLeaders, "group_lead", false),
		mailingGroup("group_lead", groupLead, "", false),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"akela"}, set.Sorted())
}

func TestFallbackAlwaysIncludedIsUnion(t *testing.T) {
	set, err := resolveWithFallback(t, "cubs_team_members",
		mailingGroup("cubs_team_members", cubLeaders, "group_lead", true),
		mailingGroup("group_lead", groupLead, "", false),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"akela", "glv"}, set.Sorted())
}

func TestFallbackCycleFailsFast(t *testing.T) {
	_, err := resolveWithFallback(t, "a",
		mailingGroup("a", nobody, "b", false),
		mailingGroup("b", nobody, "c", true),
		mailingGroup("c", nobody, "a", false),
	)
	require.ErrorIs(t, err, apperrors.ErrFallbackCycle)
	require.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestFallbackSelfReferenceIsCycle(t *testing.T) {
	_, err := resolveWithFallback(t, "a", mailingGroup("a", nobody, "a", false))
	require.ErrorIs(t, err, apperrors.ErrFallbackCycle)
}

func TestFallbackCycleDetectedWithPopulatedPrimary(t *testing.T) {
	set, err := resolveWithFallback(t, "a",
		mailingGroup("a", cubLeaders, "b", false),
		mailingGroup("b", nobody, "a", false),
	)
	require.ErrorIs(t, err, apperrors.ErrFallbackCycle)
	require.Nil(t, set)
}

func TestFallbackUnknownKeyWithPopulatedPrimary(t *testing.T) {
	_, err := resolveWithFallback(t, "cubs", mailingGroup("cubs", cubLeaders, "missing", false))
	require.ErrorIs(t, err, apperrors.ErrLookupNotFound)
}

func TestCheckChain(t *testing.T) {
	lookup := NewMapLookup([]models.SystemMailingGroup{
		mailingGroup("cubs", cubLeaders, "group_lead", false),
		mailingGroup("group_lead", groupLead, "district_lead", false),
		mailingGroup("district_lead", districtLVs, "", false),
		mailingGroup("loop", nobody, "loop", false),
	})
	ctx := context.Background()

	group, err := lookup.LookupGroup(ctx, "cubs")
	require.NoError(t, err)
	require.NoError(t, CheckChain(ctx, lookup, group))

	loop, err := lookup.LookupGroup(ctx, "loop")
	require.NoError(t, err)
	require.ErrorIs(t, CheckChain(ctx, lookup, loop), apperrors.ErrFallbackCycle)
}

func TestFallbackUnknownKey(t *testing.T) {
	_, err := resolveWithFallback(t, "a", mailingGroup("a", nobody, "missing", false))
	require.ErrorIs(t, err, apperrors.ErrLookupNotFound)
}

func TestDBLookup(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	group := mailingGroup("district_lead", districtLVs, "", false)
	require.NoError(t, db.Create(&group).Error)

	lookup := NewDBLookup(db)
	found, err := lookup.LookupGroup(context.Background(), "district_lead")
	require.NoError(t, err)
	require.Equal(t, group.ID, found.ID)
	require.True(t, districtLVs.Equal(found.MailConfig()))

	_, err = lookup.LookupGroup(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrLookupNotFound)
}
