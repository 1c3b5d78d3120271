package mailgroups

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/database"
	"github.com/districtscouts/roster/internal/models"
	"github.com/districtscouts/roster/internal/unitgraph"
	apperrors "github.com/districtscouts/roster/pkg/errors"
	"github.com/districtscouts/roster/pkg/logger"
	"github.com/districtscouts/roster/pkg/metrics"
)

// Composite keys of the district-wide groups.
const (
	KeyDistrictLead  = "district_lead"
	KeyDistrictChair = "district_chair"
	KeyAllMembers    = "all_members"
)

const teamMembersSuffix = "_team_members"

// CatalogReport lists the composite keys touched by a catalog build.
type CatalogReport struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
	Deleted   []string `json:"deleted"`
}

// Changed reports whether the build wrote anything.
func (r CatalogReport) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Deleted) > 0
}

func (r CatalogReport) String() string {
	return fmt.Sprintf("created=%d updated=%d unchanged=%d deleted=%d",
		len(r.Created), len(r.Updated), len(r.Unchanged), len(r.Deleted))
}

// CatalogBuilder maintains the SystemMailingGroup rows derived from the unit graph.
type CatalogBuilder struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewCatalogBuilder constructs a CatalogBuilder.
func NewCatalogBuilder(db *gorm.DB) (*CatalogBuilder, error) {
	if db == nil {
		return nil, errors.New("catalog builder: db is required")
	}
	return &CatalogBuilder{db: db, log: logger.WithModule("mailgroups")}, nil
}

type catalogLookups struct {
	leadVolunteer string
	chair         string
	teamLeader    string

	leadership   string
	trusteeBoard string
	sectionTeam  string
}

type catalog struct {
	graph       *unitgraph.Graph
	lookups     catalogLookups
	preferences map[string]models.MailingPreference

	groups  []models.SystemMailingGroup
	deletes []string
}

// Build upserts every catalog entry by composite key inside one transaction. A failure leaves
// the catalog as it was before the run.
func (b *CatalogBuilder) Build(ctx context.Context) (CatalogReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var report CatalogReport
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		report = CatalogReport{}

		c, err := b.prepare(ctx, tx)
		if err != nil {
			return err
		}
		if err := c.enumerate(ctx); err != nil {
			return err
		}

		for i := range c.groups {
			action, err := upsertGroup(tx, &c.groups[i])
			if err != nil {
				return fmt.Errorf("upsert %s: %w", c.groups[i].CompositeKey, err)
			}
			key := c.groups[i].CompositeKey
			switch action {
			case actionCreated:
				report.Created = append(report.Created, key)
			case actionUpdated:
				report.Updated = append(report.Updated, key)
			default:
				report.Unchanged = append(report.Unchanged, key)
			}
		}

		for _, key := range c.deletes {
			deleted, err := deleteGroup(tx, key)
			if err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			if deleted {
				b.log.Info("removed redundant mailing group", zap.String("composite_key", key))
				report.Deleted = append(report.Deleted, key)
			}
		}
		return nil
	})
	if err != nil {
		return CatalogReport{}, err
	}

	metrics.MailingGroups.WithLabelValues("created").Add(float64(len(report.Created)))
	metrics.MailingGroups.WithLabelValues("updated").Add(float64(len(report.Updated)))
	metrics.MailingGroups.WithLabelValues("deleted").Add(float64(len(report.Deleted)))
	b.log.Info("mailing group catalog built",
		zap.Int("created", len(report.Created)),
		zap.Int("updated", len(report.Updated)),
		zap.Int("unchanged", len(report.Unchanged)),
		zap.Int("deleted", len(report.Deleted)),
	)
	return report, nil
}

func (b *CatalogBuilder) prepare(ctx context.Context, tx *gorm.DB) (*catalog, error) {
	graph, err := unitgraph.Load(ctx, tx)
	if err != nil {
		return nil, err
	}

	var lookups catalogLookups
	for name, dest := range map[string]*string{
		database.RoleTypeLeadVolunteer: &lookups.leadVolunteer,
		database.RoleTypeChair:         &lookups.chair,
		database.RoleTypeTeamLeader:    &lookups.teamLeader,
	} {
		var roleType models.RoleType
		if err := tx.Where("name = ?", name).Take(&roleType).Error; err != nil {
			return nil, lookupError("role type", name, err)
		}
		*dest = roleType.ID
	}
	for name, dest := range map[string]*string{
		database.TeamTypeLeadership:   &lookups.leadership,
		database.TeamTypeTrusteeBoard: &lookups.trusteeBoard,
		database.TeamTypeSectionTeam:  &lookups.sectionTeam,
	} {
		var teamType models.TeamType
		if err := tx.Where("name = ?", name).Take(&teamType).Error; err != nil {
			return nil, lookupError("team type", name, err)
		}
		*dest = teamType.ID
	}

	var prefs []models.GroupSectionMailingPreference
	if err := tx.Find(&prefs).Error; err != nil {
		return nil, fmt.Errorf("load mailing preferences: %w", err)
	}
	preferences := make(map[string]models.MailingPreference, len(prefs))
	for _, pref := range prefs {
		preferences[preferenceKey(pref.GroupID, pref.SectionType)] = pref.Preference
	}

	return &catalog{graph: graph, lookups: lookups, preferences: preferences}, nil
}

func lookupError(kind, name string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrLookupNotFound.Withf("%s %q not found", kind, name)
	}
	return fmt.Errorf("load %s %q: %w", kind, name, err)
}

func preferenceKey(groupID string, sectionType models.SectionType) string {
	return groupID + "/" + string(sectionType)
}

func (c *catalog) preference(groupID string, sectionType models.SectionType) models.MailingPreference {
	if pref, ok := c.preferences[preferenceKey(groupID, sectionType)]; ok {
		return pref
	}
	return models.MailingPreferenceTeams
}

func (c *catalog) add(group models.SystemMailingGroup) {
	c.groups = append(c.groups, group)
}

func (c *catalog) enumerate(ctx context.Context) error {
	districts := c.graph.Districts()
	if len(districts) != 1 {
		return apperrors.ErrPrecondition.Withf("catalog requires exactly one district, found %d", len(districts))
	}
	district := districts[0]

	c.addDistrict(district)
	c.addDistrictTeams(district)
	c.addAllLists()
	if err := c.addDistrictSections(district); err != nil {
		return err
	}
	for _, group := range c.graph.GroupsOf(district.ID) {
		c.addGroup(group)
	}
	return c.check(ctx)
}

// check rejects duplicate local parts and broken fallback chains before anything is written.
func (c *catalog) check(ctx context.Context) error {
	owners := make(map[string]string, len(c.groups))
	for _, group := range c.groups {
		if other, ok := owners[group.Name]; ok {
			return apperrors.ErrPrecondition.Withf("mailing groups %s and %s share the address %q", other, group.CompositeKey, group.Name)
		}
		owners[group.Name] = group.CompositeKey
	}

	lookup := NewMapLookup(c.groups)
	for i := range c.groups {
		if err := CheckChain(ctx, lookup, &c.groups[i]); err != nil {
			return fmt.Errorf("%s: %w", c.groups[i].CompositeKey, err)
		}
	}
	return nil
}

func (c *catalog) addDistrict(district models.District) {
	ref := models.DistrictRef{ID: district.ID}

	c.add(newGroup(KeyDistrictLead, "lead-volunteer", district.Name+" Lead Volunteer", models.MailGroupConfig{
		RoleTypeID: models.StringPtr(c.lookups.leadVolunteer),
		TeamTypeID: models.StringPtr(c.lookups.leadership),
		Units:      []models.UnitRef{ref},
	}, func(g *models.SystemMailingGroup) {
		g.CanReceiveExternalEmail = true
	}))

	c.add(newGroup(KeyDistrictChair, "chair", district.Name+" Chair", models.MailGroupConfig{
		RoleTypeID: models.StringPtr(c.lookups.chair),
		TeamTypeID: models.StringPtr(c.lookups.trusteeBoard),
		Units:      []models.UnitRef{ref},
	}, func(g *models.SystemMailingGroup) {
		g.CanReceiveExternalEmail = true
		g.FallbackGroupCompositeKey = KeyDistrictLead
	}))

	c.add(newGroup(KeyAllMembers, "all-members", district.Name+" All Members", models.MailGroupConfig{
		IsAllMembersList: true,
	}, nil))
}

func (c *catalog) excludedFromTeamLists(teamTypeID string) bool {
	return teamTypeID == c.lookups.leadership || teamTypeID == c.lookups.trusteeBoard
}

func (c *catalog) addDistrictTeams(district models.District) {
	ref := models.DistrictRef{ID: district.ID}
	for _, teamType := range c.graph.TeamTypesAttachedTo(ref) {
		if c.excludedFromTeamLists(teamType.ID) {
			continue
		}
		key := "district_team_" + teamType.ID
		c.add(newGroup(key, teamType.Slug(), district.Name+" "+teamType.DisplayName(), models.MailGroupConfig{
			TeamTypeID:      models.StringPtr(teamType.ID),
			IncludeSubTeams: true,
			Units:           []models.UnitRef{ref},
		}, func(g *models.SystemMailingGroup) {
			g.CanReceiveExternalEmail = true
			g.CanMembersSendAs = teamType.MembersCanSendAs
			g.FallbackGroupCompositeKey = KeyDistrictLead
		}))

		if teamType.HasTeamLead {
			c.add(newGroup(key+"__lead", teamType.Slug()+"-lead", district.Name+" "+teamType.DisplayName()+" Lead", models.MailGroupConfig{
				RoleTypeID: models.StringPtr(c.lookups.teamLeader),
				TeamTypeID: models.StringPtr(teamType.ID),
				Units:      []models.UnitRef{ref},
			}, func(g *models.SystemMailingGroup) {
				g.CanReceiveExternalEmail = true
				g.FallbackGroupCompositeKey = key
			}))
		}
	}
}

func (c *catalog) addAllLists() {
	for _, teamType := range c.graph.TeamTypes() {
		if !teamType.HasAllList {
			continue
		}
		key := "all_" + teamType.ID
		c.add(newGroup(key, "all-"+teamType.Slug(), "All "+teamType.DisplayName(), models.MailGroupConfig{
			TeamTypeID:      models.StringPtr(teamType.ID),
			IncludeSubTeams: true,
		}, func(g *models.SystemMailingGroup) {
			g.CanMembersSendAs = teamType.MembersCanSendAs
		}))

		if teamType.HasTeamLead {
			c.add(newGroup(key+"__lead", "all-"+teamType.Slug()+"-leads", "All "+teamType.DisplayName()+" Leads", models.MailGroupConfig{
				RoleTypeID: models.StringPtr(c.lookups.teamLeader),
				TeamTypeID: models.StringPtr(teamType.ID),
			}, nil))
		}
	}
}

func (c *catalog) addDistrictSections(district models.District) error {
	for _, section := range c.graph.DistrictSections() {
		slug := strings.TrimSpace(section.MailingSlug)
		if slug == "" {
			return apperrors.ErrPrecondition.Withf("%s section %q (%s) has no mailing slug", section.SectionType.Label(), section.Name, section.TSAID)
		}
		c.add(newGroup("district_section_"+section.TSAID, slug, district.Name+" "+section.Name, models.MailGroupConfig{
			IncludeSubTeams: true,
			Units:           []models.UnitRef{models.SectionRef{ID: section.ID}},
		}, func(g *models.SystemMailingGroup) {
			g.CanReceiveExternalEmail = true
			g.CanMembersSendAs = true
			g.FallbackGroupCompositeKey = KeyDistrictLead
		}))
	}
	return nil
}

func groupSlug(group models.Group) string {
	if slug := strings.TrimSpace(group.MailingSlug); slug != "" {
		return slug
	}
	return models.Slugify(group.Name)
}

// Sections of one type whose names slugify alike share this; callers append the TSA id.
func sectionLocalPart(groupSlug string, section models.Section) string {
	return groupSlug + "-" + section.SectionType.Slug() + "-" + sectionSlug(section)
}

func sectionSlug(section models.Section) string {
	if slug := strings.TrimSpace(section.MailingSlug); slug != "" {
		return slug
	}
	return models.Slugify(section.Name)
}

func (c *catalog) addGroup(group models.Group) {
	prefix := "group_" + group.TSAID
	slug := groupSlug(group)
	ref := models.GroupRef{ID: group.ID}
	sections := c.graph.SectionsOf(group.ID)

	leadKey := prefix + "_lead"
	c.add(newGroup(leadKey, slug+"-lead", group.Name+" Lead Volunteer", models.MailGroupConfig{
		RoleTypeID: models.StringPtr(c.lookups.leadVolunteer),
		TeamTypeID: models.StringPtr(c.lookups.leadership),
		Units:      []models.UnitRef{ref},
	}, func(g *models.SystemMailingGroup) {
		g.CanReceiveExternalEmail = true
		g.FallbackGroupCompositeKey = KeyDistrictLead
	}))

	c.add(newGroup(prefix+"_chair", slug+"-chair", group.Name+" Chair", models.MailGroupConfig{
		RoleTypeID: models.StringPtr(c.lookups.chair),
		TeamTypeID: models.StringPtr(c.lookups.trusteeBoard),
		Units:      []models.UnitRef{ref},
	}, func(g *models.SystemMailingGroup) {
		g.CanReceiveExternalEmail = true
		g.FallbackGroupCompositeKey = leadKey
	}))

	allUnits := []models.UnitRef{ref}
	for _, section := range sections {
		allUnits = append(allUnits, models.SectionRef{ID: section.ID})
	}
	c.add(newGroup(prefix+"_all", slug+"-all", group.Name+" All Members", models.MailGroupConfig{
		IncludeSubTeams:  true,
		IsAllMembersList: true,
		Units:            allUnits,
	}, nil))

	for _, teamType := range c.graph.TeamTypesAttachedTo(ref) {
		if c.excludedFromTeamLists(teamType.ID) {
			continue
		}
		key := prefix + "_team_" + teamType.ID
		c.add(newGroup(key, slug+"-"+teamType.Slug(), group.Name+" "+teamType.DisplayName(), models.MailGroupConfig{
			TeamTypeID:      models.StringPtr(teamType.ID),
			IncludeSubTeams: true,
			Units:           []models.UnitRef{ref},
		}, func(g *models.SystemMailingGroup) {
			g.CanReceiveExternalEmail = true
			g.CanMembersSendAs = teamType.MembersCanSendAs
			g.FallbackGroupCompositeKey = leadKey
		}))

		if teamType.HasTeamLead {
			c.add(newGroup(key+"__lead", slug+"-"+teamType.Slug()+"-lead", group.Name+" "+teamType.DisplayName()+" Lead", models.MailGroupConfig{
				RoleTypeID: models.StringPtr(c.lookups.teamLeader),
				TeamTypeID: models.StringPtr(teamType.ID),
				Units:      []models.UnitRef{ref},
			}, func(g *models.SystemMailingGroup) {
				g.CanReceiveExternalEmail = true
				g.FallbackGroupCompositeKey = key
			}))
		}
	}

	for _, sectionType := range models.GroupSectionTypes {
		var units []models.UnitRef
		for _, section := range sections {
			if section.SectionType == sectionType {
				units = append(units, models.SectionRef{ID: section.ID})
			}
		}
		if len(units) == 0 {
			continue
		}
		c.addSectionType(group, sectionType, units, leadKey)
	}

	locals := make(map[string]int, len(sections))
	for _, section := range sections {
		locals[sectionLocalPart(slug, section)]++
	}
	for _, section := range sections {
		local := sectionLocalPart(slug, section)
		if locals[local] > 1 {
			local += "-" + models.Slugify(section.TSAID)
		}
		c.add(newGroup("group_section_"+section.TSAID,
			local,
			group.Name+" "+section.Name,
			models.MailGroupConfig{
				IncludeSubTeams: true,
				Units:           []models.UnitRef{models.SectionRef{ID: section.ID}},
			}, func(g *models.SystemMailingGroup) {
				g.CanReceiveExternalEmail = true
				g.CanMembersSendAs = true
				g.FallbackGroupCompositeKey = prefix + "_" + string(section.SectionType)
			}))
	}
}

func (c *catalog) addSectionType(group models.Group, sectionType models.SectionType, units []models.UnitRef, leadKey string) {
	key := "group_" + group.TSAID + "_" + string(sectionType)
	teamMembersKey := key + teamMembersSuffix
	localPart := groupSlug(group) + "-" + sectionType.Slug()
	displayName := group.Name + " " + sectionType.Label()

	switch c.preference(group.ID, sectionType) {
	case models.MailingPreferenceLeaders:
		c.add(newGroup(key, localPart, displayName+" Leaders", models.MailGroupConfig{
			RoleTypeID:      models.StringPtr(c.lookups.teamLeader),
			IncludeSubTeams: true,
			Units:           units,
		}, func(g *models.SystemMailingGroup) {
			g.CanReceiveExternalEmail = true
			g.CanMembersSendAs = true
			g.FallbackGroupCompositeKey = leadKey
		}))
		c.add(newGroup(teamMembersKey, localPart+"-team", displayName+" Team", models.MailGroupConfig{
			IncludeSubTeams: true,
			Units:           units,
		}, func(g *models.SystemMailingGroup) {
			g.CanMembersSendAs = true
			g.FallbackGroupCompositeKey = key
			g.AlwaysIncludeFallbackGroup = true
		}))
	default:
		c.add(newGroup(key, localPart, displayName, models.MailGroupConfig{
			IncludeSubTeams: true,
			Units:           units,
		}, func(g *models.SystemMailingGroup) {
			g.CanReceiveExternalEmail = true
			g.CanMembersSendAs = true
			g.FallbackGroupCompositeKey = leadKey
		}))
		c.deletes = append(c.deletes, teamMembersKey)
	}
}

func newGroup(compositeKey, name, displayName string, cfg models.MailGroupConfig, configure func(*models.SystemMailingGroup)) models.SystemMailingGroup {
	group := models.SystemMailingGroup{
		Name:         strings.ToLower(name),
		DisplayName:  displayName,
		CompositeKey: compositeKey,
		Config:       datatypes.NewJSONType(cfg),
	}
	if configure != nil {
		configure(&group)
	}
	return group
}

type upsertAction int

const (
	actionUnchanged upsertAction = iota
	actionCreated
	actionUpdated
)

func upsertGroup(tx *gorm.DB, desired *models.SystemMailingGroup) (upsertAction, error) {
	var existing models.SystemMailingGroup
	err := tx.Where("composite_key = ?", desired.CompositeKey).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := tx.Omit("Members").Create(desired).Error; err != nil {
			return actionUnchanged, err
		}
		return actionCreated, nil
	}
	if err != nil {
		return actionUnchanged, err
	}

	if sameDefinition(existing, *desired) {
		desired.BaseModel = existing.BaseModel
		return actionUnchanged, nil
	}

	existing.Name = desired.Name
	existing.DisplayName = desired.DisplayName
	existing.Config = desired.Config
	existing.CanReceiveExternalEmail = desired.CanReceiveExternalEmail
	existing.CanMembersSendAs = desired.CanMembersSendAs
	existing.FallbackGroupCompositeKey = desired.FallbackGroupCompositeKey
	existing.AlwaysIncludeFallbackGroup = desired.AlwaysIncludeFallbackGroup
	if err := tx.Omit("Members").Save(&existing).Error; err != nil {
		return actionUnchanged, err
	}
	desired.BaseModel = existing.BaseModel
	return actionUpdated, nil
}

func sameDefinition(a, b models.SystemMailingGroup) bool {
	return a.Name == b.Name &&
		a.DisplayName == b.DisplayName &&
		a.CanReceiveExternalEmail == b.CanReceiveExternalEmail &&
		a.CanMembersSendAs == b.CanMembersSendAs &&
		a.FallbackGroupCompositeKey == b.FallbackGroupCompositeKey &&
		a.AlwaysIncludeFallbackGroup == b.AlwaysIncludeFallbackGroup &&
		a.MailConfig().Equal(b.MailConfig())
}

func deleteGroup(tx *gorm.DB, compositeKey string) (bool, error) {
	var group models.SystemMailingGroup
	err := tx.Where("composite_key = ?", compositeKey).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := tx.Model(&group).Association("Members").Clear(); err != nil {
		return false, err
	}
	if err := tx.Model(&models.WorkspaceGroup{}).
		Where("system_mailing_group_id = ?", group.ID).
		Update("system_mailing_group_id", nil).Error; err != nil {
		return false, err
	}
	if err := tx.Delete(&group).Error; err != nil {
		return false, err
	}
	return true, nil
}
