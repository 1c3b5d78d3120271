// Package unitgraph holds an in-memory, read-only view of the organisational hierarchy and the
// teams and roles hanging off it.
package unitgraph

import (
	"fmt"
	"sort"

	"github.com/districtscouts/roster/internal/models"
	apperrors "github.com/districtscouts/roster/pkg/errors"
)

// TeamParent is the single owner of a team. Implementations are DistrictParent, GroupParent,
// SectionParent and ParentTeamParent.
type TeamParent interface {
	isTeamParent()
}

// DistrictParent attaches a team directly to a district.
type DistrictParent struct{ DistrictID string }

// GroupParent attaches a team directly to a group.
type GroupParent struct{ GroupID string }

// SectionParent attaches a team directly to a section.
type SectionParent struct{ SectionID string }

// ParentTeamParent nests a team under another team.
type ParentTeamParent struct{ TeamID string }

func (DistrictParent) isTeamParent()   {}
func (GroupParent) isTeamParent()      {}
func (SectionParent) isTeamParent()    {}
func (ParentTeamParent) isTeamParent() {}

// Team is the graph's view of a team.
type Team struct {
	ID         string
	TSAID      string
	Name       string
	TeamTypeID string
	Parent     TeamParent
}

// Role is the graph's view of a role assignment.
type Role struct {
	ID           string
	PersonID     string
	TeamID       string
	RoleTypeID   string
	RoleStatusID string
}

// Snapshot is the raw material for a Graph.
type Snapshot struct {
	Districts []models.District
	Groups    []models.Group
	Sections  []models.Section
	TeamTypes []models.TeamType
	Teams     []Team
	Roles     []Role
}

// Graph indexes a Snapshot. It is safe for concurrent reads.
type Graph struct {
	districts []models.District
	groups    []models.Group
	sections  []models.Section
	teamTypes []models.TeamType
	teams     []Team
	roles     []Role

	districtByID map[string]models.District
	groupByID    map[string]models.Group
	sectionByID  map[string]models.Section
	teamTypeByID map[string]models.TeamType
	teamByID     map[string]Team
}

// TeamFromModel converts the nullable parent columns of a stored team into a TeamParent.
func TeamFromModel(team models.Team) (Team, error) {
	var parents []TeamParent
	if id := deref(team.DistrictID); id != "" {
		parents = append(parents, DistrictParent{DistrictID: id})
	}
	if id := deref(team.GroupID); id != "" {
		parents = append(parents, GroupParent{GroupID: id})
	}
	if id := deref(team.SectionID); id != "" {
		parents = append(parents, SectionParent{SectionID: id})
	}
	if id := deref(team.ParentTeamID); id != "" {
		parents = append(parents, ParentTeamParent{TeamID: id})
	}
	if len(parents) != 1 {
		return Team{}, apperrors.ErrPrecondition.Withf("team %s has %d parents", team.ID, len(parents))
	}

	return Team{
		ID:         team.ID,
		TSAID:      team.TSAID,
		Name:       team.Name,
		TeamTypeID: team.TeamTypeID,
		Parent:     parents[0],
	}, nil
}

// NewGraph indexes snapshot. Teams must each carry a parent.
func NewGraph(snapshot Snapshot) (*Graph, error) {
	g := &Graph{
		districts:    append([]models.District(nil), snapshot.Districts...),
		groups:       append([]models.Group(nil), snapshot.Groups...),
		sections:     append([]models.Section(nil), snapshot.Sections...),
		teamTypes:    append([]models.TeamType(nil), snapshot.TeamTypes...),
		teams:        append([]Team(nil), snapshot.Teams...),
		roles:        append([]Role(nil), snapshot.Roles...),
		districtByID: make(map[string]models.District, len(snapshot.Districts)),
		groupByID:    make(map[string]models.Group, len(snapshot.Groups)),
		sectionByID:  make(map[string]models.Section, len(snapshot.Sections)),
		teamTypeByID: make(map[string]models.TeamType, len(snapshot.TeamTypes)),
		teamByID:     make(map[string]Team, len(snapshot.Teams)),
	}

	for _, d := range g.districts {
		g.districtByID[d.ID] = d
	}
	for _, grp := range g.groups {
		g.groupByID[grp.ID] = grp
	}
	for _, s := range g.sections {
		g.sectionByID[s.ID] = s
	}
	for _, tt := range g.teamTypes {
		g.teamTypeByID[tt.ID] = tt
	}
	for _, team := range g.teams {
		if team.Parent == nil {
			return nil, apperrors.ErrPrecondition.Withf("team %s has no parent", team.ID)
		}
		if _, dup := g.teamByID[team.ID]; dup {
			return nil, apperrors.ErrPrecondition.Withf("team %s listed twice", team.ID)
		}
		g.teamByID[team.ID] = team
	}

	return g, nil
}

// UnitOf walks parent team links up to the owning unit of teamID.
func (g *Graph) UnitOf(teamID string) (models.UnitRef, error) {
	visited := make(map[string]struct{})
	current := teamID
	for {
		if _, seen := visited[current]; seen {
			return nil, apperrors.ErrPrecondition.Withf("team parent cycle through %s", current)
		}
		visited[current] = struct{}{}

		team, ok := g.teamByID[current]
		if !ok {
			return nil, apperrors.ErrLookupNotFound.Withf("team %s not found", current)
		}

		switch parent := team.Parent.(type) {
		case DistrictParent:
			return models.DistrictRef{ID: parent.DistrictID}, nil
		case GroupParent:
			return models.GroupRef{ID: parent.GroupID}, nil
		case SectionParent:
			return models.SectionRef{ID: parent.SectionID}, nil
		case ParentTeamParent:
			current = parent.TeamID
		default:
			return nil, fmt.Errorf("unitgraph: team %s has unsupported parent %T", team.ID, parent)
		}
	}
}

// DirectUnit returns the unit a team is attached to, or nil for a sub-team.
func (t Team) DirectUnit() models.UnitRef {
	switch parent := t.Parent.(type) {
	case DistrictParent:
		return models.DistrictRef{ID: parent.DistrictID}
	case GroupParent:
		return models.GroupRef{ID: parent.GroupID}
	case SectionParent:
		return models.SectionRef{ID: parent.SectionID}
	default:
		return nil
	}
}

// ParentTeam returns the id of the parent team for sub-teams.
func (t Team) ParentTeam() (string, bool) {
	parent, ok := t.Parent.(ParentTeamParent)
	if !ok {
		return "", false
	}
	return parent.TeamID, true
}

func (g *Graph) Teams() []Team                { return g.teams }
func (g *Graph) Roles() []Role                { return g.roles }
func (g *Graph) Districts() []models.District { return g.districts }
func (g *Graph) Groups() []models.Group       { return g.groups }
func (g *Graph) TeamTypes() []models.TeamType { return g.teamTypes }

func (g *Graph) Team(id string) (Team, bool) {
	team, ok := g.teamByID[id]
	return team, ok
}

func (g *Graph) TeamType(id string) (models.TeamType, bool) {
	tt, ok := g.teamTypeByID[id]
	return tt, ok
}

func (g *Graph) District(id string) (models.District, bool) {
	d, ok := g.districtByID[id]
	return d, ok
}

func (g *Graph) Group(id string) (models.Group, bool) {
	grp, ok := g.groupByID[id]
	return grp, ok
}

func (g *Graph) Section(id string) (models.Section, bool) {
	s, ok := g.sectionByID[id]
	return s, ok
}

// GroupsOf returns the groups of a district ordered by TSA id.
func (g *Graph) GroupsOf(districtID string) []models.Group {
	var out []models.Group
	for _, grp := range g.groups {
		if grp.DistrictID == districtID {
			out = append(out, grp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TSAID < out[j].TSAID })
	return out
}

// SectionsOf returns the sections of a group ordered by TSA id.
func (g *Graph) SectionsOf(groupID string) []models.Section {
	var out []models.Section
	for _, s := range g.sections {
		if deref(s.GroupID) == groupID {
			out = append(out, s)
		}
	}
	sortSections(out)
	return out
}

// DistrictSections returns sections owned directly by a district.
func (g *Graph) DistrictSections() []models.Section {
	var out []models.Section
	for _, s := range g.sections {
		if deref(s.DistrictID) != "" {
			out = append(out, s)
		}
	}
	sortSections(out)
	return out
}

// TeamsAttachedTo returns teams whose direct parent is ref. Sub-teams are not included.
func (g *Graph) TeamsAttachedTo(ref models.UnitRef) []Team {
	var out []Team
	for _, team := range g.teams {
		if models.SameUnit(team.DirectUnit(), ref) {
			out = append(out, team)
		}
	}
	return out
}

// TeamTypesAttachedTo returns the distinct team types of teams attached to ref, ordered by name.
func (g *Graph) TeamTypesAttachedTo(ref models.UnitRef) []models.TeamType {
	seen := make(map[string]struct{})
	var out []models.TeamType
	for _, team := range g.TeamsAttachedTo(ref) {
		if _, ok := seen[team.TeamTypeID]; ok {
			continue
		}
		tt, ok := g.teamTypeByID[team.TeamTypeID]
		if !ok {
			continue
		}
		seen[team.TeamTypeID] = struct{}{}
		out = append(out, tt)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortSections(sections []models.Section) {
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].TSAID < sections[j].TSAID })
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
