// Package mailgroups derives the membership of system-managed mailing groups from the unit graph
// and maintains the catalog of those groups.
package mailgroups

import (
	"sort"

	"github.com/districtscouts/roster/internal/models"
	"github.com/districtscouts/roster/internal/unitgraph"
)

// PersonSet is a set of person ids.
type PersonSet map[string]struct{}

// NewPersonSet builds a set from ids.
func NewPersonSet(ids ...string) PersonSet {
	set := make(PersonSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

func (s PersonSet) Add(id string) {
	s[id] = struct{}{}
}

func (s PersonSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s PersonSet) Len() int {
	return len(s)
}

// Union returns a new set holding the members of both sets.
func (s PersonSet) Union(other PersonSet) PersonSet {
	out := make(PersonSet, len(s)+len(other))
	for id := range s {
		out.Add(id)
	}
	for id := range other {
		out.Add(id)
	}
	return out
}

// Sorted returns the ids in ascending order.
func (s PersonSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the distinct people holding a role selected by cfg. A config with no filters
// selects every role in the graph.
func Resolve(cfg models.MailGroupConfig, graph *unitgraph.Graph) (PersonSet, error) {
	unitFilters := make([]func(models.UnitRef) bool, 0, len(cfg.Units))
	for _, ref := range cfg.Units {
		unitFilters = append(unitFilters, unitPredicate(ref))
	}

	selected := make(map[string]struct{})
	for _, team := range graph.Teams() {
		if len(unitFilters) > 0 {
			ok, err := matchesUnits(team, unitFilters, cfg.IncludeSubTeams, graph)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		if cfg.TeamTypeID != nil && !matchesTeamType(team, *cfg.TeamTypeID, cfg.IncludeSubTeams, graph) {
			continue
		}
		if cfg.IsAllMembersList {
			teamType, ok := graph.TeamType(team.TeamTypeID)
			if !ok || !teamType.IncludedInAllMembers {
				continue
			}
		}
		selected[team.ID] = struct{}{}
	}

	people := make(PersonSet)
	for _, role := range graph.Roles() {
		if _, ok := selected[role.TeamID]; !ok {
			continue
		}
		if cfg.RoleTypeID != nil && role.RoleTypeID != *cfg.RoleTypeID {
			continue
		}
		people.Add(role.PersonID)
	}
	return people, nil
}

func unitPredicate(ref models.UnitRef) func(models.UnitRef) bool {
	switch want := ref.(type) {
	case models.DistrictRef:
		return func(unit models.UnitRef) bool {
			got, ok := unit.(models.DistrictRef)
			return ok && got.ID == want.ID
		}
	case models.GroupRef:
		return func(unit models.UnitRef) bool {
			got, ok := unit.(models.GroupRef)
			return ok && got.ID == want.ID
		}
	case models.SectionRef:
		return func(unit models.UnitRef) bool {
			got, ok := unit.(models.SectionRef)
			return ok && got.ID == want.ID
		}
	default:
		return func(models.UnitRef) bool { return false }
	}
}

// Sub-teams match through the unit their parent chain ends at.
func matchesUnits(team unitgraph.Team, filters []func(models.UnitRef) bool, includeSubTeams bool, graph *unitgraph.Graph) (bool, error) {
	unit := team.DirectUnit()
	if unit == nil {
		if !includeSubTeams {
			return false, nil
		}
		owner, err := graph.UnitOf(team.ID)
		if err != nil {
			return false, err
		}
		unit = owner
	}

	for _, match := range filters {
		if match(unit) {
			return true, nil
		}
	}
	return false, nil
}

func matchesTeamType(team unitgraph.Team, teamTypeID string, includeSubTeams bool, graph *unitgraph.Graph) bool {
	if team.TeamTypeID == teamTypeID {
		return true
	}
	if !includeSubTeams {
		return false
	}
	parentID, ok := team.ParentTeam()
	if !ok {
		return false
	}
	parent, ok := graph.Team(parentID)
	return ok && parent.TeamTypeID == teamTypeID
}
