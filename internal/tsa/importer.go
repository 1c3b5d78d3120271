package tsa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/models"
	apperrors "github.com/districtscouts/roster/pkg/errors"
	"github.com/districtscouts/roster/pkg/logger"
)

// Source provides a district snapshot. *Client implements it.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// ImportReport counts the rows written and pruned by one import.
type ImportReport struct {
	Districts      int `json:"districts"`
	Groups         int `json:"groups"`
	Sections       int `json:"sections"`
	TeamTypes      int `json:"team_types"`
	Teams          int `json:"teams"`
	People         int `json:"people"`
	Roles          int `json:"roles"`
	Accreditations int `json:"accreditations"`

	PrunedTeams          []string `json:"pruned_teams,omitempty"`
	PrunedRoles          []string `json:"pruned_roles,omitempty"`
	PrunedAccreditations []string `json:"pruned_accreditations,omitempty"`
}

func (r ImportReport) String() string {
	return fmt.Sprintf("imported %d groups, %d sections, %d team types, %d teams, %d people, %d roles, %d accreditations; pruned %d teams, %d roles, %d accreditations",
		r.Groups, r.Sections, r.TeamTypes, r.Teams, r.People, r.Roles, r.Accreditations,
		len(r.PrunedTeams), len(r.PrunedRoles), len(r.PrunedAccreditations))
}

// Summary flattens the report for audit metadata.
func (r ImportReport) Summary() map[string]any {
	return map[string]any{
		"groups":                r.Groups,
		"sections":              r.Sections,
		"team_types":            r.TeamTypes,
		"teams":                 r.Teams,
		"people":                r.People,
		"roles":                 r.Roles,
		"accreditations":        r.Accreditations,
		"pruned_teams":          len(r.PrunedTeams),
		"pruned_roles":          len(r.PrunedRoles),
		"pruned_accreditations": len(r.PrunedAccreditations),
	}
}

// Importer mirrors a TSA snapshot into the database.
type Importer struct {
	db     *gorm.DB
	source Source
	log    *zap.Logger
}

func NewImporter(db *gorm.DB, source Source) (*Importer, error) {
	if db == nil {
		return nil, errors.New("tsa importer: db is required")
	}
	if source == nil {
		return nil, errors.New("tsa importer: source is required")
	}
	return &Importer{db: db, source: source, log: logger.WithModule("tsa_import")}, nil
}

// Import fetches the snapshot and applies it in one transaction. Rows are matched by TSA id
// (team types, role types, role statuses and accreditation types by name). Teams, roles and
// accreditations missing from the snapshot are deleted.
func (i *Importer) Import(ctx context.Context) (ImportReport, error) {
	snapshot, err := i.source.Fetch(ctx)
	if err != nil {
		return ImportReport{}, err
	}
	if err := checkSnapshot(snapshot); err != nil {
		return ImportReport{}, err
	}

	var report ImportReport
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run := &importRun{tx: tx, log: i.log, report: &report}
		return run.apply(snapshot)
	})
	if err != nil {
		return ImportReport{}, err
	}

	i.log.Info("tsa import complete", zap.String("summary", report.String()))
	return report, nil
}

// checkSnapshot rejects references the database constraints would otherwise trip over.
func checkSnapshot(s Snapshot) error {
	groups := make(map[string]struct{}, len(s.Groups))
	for _, g := range s.Groups {
		groups[g.ID] = struct{}{}
	}
	for _, section := range s.Sections {
		sectionType := models.SectionType(section.SectionType)
		switch {
		case sectionType.IsDistrictLevel() && section.GroupID != "":
			return apperrors.ErrMalformedPayload.Withf("tsa section %s: %s sections cannot belong to a group", section.ID, sectionType)
		case !sectionType.IsDistrictLevel() && section.GroupID == "":
			return apperrors.ErrMalformedPayload.Withf("tsa section %s: %s sections must belong to a group", section.ID, sectionType)
		case section.GroupID != "":
			if _, ok := groups[section.GroupID]; !ok {
				return apperrors.ErrMalformedPayload.Withf("tsa section %s: unknown group %s", section.ID, section.GroupID)
			}
		}
	}
	return nil
}

type importRun struct {
	tx     *gorm.DB
	log    *zap.Logger
	report *ImportReport

	district     *models.District
	groups       map[string]string
	sections     map[string]string
	teamTypes    map[string]string
	teams        map[string]string
	people       map[string]string
	roleTypes    map[string]string
	roleStatuses map[string]string
	accTypes     map[string]string
}

func (r *importRun) apply(s Snapshot) error {
	r.groups = make(map[string]string)
	r.sections = make(map[string]string)
	r.teamTypes = make(map[string]string)
	r.teams = make(map[string]string)
	r.people = make(map[string]string)
	r.roleTypes = make(map[string]string)
	r.roleStatuses = make(map[string]string)
	r.accTypes = make(map[string]string)

	steps := []func(Snapshot) error{
		r.importDistrict,
		r.importGroups,
		r.importSections,
		r.importTeamTypes,
		r.importTeams,
		r.importPeople,
		r.importRoles,
		r.importAccreditations,
		r.prune,
	}
	for _, step := range steps {
		if err := step(s); err != nil {
			return err
		}
	}
	return nil
}

// upsert loads the row where column = key, applies fn and saves it, creating it when missing.
func upsert[T any](tx *gorm.DB, column, key string, fn func(*T)) (*T, error) {
	var row T
	err := tx.Where(column+" = ?", key).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		fn(&row)
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	case err != nil:
		return nil, err
	}
	fn(&row)
	if err := tx.Save(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *importRun) importDistrict(s Snapshot) error {
	district, err := upsert(r.tx, "tsa_id", s.District.ID, func(d *models.District) {
		d.TSAID = s.District.ID
		d.Name = s.District.Name
	})
	if err != nil {
		return fmt.Errorf("tsa importer: district %s: %w", s.District.ID, err)
	}
	r.district = district
	r.report.Districts = 1
	return nil
}

func (r *importRun) importGroups(s Snapshot) error {
	for _, payload := range s.Groups {
		group, err := upsert(r.tx, "tsa_id", payload.ID, func(g *models.Group) {
			g.TSAID = payload.ID
			g.Name = payload.Name
			g.DistrictID = r.district.ID
		})
		if err != nil {
			return fmt.Errorf("tsa importer: group %s: %w", payload.ID, err)
		}
		r.groups[payload.ID] = group.ID
	}
	r.report.Groups = len(s.Groups)
	return nil
}

func (r *importRun) importSections(s Snapshot) error {
	for _, payload := range s.Sections {
		section, err := upsert(r.tx, "tsa_id", payload.ID, func(sec *models.Section) {
			sec.TSAID = payload.ID
			sec.Name = payload.Name
			sec.SectionType = models.SectionType(payload.SectionType)
			sec.DistrictID, sec.GroupID = nil, nil
			if payload.GroupID == "" {
				sec.DistrictID = &r.district.ID
			} else {
				groupID := r.groups[payload.GroupID]
				sec.GroupID = &groupID
			}
		})
		if err != nil {
			return fmt.Errorf("tsa importer: section %s: %w", payload.ID, err)
		}
		r.sections[payload.ID] = section.ID
	}
	r.report.Sections = len(s.Sections)
	return nil
}

func (r *importRun) importTeamTypes(s Snapshot) error {
	for _, payload := range s.TeamTypes {
		teamType, err := upsert(r.tx, "name", payload.Name, func(tt *models.TeamType) {
			tt.Name = payload.Name
			if payload.Nickname != "" {
				tt.Nickname = payload.Nickname
			}
			if payload.MailingSlug != "" {
				tt.MailingSlug = payload.MailingSlug
			}
			setFlag(&tt.HasTeamLead, payload.HasTeamLead)
			setFlag(&tt.HasAllList, payload.HasAllList)
			setFlag(&tt.IncludedInAllMembers, payload.IncludedInAllMembers)
			setFlag(&tt.MembersCanSendAs, payload.MembersCanSendAs)
		})
		if err != nil {
			return fmt.Errorf("tsa importer: team type %s: %w", payload.Name, err)
		}
		r.teamTypes[payload.ID] = teamType.ID
	}
	r.report.TeamTypes = len(s.TeamTypes)
	return nil
}

func setFlag(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}

// importTeams writes teams attached to units first, then sub-teams once their parent exists.
func (r *importRun) importTeams(s Snapshot) error {
	pending := append([]TeamPayload(nil), s.Teams...)
	for len(pending) > 0 {
		var deferred []TeamPayload
		for _, payload := range pending {
			if payload.Parent.Type == ParentTeam {
				if _, ready := r.teams[payload.Parent.ID]; !ready {
					deferred = append(deferred, payload)
					continue
				}
			}
			if err := r.importTeam(payload); err != nil {
				return err
			}
		}
		if len(deferred) == len(pending) {
			return apperrors.ErrMalformedPayload.Withf("tsa team %s: parent team %s is missing or cyclic", deferred[0].ID, deferred[0].Parent.ID)
		}
		pending = deferred
	}
	r.report.Teams = len(s.Teams)
	return nil
}

func (r *importRun) importTeam(payload TeamPayload) error {
	teamTypeID, ok := r.teamTypes[payload.TeamTypeID]
	if !ok {
		return apperrors.ErrMalformedPayload.Withf("tsa team %s: unknown team type %s", payload.ID, payload.TeamTypeID)
	}

	var parentID string
	switch payload.Parent.Type {
	case ParentDistrict:
		if payload.Parent.ID == r.district.TSAID {
			parentID = r.district.ID
		}
	case ParentGroup:
		parentID = r.groups[payload.Parent.ID]
	case ParentSection:
		parentID = r.sections[payload.Parent.ID]
	case ParentTeam:
		parentID = r.teams[payload.Parent.ID]
	}
	if parentID == "" {
		return apperrors.ErrMalformedPayload.Withf("tsa team %s: unknown %s %s", payload.ID, payload.Parent.Type, payload.Parent.ID)
	}

	team, err := upsert(r.tx, "tsa_id", payload.ID, func(t *models.Team) {
		t.TSAID = payload.ID
		t.Name = payload.Name
		t.TeamTypeID = teamTypeID
		t.DistrictID, t.GroupID, t.SectionID, t.ParentTeamID = nil, nil, nil, nil
		switch payload.Parent.Type {
		case ParentDistrict:
			t.DistrictID = &parentID
		case ParentGroup:
			t.GroupID = &parentID
		case ParentSection:
			t.SectionID = &parentID
		case ParentTeam:
			t.ParentTeamID = &parentID
		}
	})
	if err != nil {
		return fmt.Errorf("tsa importer: team %s: %w", payload.ID, err)
	}
	r.teams[payload.ID] = team.ID
	return nil
}

func (r *importRun) importPeople(s Snapshot) error {
	for _, payload := range s.People {
		person, err := upsert(r.tx, "tsa_id", payload.ID, func(p *models.Person) {
			p.TSAID = payload.ID
			p.FirstName = payload.FirstName
			p.LastName = payload.LastName
			p.Email = strings.TrimSpace(payload.Email)
		})
		if err != nil {
			return fmt.Errorf("tsa importer: person %s: %w", payload.ID, err)
		}
		r.people[payload.ID] = person.ID
	}
	r.report.People = len(s.People)
	return nil
}

// named returns the id of the row called name, creating row when missing.
func named[T any](tx *gorm.DB, cache map[string]string, row T, name string, id func(*T) string) (string, error) {
	if cached, ok := cache[name]; ok {
		return cached, nil
	}
	if err := tx.Where("name = ?", name).FirstOrCreate(&row).Error; err != nil {
		return "", err
	}
	cache[name] = id(&row)
	return cache[name], nil
}

func (r *importRun) references(kind, id, personTSA, teamTSA string) (personID, teamID string, err error) {
	personID, ok := r.people[personTSA]
	if !ok {
		return "", "", apperrors.ErrMalformedPayload.Withf("tsa %s %s: unknown person %s", kind, id, personTSA)
	}
	teamID, ok = r.teams[teamTSA]
	if !ok {
		return "", "", apperrors.ErrMalformedPayload.Withf("tsa %s %s: unknown team %s", kind, id, teamTSA)
	}
	return personID, teamID, nil
}

func (r *importRun) importRoles(s Snapshot) error {
	for _, payload := range s.Roles {
		personID, teamID, err := r.references("role", payload.ID, payload.PersonID, payload.TeamID)
		if err != nil {
			return err
		}
		roleTypeID, err := named(r.tx, r.roleTypes, models.RoleType{Name: payload.RoleType}, payload.RoleType,
			func(rt *models.RoleType) string { return rt.ID })
		if err != nil {
			return fmt.Errorf("tsa importer: role type %s: %w", payload.RoleType, err)
		}
		statusID, err := named(r.tx, r.roleStatuses, models.RoleStatus{Name: payload.Status}, payload.Status,
			func(rs *models.RoleStatus) string { return rs.ID })
		if err != nil {
			return fmt.Errorf("tsa importer: role status %s: %w", payload.Status, err)
		}

		_, err = upsert(r.tx, "tsa_id", payload.ID, func(role *models.Role) {
			role.TSAID = payload.ID
			role.PersonID = personID
			role.TeamID = teamID
			role.RoleTypeID = roleTypeID
			role.RoleStatusID = statusID
		})
		if err != nil {
			return fmt.Errorf("tsa importer: role %s: %w", payload.ID, err)
		}
	}
	r.report.Roles = len(s.Roles)
	return nil
}

func (r *importRun) importAccreditations(s Snapshot) error {
	for _, payload := range s.Accreditations {
		personID, teamID, err := r.references("accreditation", payload.ID, payload.PersonID, payload.TeamID)
		if err != nil {
			return err
		}
		typeID, err := named(r.tx, r.accTypes, models.AccreditationType{Name: payload.Type}, payload.Type,
			func(at *models.AccreditationType) string { return at.ID })
		if err != nil {
			return fmt.Errorf("tsa importer: accreditation type %s: %w", payload.Type, err)
		}

		_, err = upsert(r.tx, "tsa_id", payload.ID, func(a *models.Accreditation) {
			a.TSAID = payload.ID
			a.PersonID = personID
			a.TeamID = teamID
			a.AccreditationTypeID = typeID
			a.Status = payload.Status
			a.ExpiresAt = payload.ExpiresAt
			a.GrantedAt = payload.GrantedAt
		})
		if err != nil {
			return fmt.Errorf("tsa importer: accreditation %s: %w", payload.ID, err)
		}
	}
	r.report.Accreditations = len(s.Accreditations)
	return nil
}

func payloadIDs[T any](items []T, id func(T) string) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, id(item))
	}
	return ids
}

// prune removes rows the snapshot no longer mentions: accreditations and roles first, then teams
// from the leaves up.
func (r *importRun) prune(s Snapshot) error {
	accIDs := payloadIDs(s.Accreditations, func(a AccreditationPayload) string { return a.ID })
	roleIDs := payloadIDs(s.Roles, func(p RolePayload) string { return p.ID })
	teamIDs := payloadIDs(s.Teams, func(t TeamPayload) string { return t.ID })

	var accreditations []models.Accreditation
	if err := notIn(r.tx, "tsa_id", accIDs).Find(&accreditations).Error; err != nil {
		return fmt.Errorf("tsa importer: find spurious accreditations: %w", err)
	}
	for _, a := range accreditations {
		r.log.Warn("removing spurious accreditation", zap.String("tsa_id", a.TSAID), zap.String("person_id", a.PersonID))
		if err := r.tx.Delete(&a).Error; err != nil {
			return fmt.Errorf("tsa importer: delete accreditation %s: %w", a.TSAID, err)
		}
		r.report.PrunedAccreditations = append(r.report.PrunedAccreditations, a.TSAID)
	}

	var roles []models.Role
	if err := notIn(r.tx, "tsa_id", roleIDs).Find(&roles).Error; err != nil {
		return fmt.Errorf("tsa importer: find spurious roles: %w", err)
	}
	for _, role := range roles {
		r.log.Warn("removing spurious role", zap.String("tsa_id", role.TSAID), zap.String("person_id", role.PersonID), zap.String("team_id", role.TeamID))
		if err := r.tx.Delete(&role).Error; err != nil {
			return fmt.Errorf("tsa importer: delete role %s: %w", role.TSAID, err)
		}
		r.report.PrunedRoles = append(r.report.PrunedRoles, role.TSAID)
	}

	var teams []models.Team
	if err := notIn(r.tx, "tsa_id", teamIDs).Find(&teams).Error; err != nil {
		return fmt.Errorf("tsa importer: find spurious teams: %w", err)
	}
	for len(teams) > 0 {
		var remaining []models.Team
		for _, team := range teams {
			var children int64
			if err := r.tx.Model(&models.Team{}).Where("parent_team_id = ?", team.ID).Count(&children).Error; err != nil {
				return fmt.Errorf("tsa importer: count sub-teams: %w", err)
			}
			if children > 0 {
				remaining = append(remaining, team)
				continue
			}
			if err := r.deleteTeam(team); err != nil {
				return err
			}
		}
		if len(remaining) == len(teams) {
			return apperrors.ErrPrecondition.Withf("tsa importer: team %s still has sub-teams the import keeps", remaining[0].TSAID)
		}
		teams = remaining
	}
	return nil
}

func (r *importRun) deleteTeam(team models.Team) error {
	r.log.Warn("removing spurious team", zap.String("tsa_id", team.TSAID), zap.String("name", team.Name))
	if err := r.tx.Where("team_id = ?", team.ID).Delete(&models.Role{}).Error; err != nil {
		return fmt.Errorf("tsa importer: delete roles of team %s: %w", team.TSAID, err)
	}
	if err := r.tx.Where("team_id = ?", team.ID).Delete(&models.Accreditation{}).Error; err != nil {
		return fmt.Errorf("tsa importer: delete accreditations of team %s: %w", team.TSAID, err)
	}
	if err := r.tx.Delete(&team).Error; err != nil {
		return fmt.Errorf("tsa importer: delete team %s: %w", team.TSAID, err)
	}
	r.report.PrunedTeams = append(r.report.PrunedTeams, team.TSAID)
	return nil
}

func notIn(tx *gorm.DB, column string, values []string) *gorm.DB {
	query := tx.Order(column)
	if len(values) == 0 {
		return query
	}
	return query.Where(column+" NOT IN ?", values)
}
