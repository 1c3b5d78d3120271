package unitgraph

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/models"
)

// Load reads the hierarchy, teams and roles from db.
func Load(ctx context.Context, db *gorm.DB) (*Graph, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tx := db.WithContext(ctx)

	var snapshot Snapshot
	if err := tx.Order("tsa_id").Find(&snapshot.Districts).Error; err != nil {
		return nil, fmt.Errorf("load districts: %w", err)
	}
	if err := tx.Order("tsa_id").Find(&snapshot.Groups).Error; err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	if err := tx.Order("tsa_id").Find(&snapshot.Sections).Error; err != nil {
		return nil, fmt.Errorf("load sections: %w", err)
	}
	if err := tx.Order("name").Find(&snapshot.TeamTypes).Error; err != nil {
		return nil, fmt.Errorf("load team types: %w", err)
	}

	var teams []models.Team
	if err := tx.Order("created_at").Order("id").Find(&teams).Error; err != nil {
		return nil, fmt.Errorf("load teams: %w", err)
	}
	snapshot.Teams = make([]Team, 0, len(teams))
	for _, row := range teams {
		team, err := TeamFromModel(row)
		if err != nil {
			return nil, err
		}
		snapshot.Teams = append(snapshot.Teams, team)
	}

	var roles []models.Role
	if err := tx.Order("created_at").Order("id").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	snapshot.Roles = make([]Role, 0, len(roles))
	for _, row := range roles {
		snapshot.Roles = append(snapshot.Roles, Role{
			ID:           row.ID,
			PersonID:     row.PersonID,
			TeamID:       row.TeamID,
			RoleTypeID:   row.RoleTypeID,
			RoleStatusID: row.RoleStatusID,
		})
	}

	return NewGraph(snapshot)
}
