package mailgroups

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/models"
	"github.com/districtscouts/roster/internal/unitgraph"
	"github.com/districtscouts/roster/pkg/logger"
)

// MemberChange describes how one group's persisted membership moved.
type MemberChange struct {
	CompositeKey string `json:"composite_key"`
	Added        int    `json:"added"`
	Removed      int    `json:"removed"`
	Total        int    `json:"total"`
}

// MemberReport summarises an UpdateAll run.
type MemberReport struct {
	Groups []MemberChange `json:"groups"`
}

// Changed returns the entries whose membership moved.
func (r MemberReport) Changed() []MemberChange {
	var out []MemberChange
	for _, change := range r.Groups {
		if change.Added > 0 || change.Removed > 0 {
			out = append(out, change)
		}
	}
	return out
}

// MemberUpdater recomputes the persisted member lists of every mailing group.
type MemberUpdater struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewMemberUpdater(db *gorm.DB) (*MemberUpdater, error) {
	if db == nil {
		return nil, errors.New("member updater: db is required")
	}
	return &MemberUpdater{db: db, log: logger.WithModule("mailgroups")}, nil
}

// UpdateAll resolves every group with its fallback chain and replaces the stored members.
func (u *MemberUpdater) UpdateAll(ctx context.Context) (MemberReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var report MemberReport
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		report = MemberReport{}

		graph, err := unitgraph.Load(ctx, tx)
		if err != nil {
			return err
		}

		var groups []models.SystemMailingGroup
		if err := tx.Preload("Members").Order("composite_key").Find(&groups).Error; err != nil {
			return fmt.Errorf("load mailing groups: %w", err)
		}

		resolver := NewFallbackResolver(graph, NewMapLookup(groups))
		for i := range groups {
			group := &groups[i]
			desired, err := resolver.Resolve(ctx, group)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", group.CompositeKey, err)
			}

			change, err := replaceMembers(tx, group, desired)
			if err != nil {
				return fmt.Errorf("update members of %s: %w", group.CompositeKey, err)
			}
			report.Groups = append(report.Groups, change)
		}
		return nil
	})
	if err != nil {
		return MemberReport{}, err
	}

	u.log.Info("mailing group members updated",
		zap.Int("groups", len(report.Groups)),
		zap.Int("changed", len(report.Changed())),
	)
	return report, nil
}

func replaceMembers(tx *gorm.DB, group *models.SystemMailingGroup, desired PersonSet) (MemberChange, error) {
	change := MemberChange{CompositeKey: group.CompositeKey, Total: desired.Len()}

	current := make(PersonSet, len(group.Members))
	for _, person := range group.Members {
		current.Add(person.ID)
	}
	for id := range desired {
		if !current.Has(id) {
			change.Added++
		}
	}
	for id := range current {
		if !desired.Has(id) {
			change.Removed++
		}
	}
	if change.Added == 0 && change.Removed == 0 {
		return change, nil
	}

	association := tx.Model(group).Association("Members")
	if desired.Len() == 0 {
		return change, association.Clear()
	}

	var people []models.Person
	if err := tx.Where("id IN ?", desired.Sorted()).Order("id").Find(&people).Error; err != nil {
		return change, err
	}
	return change, association.Replace(&people)
}
