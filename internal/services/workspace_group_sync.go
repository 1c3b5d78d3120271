package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/districtscouts/roster/internal/models"
	"github.com/districtscouts/roster/internal/workspace"
	"github.com/districtscouts/roster/pkg/metrics"
)

// SyncGroups pushes every mailing group to the directory: missing groups are created, metadata
// and posting settings corrected, and members reconciled. With dryRun the directory is only
// read; every planned write is reported instead of applied.
func (s *WorkspaceSyncService) SyncGroups(ctx context.Context, dryRun bool) (SyncReport, error) {
	ctx = ensureContext(ctx)
	report := SyncReport{StartedAt: s.now()}

	listing, err := s.mirrorGroups(ctx, &report)
	if err != nil {
		return report, err
	}
	existing := make(map[string]workspace.GroupInfo, len(listing))
	for _, group := range listing {
		existing[workspace.NormaliseEmail(group.Email)] = group
	}

	var mailingGroups []models.SystemMailingGroup
	if err := s.db.WithContext(ctx).Preload("Members").Order("composite_key").Find(&mailingGroups).Error; err != nil {
		return report, fmt.Errorf("workspace sync service: load mailing groups: %w", err)
	}
	addresses, err := s.personAddresses(ctx)
	if err != nil {
		return report, err
	}

	for i := range mailingGroups {
		group := &mailingGroups[i]
		email := group.Email(s.domain)
		current, exists := existing[email]

		if !exists {
			result := SyncResult{Event: EventCreateDirectoryGroup, Target: email, Created: []string{email}, DryRun: dryRun}
			if err := s.mutate(ctx, "create_group", dryRun, func() error {
				created, err := s.directory.InsertGroup(ctx, workspace.GroupInfo{
					Email:       email,
					Name:        group.DisplayName,
					Description: groupDescription(group),
				})
				current = created
				return err
			}); err != nil {
				return report, err
			}
			report.Add(result)
		} else if current.Name != group.DisplayName || current.Description != groupDescription(group) {
			result := SyncResult{Event: EventUpdateGroupMetadata, Target: email, Updated: []string{"name", "description"}, DryRun: dryRun}
			if err := s.mutate(ctx, "patch_group", dryRun, func() error {
				return s.directory.PatchGroup(ctx, email, group.DisplayName, groupDescription(group))
			}); err != nil {
				return report, err
			}
			report.Add(result)
		}

		if err := s.syncSettings(ctx, group, email, exists, dryRun, &report); err != nil {
			return report, err
		}
		if err := s.syncMembers(ctx, group, email, exists, addresses, dryRun, &report); err != nil {
			return report, err
		}
	}

	report.FinishedAt = s.now()
	s.log.Info("workspace groups synchronised",
		zap.Int("mailing_groups", len(mailingGroups)),
		zap.Int("changes", len(report.Results)),
		zap.Bool("dry_run", dryRun),
	)
	return report, nil
}

func groupDescription(group *models.SystemMailingGroup) string {
	return fmt.Sprintf("Managed by roster (%s). Manual membership changes are overwritten.", group.CompositeKey)
}

func desiredSettings(group *models.SystemMailingGroup) workspace.GroupSettings {
	if group.CanReceiveExternalEmail {
		return workspace.GroupSettings{WhoCanPostMessage: workspace.PostAnyone}
	}
	return workspace.GroupSettings{WhoCanPostMessage: workspace.PostAllInDomain}
}

func (s *WorkspaceSyncService) syncSettings(ctx context.Context, group *models.SystemMailingGroup, email string, exists, dryRun bool, report *SyncReport) error {
	desired := desiredSettings(group)
	if exists {
		current, err := s.directory.GetGroupSettings(ctx, email)
		if err != nil {
			return err
		}
		if current == desired {
			return nil
		}
	}

	if err := s.mutate(ctx, "update_settings", dryRun, func() error {
		return s.directory.UpdateGroupSettings(ctx, email, desired)
	}); err != nil {
		return err
	}
	report.Add(SyncResult{
		Event:   EventUpdateGroupSettings,
		Target:  email,
		Updated: []string{"who_can_post_message=" + desired.WhoCanPostMessage},
		DryRun:  dryRun,
	})
	return nil
}

// syncMembers removes unexpected members, demotes owners and managers to MEMBER, then adds the
// missing members, in that order.
func (s *WorkspaceSyncService) syncMembers(ctx context.Context, group *models.SystemMailingGroup, email string, exists bool, addresses map[string]string, dryRun bool, report *SyncReport) error {
	result := SyncResult{Event: EventSyncGroupMembers, Target: email, DryRun: dryRun}

	expected := make(map[string]struct{}, len(group.Members))
	for _, person := range group.Members {
		address := addresses[person.ID]
		if address == "" {
			address = workspace.NormaliseEmail(person.Email)
		}
		if address == "" {
			result.Skipped = append(result.Skipped, person.DisplayName())
			continue
		}
		expected[address] = struct{}{}
	}

	var current []workspace.MemberInfo
	if exists {
		members, err := s.directory.ListMembers(ctx, email)
		if err != nil {
			return err
		}
		current = members
	}

	currentByEmail := make(map[string]workspace.MemberInfo, len(current))
	var currentEmails []string
	for _, member := range current {
		address := workspace.NormaliseEmail(member.Email)
		currentByEmail[address] = member
		currentEmails = append(currentEmails, address)
	}
	expectedEmails := make([]string, 0, len(expected))
	for address := range expected {
		expectedEmails = append(expectedEmails, address)
	}
	toAdd, toRemove := diffStrings(currentEmails, expectedEmails)

	for _, address := range toRemove {
		if err := s.mutate(ctx, "delete_member", dryRun, func() error {
			return s.directory.DeleteMember(ctx, email, address)
		}); err != nil {
			return err
		}
		result.Deleted = append(result.Deleted, address)
	}

	for _, address := range sortedKeys(expected) {
		member, ok := currentByEmail[address]
		if !ok || member.Role == workspace.RoleMember {
			continue
		}
		if err := s.mutate(ctx, "update_member_role", dryRun, func() error {
			return s.directory.UpdateMemberRole(ctx, email, address, workspace.RoleMember)
		}); err != nil {
			return err
		}
		result.Updated = append(result.Updated, address)
	}

	for _, address := range toAdd {
		if err := s.mutate(ctx, "insert_member", dryRun, func() error {
			return s.directory.InsertMember(ctx, email, address, workspace.RoleMember)
		}); err != nil {
			return err
		}
		result.Created = append(result.Created, address)
	}

	report.Add(result)
	return nil
}

// personAddresses maps person ids to the primary email of their linked, active account.
func (s *WorkspaceSyncService) personAddresses(ctx context.Context) (map[string]string, error) {
	var accounts []models.WorkspaceAccount
	if err := s.db.WithContext(ctx).
		Where("person_id IS NOT NULL").
		Where("suspended = ? AND archived = ?", false, false).
		Order("created_at").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("workspace sync service: load linked accounts: %w", err)
	}

	addresses := make(map[string]string, len(accounts))
	for _, account := range accounts {
		if account.PersonID == nil {
			continue
		}
		if _, taken := addresses[*account.PersonID]; taken {
			continue
		}
		addresses[*account.PersonID] = workspace.NormaliseEmail(account.PrimaryEmail)
	}
	return addresses, nil
}

func (s *WorkspaceSyncService) mutate(ctx context.Context, kind string, dryRun bool, fn func() error) error {
	metrics.DirectoryMutations.WithLabelValues(kind, strconv.FormatBool(dryRun)).Inc()
	if dryRun {
		s.log.Debug("dry run: skipping directory write", zap.String("kind", kind))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
