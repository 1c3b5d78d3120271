package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/workspace"
	"github.com/districtscouts/roster/pkg/logger"
)

// WorkspaceSyncService reconciles the local mirror and the mailing groups with the directory.
type WorkspaceSyncService struct {
	db        *gorm.DB
	directory workspace.Directory
	storage   WorkspaceStorage
	domain    string
	log       *zap.Logger
	now       func() time.Time
}

// NewWorkspaceSyncService constructs a reconciler. domain is the mailing-group address domain.
func NewWorkspaceSyncService(db *gorm.DB, directory workspace.Directory, storage WorkspaceStorage, domain string) (*WorkspaceSyncService, error) {
	if db == nil {
		return nil, errors.New("workspace sync service: db is required")
	}
	if directory == nil {
		return nil, errors.New("workspace sync service: directory is required")
	}
	if storage == nil {
		return nil, errors.New("workspace sync service: storage is required")
	}
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))
	if domain == "" {
		return nil, errors.New("workspace sync service: domain is required")
	}
	return &WorkspaceSyncService{
		db:        db,
		directory: directory,
		storage:   storage,
		domain:    domain,
		log:       logger.WithModule("workspace_sync"),
		now:       time.Now,
	}, nil
}

// Sync mirrors directory accounts and their aliases, then prunes accounts the directory no
// longer lists. The storage pass runs in one transaction.
func (s *WorkspaceSyncService) Sync(ctx context.Context) (SyncReport, error) {
	ctx = ensureContext(ctx)
	report := SyncReport{StartedAt: s.now()}

	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("workspace sync service: list users: %w", err)
	}

	err = s.storage.WithinTransaction(ctx, func(storage WorkspaceStorage) error {
		known := make([]string, 0, len(users))
		for _, user := range users {
			account, result, err := storage.UpdateOrCreateAccount(ctx, user)
			if err != nil {
				return err
			}
			report.Add(result)

			aliases, err := storage.SyncAccountAliases(ctx, user, account)
			if err != nil {
				return err
			}
			report.Add(aliases)
			known = append(known, user.ID)
		}

		pruned, err := storage.DeleteSpuriousAccounts(ctx, known)
		if err != nil {
			return err
		}
		if pruned != nil {
			report.Add(*pruned)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	report.FinishedAt = s.now()
	s.log.Info("workspace accounts synchronised",
		zap.Int("accounts", len(users)),
		zap.Int("changes", len(report.Results)),
	)
	return report, nil
}

// mirrorGroups refreshes the local group mirror and returns the directory listing.
func (s *WorkspaceSyncService) mirrorGroups(ctx context.Context, report *SyncReport) ([]workspace.GroupInfo, error) {
	groups, err := s.directory.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("workspace sync service: list groups: %w", err)
	}

	err = s.storage.WithinTransaction(ctx, func(storage WorkspaceStorage) error {
		known := make([]string, 0, len(groups))
		for _, info := range groups {
			group, result, err := storage.UpdateOrCreateGroup(ctx, info)
			if err != nil {
				return err
			}
			report.Add(result)

			aliases, err := storage.SyncGroupAliases(ctx, info, group)
			if err != nil {
				return err
			}
			report.Add(aliases)
			known = append(known, info.ID)
		}

		pruned, err := storage.DeleteSpuriousGroups(ctx, known)
		if err != nil {
			return err
		}
		if pruned != nil {
			report.Add(*pruned)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}
