package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/database"
	"github.com/districtscouts/roster/internal/models"
	"github.com/districtscouts/roster/internal/workspace"
	apperrors "github.com/districtscouts/roster/pkg/errors"
	"github.com/districtscouts/roster/pkg/logger"
)

// WorkspaceStorage persists the local mirror of the directory.
type WorkspaceStorage interface {
	UpdateOrCreateAccount(ctx context.Context, info workspace.AccountInfo) (*models.WorkspaceAccount, SyncResult, error)
	// SyncAccountAliases aligns the stored aliases with info. account may be nil, in which case it
	// is looked up by the directory id.
	SyncAccountAliases(ctx context.Context, info workspace.AccountInfo, account *models.WorkspaceAccount) (SyncResult, error)
	// DeleteSpuriousAccounts removes accounts whose directory id is not in known. It returns nil
	// when nothing was removed.
	DeleteSpuriousAccounts(ctx context.Context, known []string) (*SyncResult, error)

	UpdateOrCreateGroup(ctx context.Context, info workspace.GroupInfo) (*models.WorkspaceGroup, SyncResult, error)
	SyncGroupAliases(ctx context.Context, info workspace.GroupInfo, group *models.WorkspaceGroup) (SyncResult, error)
	DeleteSpuriousGroups(ctx context.Context, known []string) (*SyncResult, error)

	// WithinTransaction runs fn against a storage bound to a single transaction.
	WithinTransaction(ctx context.Context, fn func(WorkspaceStorage) error) error
}

// GormWorkspaceStorage implements WorkspaceStorage with gorm.
type GormWorkspaceStorage struct {
	db     *gorm.DB
	domain string
	log    *zap.Logger
}

// NewGormWorkspaceStorage constructs the storage. domain is used to link directory groups to
// mailing groups by address.
func NewGormWorkspaceStorage(db *gorm.DB, domain string) (*GormWorkspaceStorage, error) {
	if db == nil {
		return nil, errors.New("workspace storage: db is required")
	}
	return &GormWorkspaceStorage{
		db:     db,
		domain: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@")),
		log:    logger.WithModule("workspace_sync"),
	}, nil
}

func (s *GormWorkspaceStorage) WithinTransaction(ctx context.Context, fn func(WorkspaceStorage) error) error {
	ctx = ensureContext(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormWorkspaceStorage{db: tx, domain: s.domain, log: s.log})
	})
}

func (s *GormWorkspaceStorage) UpdateOrCreateAccount(ctx context.Context, info workspace.AccountInfo) (*models.WorkspaceAccount, SyncResult, error) {
	ctx = ensureContext(ctx)
	result := SyncResult{Event: EventUpdateOrCreateAccount, Target: info.PrimaryEmail}
	if strings.TrimSpace(info.ID) == "" {
		return nil, result, apperrors.ErrMalformedPayload.Withf("directory account %q has no id", info.PrimaryEmail)
	}

	db := s.db.WithContext(ctx)
	personID, err := s.matchPerson(db, append([]string{info.PrimaryEmail}, info.Aliases...))
	if err != nil {
		return nil, result, err
	}

	desired := models.WorkspaceAccount{
		GoogleID:                  info.ID,
		PrimaryEmail:              workspace.NormaliseEmail(info.PrimaryEmail),
		GivenName:                 info.GivenName,
		FamilyName:                info.FamilyName,
		Suspended:                 info.Suspended,
		Archived:                  info.Archived,
		IsAdmin:                   info.IsAdmin,
		ChangePasswordAtNextLogin: info.ChangePasswordAtNextLogin,
		IsEnrolledIn2SV:           info.IsEnrolledIn2SV,
		IsEnforcedIn2SV:           info.IsEnforcedIn2SV,
		OrgUnitPath:               info.OrgUnitPath,
		LastLoginAt:               info.LastLoginAt,
		PersonID:                  personID,
	}

	var account models.WorkspaceAccount
	err = db.Where("google_id = ?", info.ID).Take(&account).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(&desired).Error; err != nil {
			return nil, result, classifyWriteError(err, "workspace account", desired.PrimaryEmail)
		}
		result.Created = []string{desired.PrimaryEmail}
		return &desired, result, nil
	case err != nil:
		return nil, result, fmt.Errorf("workspace storage: find account: %w", err)
	}

	if sameAccount(account, desired) {
		return &account, result, nil
	}

	desired.BaseModel = account.BaseModel
	if err := db.Omit("Aliases", "Person").Save(&desired).Error; err != nil {
		return nil, result, classifyWriteError(err, "workspace account", desired.PrimaryEmail)
	}
	result.Updated = []string{desired.PrimaryEmail}
	return &desired, result, nil
}

func sameAccount(a, b models.WorkspaceAccount) bool {
	return a.PrimaryEmail == b.PrimaryEmail &&
		a.GivenName == b.GivenName &&
		a.FamilyName == b.FamilyName &&
		a.Suspended == b.Suspended &&
		a.Archived == b.Archived &&
		a.IsAdmin == b.IsAdmin &&
		a.ChangePasswordAtNextLogin == b.ChangePasswordAtNextLogin &&
		a.IsEnrolledIn2SV == b.IsEnrolledIn2SV &&
		a.IsEnforcedIn2SV == b.IsEnforcedIn2SV &&
		a.OrgUnitPath == b.OrgUnitPath &&
		sameTime(a.LastLoginAt, b.LastLoginAt) &&
		sameID(a.PersonID, b.PersonID)
}

func (s *GormWorkspaceStorage) matchPerson(db *gorm.DB, addresses []string) (*string, error) {
	addresses = normaliseAddresses(addresses)
	if len(addresses) == 0 {
		return nil, nil
	}
	var person models.Person
	err := db.Where("LOWER(email) IN ?", addresses).Order("created_at").Order("id").Take(&person).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace storage: match person: %w", err)
	}
	return &person.ID, nil
}

func (s *GormWorkspaceStorage) SyncAccountAliases(ctx context.Context, info workspace.AccountInfo, account *models.WorkspaceAccount) (SyncResult, error) {
	ctx = ensureContext(ctx)
	result := SyncResult{Event: EventSyncAccountAliases, Target: info.PrimaryEmail}
	db := s.db.WithContext(ctx)

	if account == nil {
		var found models.WorkspaceAccount
		if err := db.Where("google_id = ?", info.ID).Take(&found).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return result, apperrors.ErrLookupNotFound.Withf("workspace account %s not mirrored", info.ID)
			}
			return result, fmt.Errorf("workspace storage: find account: %w", err)
		}
		account = &found
	}

	var existing []models.WorkspaceAccountAlias
	if err := db.Where("account_id = ?", account.ID).Find(&existing).Error; err != nil {
		return result, fmt.Errorf("workspace storage: load aliases: %w", err)
	}
	current := make([]string, 0, len(existing))
	for _, alias := range existing {
		current = append(current, alias.Address)
	}

	create, remove := diffStrings(current, normaliseAddresses(info.Aliases))
	if len(remove) > 0 {
		if err := db.Where("account_id = ? AND address IN ?", account.ID, remove).Delete(&models.WorkspaceAccountAlias{}).Error; err != nil {
			return result, fmt.Errorf("workspace storage: delete aliases: %w", err)
		}
	}
	for _, address := range create {
		// The directory moved the address from another account.
		if err := db.Where("address = ? AND account_id <> ?", address, account.ID).Delete(&models.WorkspaceAccountAlias{}).Error; err != nil {
			return result, fmt.Errorf("workspace storage: release alias: %w", err)
		}
		alias := models.WorkspaceAccountAlias{AccountID: account.ID, Address: address}
		if err := db.Create(&alias).Error; err != nil {
			return result, classifyWriteError(err, "account alias", address)
		}
	}

	result.Created = create
	result.Deleted = remove
	return result, nil
}

func (s *GormWorkspaceStorage) DeleteSpuriousAccounts(ctx context.Context, known []string) (*SyncResult, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	query := db.Model(&models.WorkspaceAccount{})
	if len(known) > 0 {
		query = query.Where("google_id NOT IN ?", known)
	}
	var spurious []models.WorkspaceAccount
	if err := query.Order("primary_email").Find(&spurious).Error; err != nil {
		return nil, fmt.Errorf("workspace storage: find spurious accounts: %w", err)
	}
	if len(spurious) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(spurious))
	result := &SyncResult{Event: EventDeleteSpuriousAccounts, Target: "accounts"}
	for _, account := range spurious {
		s.log.Warn("removing spurious workspace account", zap.String("google_id", account.GoogleID), zap.String("email", account.PrimaryEmail))
		ids = append(ids, account.ID)
		result.Deleted = append(result.Deleted, account.PrimaryEmail)
	}

	if err := db.Where("account_id IN ?", ids).Delete(&models.WorkspaceAccountAlias{}).Error; err != nil {
		return nil, fmt.Errorf("workspace storage: delete spurious aliases: %w", err)
	}
	if err := db.Where("id IN ?", ids).Delete(&models.WorkspaceAccount{}).Error; err != nil {
		return nil, fmt.Errorf("workspace storage: delete spurious accounts: %w", err)
	}
	return result, nil
}

func (s *GormWorkspaceStorage) UpdateOrCreateGroup(ctx context.Context, info workspace.GroupInfo) (*models.WorkspaceGroup, SyncResult, error) {
	ctx = ensureContext(ctx)
	result := SyncResult{Event: EventUpdateOrCreateGroup, Target: info.Email}
	if strings.TrimSpace(info.ID) == "" {
		return nil, result, apperrors.ErrMalformedPayload.Withf("directory group %q has no id", info.Email)
	}
	db := s.db.WithContext(ctx)

	mailingGroupID, err := s.matchMailingGroup(db, info.Email)
	if err != nil {
		return nil, result, err
	}

	desired := models.WorkspaceGroup{
		GoogleID:             info.ID,
		Email:                workspace.NormaliseEmail(info.Email),
		Name:                 info.Name,
		Description:          info.Description,
		DirectMembersCount:   info.DirectMembersCount,
		AdminCreated:         info.AdminCreated,
		SystemMailingGroupID: mailingGroupID,
	}

	var group models.WorkspaceGroup
	err = db.Where("google_id = ?", info.ID).Take(&group).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(&desired).Error; err != nil {
			return nil, result, classifyWriteError(err, "workspace group", desired.Email)
		}
		result.Created = []string{desired.Email}
		return &desired, result, nil
	case err != nil:
		return nil, result, fmt.Errorf("workspace storage: find group: %w", err)
	}

	if group.Email == desired.Email &&
		group.Name == desired.Name &&
		group.Description == desired.Description &&
		group.DirectMembersCount == desired.DirectMembersCount &&
		group.AdminCreated == desired.AdminCreated &&
		sameID(group.SystemMailingGroupID, desired.SystemMailingGroupID) {
		return &group, result, nil
	}

	desired.BaseModel = group.BaseModel
	if err := db.Omit("Aliases", "SystemMailingGroup").Save(&desired).Error; err != nil {
		return nil, result, classifyWriteError(err, "workspace group", desired.Email)
	}
	result.Updated = []string{desired.Email}
	return &desired, result, nil
}

func (s *GormWorkspaceStorage) matchMailingGroup(db *gorm.DB, email string) (*string, error) {
	name, domain := localPart(workspace.NormaliseEmail(email))
	if s.domain == "" || domain != s.domain {
		return nil, nil
	}
	var group models.SystemMailingGroup
	err := db.Where("name = ?", name).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace storage: match mailing group: %w", err)
	}
	return &group.ID, nil
}

func (s *GormWorkspaceStorage) SyncGroupAliases(ctx context.Context, info workspace.GroupInfo, group *models.WorkspaceGroup) (SyncResult, error) {
	ctx = ensureContext(ctx)
	result := SyncResult{Event: EventSyncGroupAliases, Target: info.Email}
	db := s.db.WithContext(ctx)

	if group == nil {
		var found models.WorkspaceGroup
		if err := db.Where("google_id = ?", info.ID).Take(&found).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return result, apperrors.ErrLookupNotFound.Withf("workspace group %s not mirrored", info.ID)
			}
			return result, fmt.Errorf("workspace storage: find group: %w", err)
		}
		group = &found
	}

	var existing []models.WorkspaceGroupAlias
	if err := db.Where("group_id = ?", group.ID).Find(&existing).Error; err != nil {
		return result, fmt.Errorf("workspace storage: load group aliases: %w", err)
	}
	current := make([]string, 0, len(existing))
	for _, alias := range existing {
		current = append(current, alias.Address)
	}

	create, remove := diffStrings(current, normaliseAddresses(info.Aliases))
	if len(remove) > 0 {
		if err := db.Where("group_id = ? AND address IN ?", group.ID, remove).Delete(&models.WorkspaceGroupAlias{}).Error; err != nil {
			return result, fmt.Errorf("workspace storage: delete group aliases: %w", err)
		}
	}
	for _, address := range create {
		if err := db.Where("address = ? AND group_id <> ?", address, group.ID).Delete(&models.WorkspaceGroupAlias{}).Error; err != nil {
			return result, fmt.Errorf("workspace storage: release group alias: %w", err)
		}
		alias := models.WorkspaceGroupAlias{GroupID: group.ID, Address: address}
		if err := db.Create(&alias).Error; err != nil {
			return result, classifyWriteError(err, "group alias", address)
		}
	}

	result.Created = create
	result.Deleted = remove
	return result, nil
}

func (s *GormWorkspaceStorage) DeleteSpuriousGroups(ctx context.Context, known []string) (*SyncResult, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	query := db.Model(&models.WorkspaceGroup{})
	if len(known) > 0 {
		query = query.Where("google_id NOT IN ?", known)
	}
	var spurious []models.WorkspaceGroup
	if err := query.Order("email").Find(&spurious).Error; err != nil {
		return nil, fmt.Errorf("workspace storage: find spurious groups: %w", err)
	}
	if len(spurious) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(spurious))
	result := &SyncResult{Event: EventDeleteSpuriousGroups, Target: "groups"}
	for _, group := range spurious {
		s.log.Warn("removing spurious workspace group", zap.String("google_id", group.GoogleID), zap.String("email", group.Email))
		ids = append(ids, group.ID)
		result.Deleted = append(result.Deleted, group.Email)
	}

	if err := db.Where("group_id IN ?", ids).Delete(&models.WorkspaceGroupAlias{}).Error; err != nil {
		return nil, fmt.Errorf("workspace storage: delete spurious group aliases: %w", err)
	}
	if err := db.Where("id IN ?", ids).Delete(&models.WorkspaceGroup{}).Error; err != nil {
		return nil, fmt.Errorf("workspace storage: delete spurious groups: %w", err)
	}
	return result, nil
}

func classifyWriteError(err error, kind, key string) error {
	if database.IsUniqueViolation(err) {
		return apperrors.ErrPrecondition.Withf("%s %s conflicts with an existing row", kind, key).WithInternal(err)
	}
	return fmt.Errorf("workspace storage: write %s %s: %w", kind, key, err)
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var _ WorkspaceStorage = (*GormWorkspaceStorage)(nil)
