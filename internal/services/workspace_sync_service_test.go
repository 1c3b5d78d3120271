package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	testutil "github.com/districtscouts/roster/internal/database/testutil"
	"github.com/districtscouts/roster/internal/models"
	"github.com/districtscouts/roster/internal/workspace"
)

const testDomain = "example.org"

func newTestSyncService(t *testing.T, db *gorm.DB, directory workspace.Directory) *WorkspaceSyncService {
	t.Helper()
	storage, err := NewGormWorkspaceStorage(db, testDomain)
	require.NoError(t, err)
	svc, err := NewWorkspaceSyncService(db, directory, storage, testDomain)
	require.NoError(t, err)
	return svc
}

func TestNewWorkspaceSyncServiceValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	storage, err := NewGormWorkspaceStorage(db, testDomain)
	require.NoError(t, err)
	directory := workspace.NewMemoryDirectory(nil, nil)

	_, err = NewWorkspaceSyncService(nil, directory, storage, testDomain)
	require.Error(t, err)
	_, err = NewWorkspaceSyncService(db, nil, storage, testDomain)
	require.Error(t, err)
	_, err = NewWorkspaceSyncService(db, directory, nil, testDomain)
	require.Error(t, err)
	_, err = NewWorkspaceSyncService(db, directory, storage, " @ ")
	require.Error(t, err)
}

func TestSyncMirrorsAccountsAndPrunes(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	ctx := context.Background()

	stale := models.WorkspaceAccount{GoogleID: "stale", PrimaryEmail: "old.leader@example.org"}
	require.NoError(t, db.Create(&stale).Error)

	directory := workspace.NewMemoryDirectory([]workspace.AccountInfo{
		{ID: "u1", PrimaryEmail: "akela@example.org", Aliases: []string{"cubs@example.org"}},
		{ID: "u2", PrimaryEmail: "baloo@example.org"},
		{ID: "u3", PrimaryEmail: "bagheera@example.org"},
	}, nil)
	svc := newTestSyncService(t, db, directory)

	report, err := svc.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, report.Events(EventUpdateOrCreateAccount), 3)
	require.Len(t, report.Events(EventSyncAccountAliases), 1)

	pruned := report.Events(EventDeleteSpuriousAccounts)
	require.Len(t, pruned, 1)
	require.Equal(t, []string{"old.leader@example.org"}, pruned[0].Deleted)

	var count int64
	require.NoError(t, db.Model(&models.WorkspaceAccount{}).Count(&count).Error)
	require.Equal(t, int64(3), count)

	report, err = svc.Sync(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Results)
}

func TestSyncRollsBackOnStorageFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "people"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	directory := workspace.NewMemoryDirectory([]workspace.AccountInfo{{ID: "u1", PrimaryEmail: "akela@example.org"}}, nil)
	svc := newTestSyncService(t, db, directory)

	_, err = svc.Sync(context.Background())
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

type groupSyncFixture struct {
	db        *gorm.DB
	directory *workspace.MemoryDirectory
	svc       *WorkspaceSyncService
}

// newGroupSyncFixture prepares two mailing groups: "cubs" already exists in the directory with a
// stray member and an owner, "beavers" does not exist yet.
func newGroupSyncFixture(t *testing.T) groupSyncFixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	fixtures := testutil.NewFixtures(t, db)

	akela := fixtures.Person("Akela", "Wolf", "akela.personal@mail.test")
	baloo := fixtures.Person("Baloo", "Bear", "baloo@mail.test")
	require.NoError(t, db.Create(&models.WorkspaceAccount{
		GoogleID:     "u1",
		PrimaryEmail: "akela@example.org",
		PersonID:     &akela.ID,
	}).Error)

	cubs := models.SystemMailingGroup{Name: "cubs", DisplayName: "Cubs", CompositeKey: "a_cubs"}
	beavers := models.SystemMailingGroup{Name: "beavers", DisplayName: "Beavers", CompositeKey: "b_beavers", CanReceiveExternalEmail: true}
	require.NoError(t, db.Create(&cubs).Error)
	require.NoError(t, db.Create(&beavers).Error)
	require.NoError(t, db.Model(&cubs).Association("Members").Append([]models.Person{*akela, *baloo}))
	require.NoError(t, db.Model(&beavers).Association("Members").Append([]models.Person{*akela}))

	directory := workspace.NewMemoryDirectory(nil, []workspace.GroupInfo{
		{ID: "wg-cubs", Email: "cubs@example.org", Name: "Old cubs"},
	})
	directory.SetSettings("cubs@example.org", workspace.GroupSettings{WhoCanPostMessage: workspace.PostAllInDomain})
	directory.SetMembers("cubs@example.org",
		workspace.MemberInfo{ID: "m1", Email: "stranger@example.org", Role: workspace.RoleMember},
		workspace.MemberInfo{ID: "m2", Email: "akela@example.org", Role: workspace.RoleOwner},
	)

	return groupSyncFixture{db: db, directory: directory, svc: newTestSyncService(t, db, directory)}
}

func TestSyncGroupsAppliesChangesInOrder(t *testing.T) {
	f := newGroupSyncFixture(t)

	report, err := f.svc.SyncGroups(context.Background(), false)
	require.NoError(t, err)

	type step struct{ kind, group, member string }
	var steps []step
	for _, mutation := range f.directory.Mutations() {
		steps = append(steps, step{mutation.Kind, mutation.Group, mutation.Member})
	}
	require.Equal(t, []step{
		{"patch_group", "cubs@example.org", ""},
		{"delete_member", "cubs@example.org", "stranger@example.org"},
		{"update_member_role", "cubs@example.org", "akela@example.org"},
		{"insert_member", "cubs@example.org", "baloo@mail.test"},
		{"insert_group", "beavers@example.org", ""},
		{"update_group_settings", "beavers@example.org", ""},
		{"insert_member", "beavers@example.org", "akela@example.org"},
	}, steps)

	settings, err := f.directory.GetGroupSettings(context.Background(), "beavers@example.org")
	require.NoError(t, err)
	require.Equal(t, workspace.PostAnyone, settings.WhoCanPostMessage)

	var linked models.WorkspaceGroup
	require.NoError(t, f.db.Where("google_id = ?", "wg-cubs").Take(&linked).Error)
	require.NotNil(t, linked.SystemMailingGroupID)

	require.Len(t, report.Events(EventCreateDirectoryGroup), 1)
	require.Len(t, report.Events(EventSyncGroupMembers), 2)
}

func TestSyncGroupsIsIdempotent(t *testing.T) {
	f := newGroupSyncFixture(t)
	ctx := context.Background()

	_, err := f.svc.SyncGroups(ctx, false)
	require.NoError(t, err)
	applied := len(f.directory.Mutations())

	report, err := f.svc.SyncGroups(ctx, false)
	require.NoError(t, err)
	require.Len(t, f.directory.Mutations(), applied)
	require.Empty(t, report.Events(EventSyncGroupMembers))
	require.Empty(t, report.Events(EventCreateDirectoryGroup))
}

func TestSyncGroupsDryRunWritesNothing(t *testing.T) {
	f := newGroupSyncFixture(t)

	report, err := f.svc.SyncGroups(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, f.directory.Mutations())

	created := report.Events(EventCreateDirectoryGroup)
	require.Len(t, created, 1)
	require.True(t, created[0].DryRun)
	require.Equal(t, "beavers@example.org", created[0].Target)

	members := report.Events(EventSyncGroupMembers)
	require.Len(t, members, 2)
	require.Equal(t, []string{"stranger@example.org"}, members[0].Deleted)
	require.Equal(t, []string{"akela@example.org"}, members[0].Updated)
	require.Equal(t, []string{"baloo@mail.test"}, members[0].Created)

	var mirrored int64
	require.NoError(t, f.db.Model(&models.WorkspaceGroup{}).Count(&mirrored).Error)
	require.Equal(t, int64(1), mirrored)
}
