package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/districtscouts/roster/internal/models"
)

func TestAutoMigrateCreatesHierarchyTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.District{},
		&models.Group{},
		&models.Section{},
		&models.TeamType{},
		&models.Team{},
		&models.Role{},
		&models.Accreditation{},
	}

	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
}

func TestAutoMigrateCreatesMailingTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.SystemMailingGroup{},
		&models.GroupSectionMailingPreference{},
		&models.WorkspaceAccount{},
		&models.WorkspaceAccountAlias{},
		&models.WorkspaceGroup{},
		&models.WorkspaceGroupAlias{},
	}

	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
	require.True(t, migrator.HasTable("system_mailing_group_members"))
	require.True(t, migrator.HasIndex(&models.SystemMailingGroup{}, "CompositeKey"))
}
