package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/models"
)

func TestIsUniqueViolation(t *testing.T) {
	require.False(t, IsUniqueViolation(nil))
	require.False(t, IsUniqueViolation(errors.New("duplicate entry in a log message")))
	require.True(t, IsUniqueViolation(fmt.Errorf("write: %w", gorm.ErrDuplicatedKey)))
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.True(t, IsUniqueViolation(&mysql.MySQLError{Number: 1062}))
	require.False(t, IsUniqueViolation(&mysql.MySQLError{Number: 1452}))
}

func TestIsUniqueViolationOnSQLite(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: "file:unique_violation?mode=memory&cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	require.NoError(t, db.AutoMigrate(&models.RunLock{}))

	require.NoError(t, db.Create(&models.RunLock{Key: "k", Owner: "a"}).Error)
	err = db.Create(&models.RunLock{Key: "k", Owner: "b"}).Error
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))
}
