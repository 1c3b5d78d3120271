package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/districtscouts/roster/internal/models"
)

const lastRunSettingPrefix = "jobs.last_success."

// keyIs matches the settings primary key. The column is quoted because KEY is reserved in MySQL.
func keyIs(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

// GetSystemSetting returns the value stored under key, or "" when it is unset.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", errors.New("system settings: db is nil")
	}

	var setting models.SystemSetting
	switch err := db.WithContext(ctx).Where(keyIs(key)).Take(&setting).Error; {
	case err == nil:
		return setting.Value, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("system settings: get %q: %w", key, err)
	}
}

// UpsertSystemSetting writes value under key in a single statement.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return errors.New("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("system settings: key is required")
	}

	setting := models.SystemSetting{Key: key, Value: value}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}
	return nil
}

// RecordJobSuccess stores the completion time of a batch job.
func RecordJobSuccess(ctx context.Context, db *gorm.DB, job string, at time.Time) error {
	job = strings.TrimSpace(job)
	if job == "" {
		return errors.New("system settings: job name is required")
	}
	return UpsertSystemSetting(ctx, db, lastRunSettingPrefix+job, at.UTC().Format(time.RFC3339))
}

// LastJobSuccess returns when job last completed, or the zero time if it never has.
func LastJobSuccess(ctx context.Context, db *gorm.DB, job string) (time.Time, error) {
	value, err := GetSystemSetting(ctx, db, lastRunSettingPrefix+strings.TrimSpace(job))
	if err != nil || value == "" {
		return time.Time{}, err
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("system settings: parse last run of %q: %w", job, err)
	}
	return at, nil
}
