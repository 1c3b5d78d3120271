package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/districtscouts/roster/internal/database/testutil"
	"github.com/districtscouts/roster/internal/lock"
	"github.com/districtscouts/roster/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()

	err = svc.Log(ctx, AuditEntry{
		Action:   "sync-workspace",
		Result:   AuditResultSuccess,
		Trigger:  "cli",
		Duration: 2 * time.Second,
		Metadata: map[string]any{"accounts": 3},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Log(ctx, AuditEntry{
		Action:  "import-tsa",
		Result:  AuditResultFailure,
		Trigger: "schedule",
		Err:     errors.New("tsa unavailable"),
	}))

	logs, total, err := svc.List(ctx, AuditListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, logs, 2)

	logs, total, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{Trigger: "cli"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "sync-workspace", logs[0].Action)
	require.Equal(t, 2*time.Second, logs[0].Duration)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal([]byte(logs[0].Metadata), &metadata))
	require.EqualValues(t, 3, metadata["accounts"])

	logs, _, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{Result: AuditResultFailure}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "tsa unavailable", logs[0].Error)
	require.Equal(t, "{}", logs[0].Metadata)
}

func TestAuditServiceLogValidation(t *testing.T) {
	svc, err := NewAuditService(testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()))
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: AuditResultSuccess}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: "import-tsa"}))

	_, err = NewAuditService(nil)
	require.Error(t, err)
}

func TestAuditServiceListPagination(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&models.AuditLog{
			Action:    fmt.Sprintf("run-%d", i),
			Result:    AuditResultSuccess,
			Metadata:  "{}",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	logs, total, err := svc.List(context.Background(), AuditListOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, logs, 2)
	require.Equal(t, "run-2", logs[0].Action)
	require.Equal(t, "run-1", logs[1].Action)

	since := base.Add(3 * time.Minute)
	_, total, err = svc.List(context.Background(), AuditListOptions{Filters: AuditFilters{Since: &since}})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.AuditLog{
		Action:    "old.action",
		Result:    AuditResultSuccess,
		Metadata:  "{}",
		CreatedAt: time.Now().AddDate(0, 0, -10),
	}).Error)
	require.NoError(t, svc.Log(context.Background(), AuditEntry{Action: "new.action", Result: AuditResultSuccess}))

	rows, err := svc.CleanupOlderThan(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}

func TestRecordRunResults(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()
	started := time.Now()

	RecordRun(ctx, svc, "sync-workspace", "cli", started, nil, nil)
	RecordRun(ctx, svc, "import-tsa", "schedule", started, nil, errors.New("boom"))
	RecordRun(ctx, svc, "import-tsa", "schedule", started, nil, fmt.Errorf("import-tsa: %w", lock.ErrLocked))
	RecordRun(ctx, nil, "ignored", "cli", started, nil, nil)

	for result, want := range map[string]int64{
		AuditResultSuccess: 1,
		AuditResultFailure: 1,
		AuditResultLocked:  1,
	} {
		_, total, err := svc.List(ctx, AuditListOptions{Filters: AuditFilters{Result: result}})
		require.NoError(t, err)
		require.Equal(t, want, total, result)
	}
}
