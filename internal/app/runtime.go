package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/app/scheduler"
	"github.com/districtscouts/roster/internal/database"
	"github.com/districtscouts/roster/internal/lock"
	"github.com/districtscouts/roster/internal/mailgroups"
	"github.com/districtscouts/roster/internal/services"
	"github.com/districtscouts/roster/internal/tsa"
	"github.com/districtscouts/roster/internal/waitinglist"
	"github.com/districtscouts/roster/internal/workspace"
	"github.com/districtscouts/roster/pkg/logger"
)

// Runtime bundles the long-lived dependencies shared by commands and scheduled jobs.
type Runtime struct {
	Config *Config
	DB     *gorm.DB
	Locker lock.Locker
	Audit  *services.AuditService
	Runner *scheduler.Runner

	directory workspace.Directory
	tsaSource tsa.Source
	closers   []func() error
	log       *zap.Logger
}

// RuntimeOption customises NewRuntime, primarily for tests.
type RuntimeOption func(*Runtime)

// WithDB uses an already opened database instead of the configured one.
func WithDB(db *gorm.DB) RuntimeOption {
	return func(r *Runtime) { r.DB = db }
}

// WithDirectory replaces the Google Workspace client.
func WithDirectory(directory workspace.Directory) RuntimeOption {
	return func(r *Runtime) { r.directory = directory }
}

// WithTSASource replaces the TSA API client.
func WithTSASource(source tsa.Source) RuntimeOption {
	return func(r *Runtime) { r.tsaSource = source }
}

// NewRuntime opens the database, applies migrations and builds the lock and audit services.
func NewRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, errors.New("runtime: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, log: logger.WithModule("bootstrap")}
	for _, opt := range opts {
		opt(rt)
	}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if rt.DB == nil {
		db, err := database.Open(cfg.Database.Connection())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		rt.DB = db
		rt.closers = append(rt.closers, func() error { return database.Close(db) })
	}
	if err := database.AutoMigrateAndSeed(rt.DB); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	switch strings.ToLower(cfg.Lock.Backend) {
	case "redis":
		locker, err := lock.NewRedisLocker(ctx, cfg.Lock.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.Locker = locker
		rt.closers = append(rt.closers, locker.Close)
	default:
		rt.Locker = lock.NewDatabaseLocker(rt.DB)
	}

	rt.Audit, err = services.NewAuditService(rt.DB)
	if err != nil {
		return nil, err
	}
	db := rt.DB
	rt.Runner = scheduler.NewRunner(rt.Locker, rt.Audit, cfg.Lock.TTL).
		OnSuccess(func(ctx context.Context, job string, at time.Time) error {
			return database.RecordJobSuccess(ctx, db, job, at)
		})

	rt.log.Info("runtime ready",
		zap.String("database", cfg.Database.Connection().Driver),
		zap.String("lock", cfg.Lock.Backend),
	)
	return rt, nil
}

// Close releases connections in reverse order of acquisition.
func (r *Runtime) Close() error {
	var errs error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, r.closers[i]())
	}
	r.closers = nil
	return errs
}

func (r *Runtime) workspaceDirectory(ctx context.Context) (workspace.Directory, error) {
	if r.directory != nil {
		return r.directory, nil
	}
	directory, err := workspace.NewGoogleDirectory(ctx, r.Config.Workspace.ClientConfig())
	if err != nil {
		return nil, err
	}
	r.directory = directory
	return directory, nil
}

func (r *Runtime) syncService(ctx context.Context) (*services.WorkspaceSyncService, error) {
	directory, err := r.workspaceDirectory(ctx)
	if err != nil {
		return nil, err
	}
	storage, err := services.NewGormWorkspaceStorage(r.DB, r.Config.Workspace.Domain)
	if err != nil {
		return nil, err
	}
	return services.NewWorkspaceSyncService(r.DB, directory, storage, r.Config.Workspace.Domain)
}

// ImportTSA mirrors the district from the TSA API.
func (r *Runtime) ImportTSA(ctx context.Context) (tsa.ImportReport, error) {
	source := r.tsaSource
	if source == nil {
		client, err := tsa.NewClient(r.Config.TSA.ClientConfig())
		if err != nil {
			return tsa.ImportReport{}, err
		}
		source = client
	}
	importer, err := tsa.NewImporter(r.DB, source)
	if err != nil {
		return tsa.ImportReport{}, err
	}
	return importer.Import(ctx)
}

// MailingGroupsReport is the combined outcome of a catalog build and member update.
type MailingGroupsReport struct {
	Catalog mailgroups.CatalogReport
	Members mailgroups.MemberReport
}

// Summary flattens the report for audit metadata.
func (r MailingGroupsReport) Summary() map[string]any {
	return map[string]any{
		"created":         len(r.Catalog.Created),
		"updated":         len(r.Catalog.Updated),
		"unchanged":       len(r.Catalog.Unchanged),
		"deleted":         len(r.Catalog.Deleted),
		"members_changed": len(r.Members.Changed()),
	}
}

// String renders the catalog counts followed by one line per group whose members moved.
func (r MailingGroupsReport) String() string {
	var b strings.Builder
	b.WriteString(r.Catalog.String())
	for _, change := range r.Members.Changed() {
		fmt.Fprintf(&b, "\n%s: +%d -%d (%d members)", change.CompositeKey, change.Added, change.Removed, change.Total)
	}
	return b.String()
}

// UpdateMailingGroups rebuilds the catalog, then recomputes every group's members.
func (r *Runtime) UpdateMailingGroups(ctx context.Context) (MailingGroupsReport, error) {
	var report MailingGroupsReport
	builder, err := mailgroups.NewCatalogBuilder(r.DB)
	if err != nil {
		return report, err
	}
	if report.Catalog, err = builder.Build(ctx); err != nil {
		return report, err
	}
	updater, err := mailgroups.NewMemberUpdater(r.DB)
	if err != nil {
		return report, err
	}
	report.Members, err = updater.UpdateAll(ctx)
	return report, err
}

// SyncWorkspace mirrors directory accounts.
func (r *Runtime) SyncWorkspace(ctx context.Context) (services.SyncReport, error) {
	svc, err := r.syncService(ctx)
	if err != nil {
		return services.SyncReport{}, err
	}
	return svc.Sync(ctx)
}

// SyncWorkspaceGroups pushes mailing groups to the directory.
func (r *Runtime) SyncWorkspaceGroups(ctx context.Context, dryRun bool) (services.SyncReport, error) {
	svc, err := r.syncService(ctx)
	if err != nil {
		return services.SyncReport{}, err
	}
	return svc.SyncGroups(ctx, dryRun)
}

// ImportWaitingList replaces the waiting list with the rows of the workbook at path.
func (r *Runtime) ImportWaitingList(ctx context.Context, path string) (waitinglist.ImportReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return waitinglist.ImportReport{}, fmt.Errorf("open waiting list: %w", err)
	}
	defer f.Close()

	importer, err := waitinglist.NewImporter(r.DB)
	if err != nil {
		return waitinglist.ImportReport{}, err
	}
	return importer.Import(ctx, f)
}

// LastSuccess reports when job last completed successfully; zero if never.
func (r *Runtime) LastSuccess(ctx context.Context, job string) (time.Time, error) {
	return database.LastJobSuccess(ctx, r.DB, job)
}

// Jobs lists the scheduled jobs in dependency order.
func (r *Runtime) Jobs() []scheduler.Job {
	schedule := r.Config.Schedule
	return []scheduler.Job{
		{Name: "import-tsa", Spec: schedule.ImportTSA, Task: func(ctx context.Context) (map[string]any, error) {
			report, err := r.ImportTSA(ctx)
			return report.Summary(), err
		}},
		{Name: "update-mailing-groups", Spec: schedule.UpdateMailGroups, Task: func(ctx context.Context) (map[string]any, error) {
			report, err := r.UpdateMailingGroups(ctx)
			return report.Summary(), err
		}},
		{Name: "sync-workspace", Spec: schedule.SyncWorkspace, Task: func(ctx context.Context) (map[string]any, error) {
			report, err := r.SyncWorkspace(ctx)
			return report.Summary(), err
		}},
		{Name: "sync-workspace-groups", Spec: schedule.SyncGroups, Task: func(ctx context.Context) (map[string]any, error) {
			report, err := r.SyncWorkspaceGroups(ctx, false)
			return report.Summary(), err
		}},
		{Name: "audit-retention", Spec: schedule.AuditRetention, Task: func(ctx context.Context) (map[string]any, error) {
			if schedule.AuditRetentionDays <= 0 {
				return nil, nil
			}
			removed, err := r.Audit.CleanupOlderThan(ctx, schedule.AuditRetentionDays)
			return map[string]any{"removed": removed}, err
		}},
	}
}
