// Package scheduler runs batch jobs under the run lock, on demand or on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/districtscouts/roster/internal/lock"
	"github.com/districtscouts/roster/internal/services"
	"github.com/districtscouts/roster/pkg/logger"
	"github.com/districtscouts/roster/pkg/metrics"
)

// Triggers recorded in the audit trail.
const (
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
)

// Task performs one job and returns the metadata to audit.
type Task func(ctx context.Context) (map[string]any, error)

// Job binds a task to a cron spec. An empty Spec keeps the job out of the cron schedule but
// RunOnce still executes it.
type Job struct {
	Name string
	Spec string
	Task Task
}

// Runner executes tasks under the run lock, recording metrics and an audit row per run.
type Runner struct {
	locker lock.Locker
	audit  *services.AuditService
	ttl    time.Duration
	log    *zap.Logger

	onSuccess func(ctx context.Context, job string, at time.Time) error
}

func NewRunner(locker lock.Locker, audit *services.AuditService, ttl time.Duration) *Runner {
	return &Runner{
		locker: locker,
		audit:  audit,
		ttl:    ttl,
		log:    logger.WithModule("scheduler"),
	}
}

// OnSuccess registers fn to be called after each successful run.
func (r *Runner) OnSuccess(fn func(ctx context.Context, job string, at time.Time) error) *Runner {
	r.onSuccess = fn
	return r
}

// Execute runs task as job name. A held lock surfaces as lock.ErrLocked.
func (r *Runner) Execute(ctx context.Context, name, trigger string, task Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()

	var metadata map[string]any
	err := lock.Run(ctx, r.locker, lock.DefaultKey, r.ttl, func(ctx context.Context) error {
		var taskErr error
		metadata, taskErr = task(ctx)
		return taskErr
	})

	result := services.AuditResultSuccess
	switch {
	case errors.Is(err, lock.ErrLocked):
		result = services.AuditResultLocked
		r.log.Warn("job skipped: another run holds the lock", zap.String("job", name))
	case err != nil:
		result = services.AuditResultFailure
		r.log.Error("job failed", zap.String("job", name), zap.Error(err))
	default:
		r.log.Info("job finished", zap.String("job", name), zap.Duration("duration", time.Since(started)))
		if r.onSuccess != nil {
			if hookErr := r.onSuccess(ctx, name, time.Now()); hookErr != nil {
				r.log.Warn("failed to record job success", zap.String("job", name), zap.Error(hookErr))
			}
		}
	}
	metrics.JobRuns.WithLabelValues(name, result).Inc()
	metrics.JobDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())

	services.RecordRun(ctx, r.audit, name, trigger, started, metadata, err)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Scheduler registers jobs with cron.
type Scheduler struct {
	runner *Runner
	jobs   []Job
	cron   *cron.Cron
	log    *zap.Logger
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

func New(runner *Runner, jobs []Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner: runner,
		jobs:   jobs,
		log:    logger.WithModule("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Start registers every job with a spec and launches cron. It fails on the first invalid spec
// without starting anything.
func (s *Scheduler) Start() error {
	for _, job := range s.jobs {
		if job.Spec == "" {
			s.log.Info("job not scheduled", zap.String("job", job.Name))
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.Spec, func() {
			_ = s.runner.Execute(context.Background(), job.Name, TriggerSchedule, job.Task)
		}); err != nil {
			return fmt.Errorf("scheduler: job %s: invalid spec %q: %w", job.Name, job.Spec, err)
		}
		s.log.Info("job scheduled", zap.String("job", job.Name), zap.String("spec", job.Spec))
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler; the returned context is done once running jobs complete.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce executes every job sequentially, continuing past failures, and returns the
// combined error.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) error {
	var errs error
	for _, job := range s.jobs {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, s.runner.Execute(ctx, job.Name, trigger, job.Task))
	}
	return errs
}
