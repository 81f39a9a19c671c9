package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/config"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
)

const (
	TaskReminders   = "reminders"
	TaskPerformance = "performance"
	TaskCleanup     = "cleanup"
	TaskRetry       = "retry"
	TaskAll         = "all"
)

var (
	ErrUnknownTask = errors.New("unknown maintenance task")
	ErrTaskRunning = errors.New("maintenance task already running")
)

type NotificationJobs struct {
	notificationSvc notification.Service
	academicRepo    academic.Repository
	cfg             config.NotificationConfig
	now             func() time.Time

	// one lock per task, shared by scheduled and on-demand runs
	locks map[string]*sync.Mutex
}

func NewNotificationJobs(
	notificationSvc notification.Service,
	academicRepo academic.Repository,
	cfg config.NotificationConfig,
) *NotificationJobs {
	return &NotificationJobs{
		notificationSvc: notificationSvc,
		academicRepo:    academicRepo,
		cfg:             cfg,
		now:             time.Now,
		locks: map[string]*sync.Mutex{
			TaskReminders:   {},
			TaskPerformance: {},
			TaskCleanup:     {},
			TaskRetry:       {},
		},
	}
}

// exclusive refuses to start task while another run of it is in progress
func (j *NotificationJobs) exclusive(task string, run func(ctx context.Context) (*Report, error)) func(ctx context.Context) (*Report, error) {
	return func(ctx context.Context) (*Report, error) {
		lock := j.locks[task]
		if !lock.TryLock() {
			return nil, fmt.Errorf("%w: %s", ErrTaskRunning, task)
		}
		defer lock.Unlock()
		return run(ctx)
	}
}

func (j *NotificationJobs) cleanup(days int) func(ctx context.Context) (*Report, error) {
	return func(ctx context.Context) (*Report, error) {
		return j.RunCleanup(ctx, days)
	}
}

func (j *NotificationJobs) RegisterJobs(scheduler *Scheduler) {
	scheduler.AddJob(TaskReminders, j.cfg.ReminderInterval, j.job(TaskReminders, j.RunReminders))
	scheduler.AddJob(TaskPerformance, j.cfg.SweepInterval, j.job(TaskPerformance, j.RunPerformanceSweep))
	scheduler.AddJob(TaskCleanup, j.cfg.CleanupInterval, j.job(TaskCleanup, j.cleanup(j.cfg.RetentionDays)))
	scheduler.AddJob(TaskRetry, j.cfg.RetryInterval, j.job(TaskRetry, j.RunDeliveryRetry))
}

func (j *NotificationJobs) job(task string, run func(ctx context.Context) (*Report, error)) func(ctx context.Context) error {
	run = j.exclusive(task, run)
	return func(ctx context.Context) error {
		report, err := run(ctx)
		if errors.Is(err, ErrTaskRunning) {
			slog.Warn("Maintenance task already running, skipping tick", "task", task)
			return nil
		}
		if err != nil {
			return err
		}
		return report.Err()
	}
}

// RunReminders sends reminders for every open activity due within the lookahead
func (j *NotificationJobs) RunReminders(ctx context.Context) (*Report, error) {
	now := j.now()
	report := newReport(TaskReminders, now)

	activities, err := j.academicRepo.ActivitiesDueBetween(ctx, now, now.Add(j.cfg.ReminderLookahead))
	if err != nil {
		return nil, fmt.Errorf("failed to list due activities: %w", err)
	}

	byID := make(map[string]academic.Activity, len(activities))
	ids := make([]string, 0, len(activities))
	for _, a := range activities {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	forEach(ctx, ids, j.cfg.SweepWorkers, report, func(ctx context.Context, id string) error {
		result, err := j.notificationSvc.SendReminder(ctx, byID[id])
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			return fmt.Errorf("failed to remind %d of %d students", result.Failed, result.Total)
		}
		return nil
	})

	return report.finish(j.now()), nil
}

// RunPerformanceSweep evaluates grades and attendance of every active student
func (j *NotificationJobs) RunPerformanceSweep(ctx context.Context) (*Report, error) {
	report := newReport(TaskPerformance, j.now())

	students, err := j.academicRepo.ActiveStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active students: %w", err)
	}

	forEach(ctx, students, j.cfg.SweepWorkers, report, func(ctx context.Context, studentID string) error {
		_, perfErr := j.notificationSvc.CheckLowPerformance(ctx, studentID)
		_, absErr := j.notificationSvc.OnAttendanceRecorded(ctx, studentID)
		return errors.Join(perfErr, absErr)
	})

	return report.finish(j.now()), nil
}

// RunCleanup purges notifications older than ageDays
func (j *NotificationJobs) RunCleanup(ctx context.Context, ageDays int) (*Report, error) {
	report := newReport(TaskCleanup, j.now())

	deleted, err := j.notificationSvc.PurgeOlderThan(ctx, ageDays)
	if err != nil {
		return nil, fmt.Errorf("failed to purge notifications: %w", err)
	}
	report.record("notifications", nil)
	report.Affected = deleted

	return report.finish(j.now()), nil
}

// RunDeliveryRetry retries delivery of notifications that were never sent,
// looking back at least a full week of active days
func (j *NotificationJobs) RunDeliveryRetry(ctx context.Context) (*Report, error) {
	now := j.now()
	report := newReport(TaskRetry, now)

	lookback := max(j.cfg.RetryLookback, config.MinRetryLookback)
	result, err := j.notificationSvc.DeliverPending(ctx, now.Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("failed to deliver pending notifications: %w", err)
	}

	// deferred notifications are not failures, they wait for the delivery window
	report.Processed = result.Attempted
	report.Succeeded = result.Delivered + result.Deferred
	report.Failed = result.Attempted - report.Succeeded
	report.Affected = int64(result.Delivered)

	return report.finish(j.now()), nil
}

// RunTask runs one task by name, or every task for TaskAll
func (j *NotificationJobs) RunTask(ctx context.Context, task string, cleanupDays int) ([]*Report, error) {
	switch task {
	case TaskReminders:
		return single(j.exclusive(task, j.RunReminders)(ctx))
	case TaskPerformance:
		return single(j.exclusive(task, j.RunPerformanceSweep)(ctx))
	case TaskCleanup:
		return single(j.exclusive(task, j.cleanup(cleanupDays))(ctx))
	case TaskRetry:
		return single(j.exclusive(task, j.RunDeliveryRetry)(ctx))
	case TaskAll:
		return j.RunAll(ctx, cleanupDays)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTask, task)
}

// RunAll runs every task in order; a failing task does not stop the next one
func (j *NotificationJobs) RunAll(ctx context.Context, cleanupDays int) ([]*Report, error) {
	runs := []func(ctx context.Context) (*Report, error){
		j.exclusive(TaskReminders, j.RunReminders),
		j.exclusive(TaskPerformance, j.RunPerformanceSweep),
		j.exclusive(TaskCleanup, j.cleanup(cleanupDays)),
		j.exclusive(TaskRetry, j.RunDeliveryRetry),
	}

	var (
		reports []*Report
		errs    []error
	)
	for _, run := range runs {
		report, err := run(ctx)
		if err != nil {
			slog.Error("Maintenance task failed", "error", err)
			errs = append(errs, err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

func single(report *Report, err error) ([]*Report, error) {
	if err != nil {
		return nil, err
	}
	return []*Report{report}, nil
}
