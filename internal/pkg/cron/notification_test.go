package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/config"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobsNow = time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC)

type fakeAcademic struct {
	academic.Repository

	activities []academic.Activity
	students   []string
	err        error
	from, to   time.Time
}

func (f *fakeAcademic) ActivitiesDueBetween(ctx context.Context, from, to time.Time) ([]academic.Activity, error) {
	f.from, f.to = from, to
	return f.activities, f.err
}

func (f *fakeAcademic) ActiveStudents(ctx context.Context) ([]string, error) {
	return f.students, f.err
}

type fakeService struct {
	notification.Service

	mu         sync.Mutex
	reminded   []string
	performed  []string
	attendance []string
	failFor    map[string]error
	purgedDays int
	since      time.Time
	delivery   notification.DeliveryResult

	// purgeStarted and purgeRelease hold PurgeOlderThan open when set
	purgeStarted chan struct{}
	purgeRelease chan struct{}
}

func (f *fakeService) SendReminder(ctx context.Context, activity academic.Activity) (*notification.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reminded = append(f.reminded, activity.ID)
	if err := f.failFor[activity.ID]; err != nil {
		return nil, err
	}
	if activity.Title == "partial" {
		return &notification.BulkResult{Total: 3, Sent: 2, Failed: 1}, nil
	}
	return &notification.BulkResult{Total: 1, Sent: 1}, nil
}

func (f *fakeService) CheckLowPerformance(ctx context.Context, studentID string) ([]*notification.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.performed = append(f.performed, studentID)
	return nil, f.failFor[studentID]
}

func (f *fakeService) OnAttendanceRecorded(ctx context.Context, studentID string) ([]*notification.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attendance = append(f.attendance, studentID)
	return nil, nil
}

func (f *fakeService) PurgeOlderThan(ctx context.Context, ageDays int) (int64, error) {
	if ageDays <= 0 {
		return 0, notification.ErrInvalidArgument
	}
	if f.purgeStarted != nil {
		close(f.purgeStarted)
		<-f.purgeRelease
	}
	f.purgedDays = ageDays
	return 7, nil
}

func (f *fakeService) DeliverPending(ctx context.Context, since time.Time) (*notification.DeliveryResult, error) {
	f.since = since
	result := f.delivery
	return &result, nil
}

func newTestJobs() (*NotificationJobs, *fakeService, *fakeAcademic) {
	svc := &fakeService{failFor: make(map[string]error)}
	repo := &fakeAcademic{}
	jobs := NewNotificationJobs(svc, repo, config.NotificationConfig{
		ReminderLookahead: 48 * time.Hour,
		RetentionDays:     30,
		SweepWorkers:      3,
		RetryLookback:     8 * 24 * time.Hour,
		ReminderInterval:  time.Hour,
		SweepInterval:     time.Hour,
		CleanupInterval:   time.Hour,
		RetryInterval:     time.Hour,
	})
	jobs.now = func() time.Time { return jobsNow }
	return jobs, svc, repo
}

func TestRunReminders(t *testing.T) {
	ctx := context.Background()

	t.Run("isolates failing activities", func(t *testing.T) {
		jobs, svc, repo := newTestJobs()
		repo.activities = []academic.Activity{
			{ID: "act-1"},
			{ID: "act-2"},
			{ID: "act-3", Title: "partial"},
		}
		svc.failFor["act-2"] = errors.New("database down")

		report, err := jobs.RunReminders(ctx)
		require.NoError(t, err)

		assert.Equal(t, jobsNow, repo.from)
		assert.Equal(t, jobsNow.Add(48*time.Hour), repo.to)
		assert.ElementsMatch(t, []string{"act-1", "act-2", "act-3"}, svc.reminded)

		assert.Equal(t, TaskReminders, report.Task)
		assert.Equal(t, 3, report.Processed)
		assert.Equal(t, 1, report.Succeeded)
		assert.Equal(t, 2, report.Failed)
		assert.Len(t, report.Errors, 2)
		assert.Error(t, report.Err())
	})

	t.Run("listing failure aborts the run", func(t *testing.T) {
		jobs, _, repo := newTestJobs()
		repo.err = errors.New("connection refused")

		_, err := jobs.RunReminders(ctx)
		assert.Error(t, err)
	})
}

func TestRunPerformanceSweep(t *testing.T) {
	jobs, svc, repo := newTestJobs()
	repo.students = []string{"stu-1", "stu-2", "stu-3", "stu-4"}
	svc.failFor["stu-2"] = errors.New("timeout")

	report, err := jobs.RunPerformanceSweep(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, repo.students, svc.performed)
	assert.ElementsMatch(t, repo.students, svc.attendance)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 3, report.Succeeded)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "stu-2", report.Errors[0].EntityID)
}

func TestRunCleanup(t *testing.T) {
	jobs, svc, _ := newTestJobs()

	report, err := jobs.RunCleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 30, svc.purgedDays)
	assert.Equal(t, int64(7), report.Affected)
	assert.NoError(t, report.Err())

	_, err = jobs.RunCleanup(context.Background(), 0)
	assert.ErrorIs(t, err, notification.ErrInvalidArgument)
}

func TestRunDeliveryRetry(t *testing.T) {
	jobs, svc, _ := newTestJobs()
	svc.delivery = notification.DeliveryResult{Attempted: 5, Delivered: 3, Deferred: 1}

	report, err := jobs.RunDeliveryRetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobsNow.Add(-8*24*time.Hour), svc.since)
	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, int64(3), report.Affected)
}

func TestRunDeliveryRetry_LookbackCoversAWeek(t *testing.T) {
	jobs, svc, _ := newTestJobs()
	jobs.cfg.RetryLookback = 24 * time.Hour

	_, err := jobs.RunDeliveryRetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobsNow.Add(-config.MinRetryLookback), svc.since)
}

func TestRunTask(t *testing.T) {
	ctx := context.Background()

	t.Run("all runs every task", func(t *testing.T) {
		jobs, _, _ := newTestJobs()

		reports, err := jobs.RunTask(ctx, TaskAll, 60)
		require.NoError(t, err)
		require.Len(t, reports, 4)

		tasks := make([]string, len(reports))
		for i, r := range reports {
			tasks[i] = r.Task
		}
		assert.Equal(t, []string{TaskReminders, TaskPerformance, TaskCleanup, TaskRetry}, tasks)
	})

	t.Run("a failing task does not stop the others", func(t *testing.T) {
		jobs, _, _ := newTestJobs()

		reports, err := jobs.RunAll(ctx, 0)
		assert.ErrorIs(t, err, notification.ErrInvalidArgument)
		assert.Len(t, reports, 3)
	})

	t.Run("unknown task", func(t *testing.T) {
		jobs, _, _ := newTestJobs()

		_, err := jobs.RunTask(ctx, "reindex", 30)
		assert.ErrorIs(t, err, ErrUnknownTask)
	})
}

func TestRegisterJobs(t *testing.T) {
	jobs, svc, repo := newTestJobs()
	repo.students = []string{"stu-1"}
	svc.failFor["stu-1"] = errors.New("timeout")

	scheduler := NewScheduler()
	jobs.RegisterJobs(scheduler)

	fns := make(map[string]func(ctx context.Context) error)
	var names []string
	for _, job := range scheduler.jobs {
		names = append(names, job.Name)
		fns[job.Name] = job.Fn
	}
	assert.Equal(t, []string{TaskReminders, TaskPerformance, TaskCleanup, TaskRetry}, names)

	assert.NoError(t, fns[TaskCleanup](context.Background()))
	assert.Equal(t, 30, svc.purgedDays)
	assert.Error(t, fns[TaskPerformance](context.Background()))
}

func TestRunTask_NoConcurrentRunsOfATask(t *testing.T) {
	ctx := context.Background()
	jobs, svc, _ := newTestJobs()
	svc.purgeStarted = make(chan struct{})
	svc.purgeRelease = make(chan struct{})

	scheduler := NewScheduler()
	jobs.RegisterJobs(scheduler)
	var scheduledCleanup func(ctx context.Context) error
	for _, job := range scheduler.jobs {
		if job.Name == TaskCleanup {
			scheduledCleanup = job.Fn
		}
	}
	require.NotNil(t, scheduledCleanup)

	done := make(chan error)
	go func() {
		_, err := jobs.RunTask(ctx, TaskCleanup, 45)
		done <- err
	}()
	<-svc.purgeStarted

	_, err := jobs.RunTask(ctx, TaskCleanup, 45)
	assert.ErrorIs(t, err, ErrTaskRunning)

	// the scheduled tick is skipped, not reported as a failure
	assert.NoError(t, scheduledCleanup(ctx))

	// other tasks are not blocked
	_, err = jobs.RunTask(ctx, TaskRetry, 0)
	assert.NoError(t, err)

	close(svc.purgeRelease)
	require.NoError(t, <-done)
	assert.Equal(t, 45, svc.purgedDays)

	svc.purgeStarted = nil
	_, err = jobs.RunTask(ctx, TaskCleanup, 30)
	assert.NoError(t, err)
}
