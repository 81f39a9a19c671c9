package academic

import (
	"context"
	"time"
)

// Repository is a read-only view over the academic application's tables.
type Repository interface {
	GetActivity(ctx context.Context, id string) (Activity, error)
	ActivitiesDueBetween(ctx context.Context, from, to time.Time) ([]Activity, error)
	// PendingStudents returns assigned students without a submitted or graded delivery
	PendingStudents(ctx context.Context, activityID string) ([]string, error)

	CohortStudents(ctx context.Context, cohortID string) ([]string, error)
	StudentInstructors(ctx context.Context, studentID string) ([]string, error)
	ActiveStudents(ctx context.Context) ([]string, error)

	AttendanceSummary(ctx context.Context, studentID string, since, until time.Time) (AttendanceSummary, error)
	GradeSummary(ctx context.Context, studentID string, since, until time.Time) (GradeSummary, error)
}
