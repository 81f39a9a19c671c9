package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/cooldown"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/metrics"
)

const dateLayout = "02/01/2006 15:04"

// draft is a notification about to be created for one recipient
type draft struct {
	recipientID string
	kind        notification.Kind
	title       string
	body        string
	ref         *notification.Reference
	data        map[string]interface{}

	// dedupSince skips the draft when a notification of the same kind and
	// reference exists for the recipient since that instant
	dedupSince *time.Time
	// cooldown guards the dedup probe against concurrent evaluations
	cooldown time.Duration
}

type emitResult int

const (
	emitCreated emitResult = iota
	emitDisabled
	emitDuplicate
)

func (r emitResult) String() string {
	switch r {
	case emitDisabled:
		return "disabled"
	case emitDuplicate:
		return "duplicate"
	}
	return "created"
}

// emit checks preferences and deduplication, creates the notification and
// attempts delivery. Delivery problems never fail the emission.
func (s *service) emit(ctx context.Context, d draft) (*notification.Notification, emitResult, error) {
	enabled, err := s.prefRepo.IsEnabled(ctx, d.recipientID, d.kind)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to check preference: %w", err)
	}
	if !enabled {
		metrics.RecordSkipped(string(d.kind), emitDisabled.String())
		return nil, emitDisabled, nil
	}

	if d.dedupSince != nil && d.ref != nil {
		exists, err := s.repo.ExistsSince(ctx, d.recipientID, d.kind, *d.ref, *d.dedupSince)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to check duplicates: %w", err)
		}
		if exists {
			metrics.RecordSkipped(string(d.kind), emitDuplicate.String())
			return nil, emitDuplicate, nil
		}
	}

	var cooldownKey string
	if d.cooldown > 0 && d.ref != nil && s.cooldown != nil {
		cooldownKey = cooldown.Key(string(d.kind), d.recipientID, d.ref.ID)
		if !s.cooldown.Acquire(ctx, cooldownKey, d.cooldown) {
			metrics.RecordSkipped(string(d.kind), "cooldown")
			return nil, emitDuplicate, nil
		}
	}

	n := &notification.Notification{
		RecipientID: d.recipientID,
		Kind:        d.kind,
		Title:       notification.TruncateTitle(d.title),
		Body:        d.body,
		Reference:   d.ref,
		Data:        d.data,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		if cooldownKey != "" {
			s.cooldown.Release(ctx, cooldownKey)
		}
		metrics.RecordSkipped(string(d.kind), "error")
		return nil, 0, err
	}
	metrics.RecordCreated(string(d.kind))

	s.deliver(ctx, n)
	return n, emitCreated, nil
}

// emitMany fans a draft out to every distinct recipient and isolates per-recipient failures
func (s *service) emitMany(ctx context.Context, recipients []string, build func(recipientID string) draft) *notification.BulkResult {
	result := &notification.BulkResult{}
	seen := make(map[string]struct{}, len(recipients))

	for _, recipientID := range recipients {
		if recipientID == "" {
			continue
		}
		if _, dup := seen[recipientID]; dup {
			continue
		}
		seen[recipientID] = struct{}{}
		result.Total++

		d := build(recipientID)
		n, outcome, err := s.emit(ctx, d)
		switch {
		case err != nil:
			result.Failed++
			slog.Error("Failed to create notification",
				"kind", d.kind,
				"recipient_id", recipientID,
				"error", err,
			)
		case outcome != emitCreated:
			result.Skipped++
		default:
			result.Sent++
			result.Notifications = append(result.Notifications, n)
		}
	}

	return result
}

func (s *service) formatDate(t time.Time) string {
	return t.In(s.config.Location).Format(dateLayout)
}

// displayName returns the user's full name, or the id when the lookup fails
func (s *service) displayName(ctx context.Context, userID string) string {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return userID
	}
	if name := u.FullName(); name != "" {
		return name
	}
	return userID
}

// OnNewActivity notifies the given recipients, or the activity's cohort when none are given
func (s *service) OnNewActivity(ctx context.Context, activity academic.Activity, recipients []string) (*notification.BulkResult, error) {
	if _, err := s.GetType(ctx, notification.KindNewActivity); err != nil {
		return nil, err
	}

	if len(recipients) == 0 {
		students, err := s.academic.CohortStudents(ctx, activity.CohortID)
		if err != nil {
			return nil, fmt.Errorf("failed to get cohort students: %w", err)
		}
		recipients = students
	}

	ref := &notification.Reference{Kind: notification.RefActivity, ID: activity.ID}
	result := s.emitMany(ctx, recipients, func(recipientID string) draft {
		return draft{
			recipientID: recipientID,
			kind:        notification.KindNewActivity,
			title:       fmt.Sprintf("Nueva actividad: %s", activity.Title),
			body: fmt.Sprintf("Se ha creado una nueva actividad '%s' con fecha de entrega %s.",
				activity.Title, s.formatDate(activity.DueAt)),
			ref: ref,
			data: map[string]interface{}{
				"activity_id": activity.ID,
				"due_at":      activity.DueAt.UTC().Format(time.RFC3339),
			},
		}
	})

	slog.Info("New activity notifications processed",
		"activity_id", activity.ID,
		"sent", result.Sent,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// OnActivityGraded notifies the graded student. A nil notification means the student disabled the kind.
func (s *service) OnActivityGraded(ctx context.Context, grade academic.Grade) (*notification.Notification, error) {
	if _, err := s.GetType(ctx, notification.KindActivityGraded); err != nil {
		return nil, err
	}
	if grade.StudentID == "" {
		return nil, fmt.Errorf("grade %s has no student: %w", grade.ID, notification.ErrInvalidArgument)
	}

	n, _, err := s.emit(ctx, draft{
		recipientID: grade.StudentID,
		kind:        notification.KindActivityGraded,
		title:       fmt.Sprintf("Actividad valorada: %s", grade.ActivityTitle),
		body:        fmt.Sprintf("Tu actividad '%s' ha sido valorada con: %.1f.", grade.ActivityTitle, grade.Score),
		ref:         &notification.Reference{Kind: notification.RefGrade, ID: grade.ID},
		data: map[string]interface{}{
			"activity_id": grade.ActivityID,
			"grade_id":    grade.ID,
			"score":       grade.Score,
		},
	})
	return n, err
}

// OnCommitteeSummons notifies the summoned student and, if requested, the summoning instructor
func (s *service) OnCommitteeSummons(ctx context.Context, summons academic.Summons, notifyInstructor bool) ([]*notification.Notification, error) {
	if _, err := s.GetType(ctx, notification.KindCommitteeSummons); err != nil {
		return nil, err
	}
	if summons.StudentID == "" {
		return nil, fmt.Errorf("summons %s has no student: %w", summons.ID, notification.ErrInvalidArgument)
	}

	ref := &notification.Reference{Kind: notification.RefSummons, ID: summons.ID}
	data := map[string]interface{}{
		"summons_id":   summons.ID,
		"number":       summons.Number,
		"student_id":   summons.StudentID,
		"scheduled_at": summons.ScheduledAt.UTC().Format(time.RFC3339),
	}
	date := s.formatDate(summons.ScheduledAt)

	recipients := []string{summons.StudentID}
	if notifyInstructor && summons.InstructorID != "" {
		recipients = append(recipients, summons.InstructorID)
	}

	var studentName string
	result := s.emitMany(ctx, recipients, func(recipientID string) draft {
		d := draft{
			recipientID: recipientID,
			kind:        notification.KindCommitteeSummons,
			title:       "Citación a Comité",
			body:        fmt.Sprintf("Has sido citado a comité. Motivo: %s. Fecha: %s.", summons.Reason, date),
			ref:         ref,
			data:        data,
		}
		if recipientID != summons.StudentID {
			if studentName == "" {
				studentName = s.displayName(ctx, summons.StudentID)
			}
			d.body = fmt.Sprintf("El aprendiz %s ha sido citado a comité. Motivo: %s. Fecha: %s.",
				studentName, summons.Reason, date)
		}
		return d
	})

	if result.Failed > 0 {
		return result.Notifications, fmt.Errorf("failed to notify %d of %d summons recipients", result.Failed, result.Total)
	}
	return result.Notifications, nil
}

// SendReminder reminds students that have not delivered an activity due within the lookahead
func (s *service) SendReminder(ctx context.Context, activity academic.Activity) (*notification.BulkResult, error) {
	if _, err := s.GetType(ctx, notification.KindReminder); err != nil {
		return nil, err
	}

	now := s.now()
	if !activity.Status.Open() || activity.DueAt.Before(now) || activity.DueAt.After(now.Add(s.config.ReminderLookahead)) {
		return &notification.BulkResult{}, nil
	}

	pending, err := s.academic.PendingStudents(ctx, activity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending students: %w", err)
	}

	since := now.Add(-s.config.ReminderLookahead)
	ref := &notification.Reference{Kind: notification.RefActivity, ID: activity.ID}
	result := s.emitMany(ctx, pending, func(recipientID string) draft {
		return draft{
			recipientID: recipientID,
			kind:        notification.KindReminder,
			title:       fmt.Sprintf("Recordatorio: %s", activity.Title),
			body: fmt.Sprintf("La actividad '%s' vence el %s. No olvides realizar tu entrega.",
				activity.Title, s.formatDate(activity.DueAt)),
			ref: ref,
			data: map[string]interface{}{
				"activity_id": activity.ID,
				"due_at":      activity.DueAt.UTC().Format(time.RFC3339),
			},
			dedupSince: &since,
		}
	})

	return result, nil
}

// SendCustom sends SYSTEM notifications on behalf of an instructor or administrator
func (s *service) SendCustom(ctx context.Context, sender user.Actor, req notification.SendCustomRequest) (*notification.BulkResult, error) {
	if !sender.Can(user.PermissionNotificationSendCustom) {
		return nil, notification.ErrSenderNotAllowed
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", notification.ErrInvalidArgument, err)
	}
	if _, err := s.GetType(ctx, notification.KindSystem); err != nil {
		return nil, err
	}

	result := s.emitMany(ctx, req.RecipientIDs, func(recipientID string) draft {
		data := make(map[string]interface{}, len(req.Data)+1)
		for k, v := range req.Data {
			data[k] = v
		}
		data["sender_id"] = sender.ID

		return draft{
			recipientID: recipientID,
			kind:        notification.KindSystem,
			title:       req.Title,
			body:        req.Body,
			data:        data,
		}
	})

	slog.Info("Custom notification sent",
		"sender_id", sender.ID,
		"total", result.Total,
		"sent", result.Sent,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}
