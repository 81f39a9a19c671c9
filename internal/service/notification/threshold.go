package notification

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
)

// trailingWindow returns the inclusive window [now - days, now]
func trailingWindow(now time.Time, days int) (since, until time.Time) {
	return now.Add(-time.Duration(days) * 24 * time.Hour), now
}

// absenceRatio is absences over sessions; zero sessions yield zero
func absenceRatio(s academic.AttendanceSummary) float64 {
	if s.Sessions <= 0 {
		return 0
	}
	return float64(s.Absences) / float64(s.Sessions)
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// alert is a threshold breach about one student
type alert struct {
	kind           notification.Kind
	studentID      string
	since          time.Time
	window         time.Duration
	title          string
	studentBody    string
	instructorBody func(studentName string) string
	data           map[string]interface{}
}

// emitAlert notifies the student and the student's instructors, once per recipient and window
func (s *service) emitAlert(ctx context.Context, a alert) ([]*notification.Notification, error) {
	if _, err := s.GetType(ctx, a.kind); err != nil {
		return nil, err
	}

	recipients := []string{a.studentID}
	instructors, err := s.academic.StudentInstructors(ctx, a.studentID)
	if err != nil {
		// the student still gets the alert
		slog.Warn("Failed to get student instructors", "student_id", a.studentID, "error", err)
	}
	recipients = append(recipients, instructors...)

	var studentName string
	ref := &notification.Reference{Kind: notification.RefStudent, ID: a.studentID}
	result := s.emitMany(ctx, recipients, func(recipientID string) draft {
		d := draft{
			recipientID: recipientID,
			kind:        a.kind,
			title:       a.title,
			body:        a.studentBody,
			ref:         ref,
			data:        a.data,
			dedupSince:  &a.since,
			cooldown:    a.window,
		}
		if recipientID != a.studentID {
			if studentName == "" {
				studentName = s.displayName(ctx, a.studentID)
			}
			d.body = a.instructorBody(studentName)
		}
		return d
	})

	if result.Failed > 0 {
		return result.Notifications, fmt.Errorf("failed to notify %d of %d %s recipients", result.Failed, result.Total, a.kind)
	}
	return result.Notifications, nil
}

// OnAttendanceRecorded emits HIGH_ABSENTEEISM when the absence ratio over the
// trailing window exceeds the threshold
func (s *service) OnAttendanceRecorded(ctx context.Context, studentID string) ([]*notification.Notification, error) {
	if studentID == "" {
		return nil, fmt.Errorf("student id is required: %w", notification.ErrInvalidArgument)
	}

	days := s.config.AbsenceWindowDays
	since, until := trailingWindow(s.now(), days)

	summary, err := s.academic.AttendanceSummary(ctx, studentID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize attendance: %w", err)
	}

	ratio := absenceRatio(summary)
	if summary.Sessions == 0 || ratio <= s.config.AbsenceThreshold {
		return nil, nil
	}

	percentage := round(ratio*100, 1)
	return s.emitAlert(ctx, alert{
		kind:        notification.KindHighAbsenteeism,
		studentID:   studentID,
		since:       since,
		window:      until.Sub(since),
		title:       "Alerta: Alta Inasistencia",
		studentBody: fmt.Sprintf("Tu porcentaje de inasistencia es del %.1f%%. Te recomendamos mejorar tu asistencia.", percentage),
		instructorBody: func(name string) string {
			return fmt.Sprintf("El aprendiz %s tiene un porcentaje de inasistencia del %.1f%% en los últimos %d días.", name, percentage, days)
		},
		data: map[string]interface{}{
			"student_id":  studentID,
			"percentage":  percentage,
			"absences":    summary.Absences,
			"sessions":    summary.Sessions,
			"window_days": days,
		},
	})
}

// CheckLowPerformance emits LOW_PERFORMANCE when the average grade over the
// trailing window is below the threshold
func (s *service) CheckLowPerformance(ctx context.Context, studentID string) ([]*notification.Notification, error) {
	if studentID == "" {
		return nil, fmt.Errorf("student id is required: %w", notification.ErrInvalidArgument)
	}

	days := s.config.PerformanceWindowDays
	since, until := trailingWindow(s.now(), days)

	summary, err := s.academic.GradeSummary(ctx, studentID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize grades: %w", err)
	}

	if summary.Count == 0 || summary.Average >= s.config.PerformanceThreshold {
		return nil, nil
	}

	average := round(summary.Average, 2)
	return s.emitAlert(ctx, alert{
		kind:        notification.KindLowPerformance,
		studentID:   studentID,
		since:       since,
		window:      until.Sub(since),
		title:       "Alerta: Bajo Rendimiento",
		studentBody: fmt.Sprintf("Tu promedio actual es %.2f. Te sugerimos solicitar apoyo académico.", average),
		instructorBody: func(name string) string {
			return fmt.Sprintf("El aprendiz %s tiene un promedio de %.2f en los últimos %d días.", name, average, days)
		},
		data: map[string]interface{}{
			"student_id":  studentID,
			"average":     average,
			"grades":      summary.Count,
			"window_days": days,
		},
	})
}
