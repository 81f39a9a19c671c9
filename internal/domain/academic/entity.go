package academic

import "time"

// ActivityStatus mirrors the lifecycle of an activity in the academic application
type ActivityStatus string

const (
	ActivityDraft      ActivityStatus = "BORRADOR"
	ActivityPublished  ActivityStatus = "PUBLICADA"
	ActivityInProgress ActivityStatus = "EN_PROGRESO"
	ActivityFinished   ActivityStatus = "FINALIZADA"
	ActivityCancelled  ActivityStatus = "CANCELADA"
)

// Open reports whether students can still submit work for the activity
func (s ActivityStatus) Open() bool {
	return s == ActivityPublished || s == ActivityInProgress
}

// AttendanceStatus is the outcome of a single roll call for a student
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENTE"
	AttendanceAbsent  AttendanceStatus = "AUSENTE"
	AttendanceExcused AttendanceStatus = "JUSTIFICADO"
	AttendanceLate    AttendanceStatus = "TARDE"
)

// CountsAsAbsence reports whether the status is counted against the student.
// Excused absences still count.
func (s AttendanceStatus) CountsAsAbsence() bool {
	return s == AttendanceAbsent || s == AttendanceExcused
}

type Activity struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	CohortID     string         `json:"cohort_id"`
	InstructorID string         `json:"instructor_id"`
	DueAt        time.Time      `json:"due_at"`
	Status       ActivityStatus `json:"status"`
	MaxScore     float64        `json:"max_score"`
}

type Grade struct {
	ID            string    `json:"id"`
	ActivityID    string    `json:"activity_id"`
	ActivityTitle string    `json:"activity_title"`
	StudentID     string    `json:"student_id"`
	InstructorID  string    `json:"instructor_id"`
	Score         float64   `json:"score"`
	GradedAt      time.Time `json:"graded_at"`
}

type Summons struct {
	ID           string    `json:"id"`
	Number       string    `json:"number"` // CIT-YYYY-NNNN
	StudentID    string    `json:"student_id"`
	InstructorID string    `json:"instructor_id"`
	CohortID     string    `json:"cohort_id"`
	Reason       string    `json:"reason"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

// AttendanceSummary aggregates roll calls of one student over a period
type AttendanceSummary struct {
	Sessions int
	Absences int
}

// GradeSummary aggregates the grades of one student over a period
type GradeSummary struct {
	Count   int
	Average float64
}
