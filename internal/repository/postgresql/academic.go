package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/database"
)

// academicRepository reads the tables owned by the academic application.
// It never writes.
type academicRepository struct {
	db *database.DB
}

func NewAcademicRepository(db *database.DB) academic.Repository {
	return &academicRepository{db: db}
}

const activitySelect = `
	SELECT a.id::text, a.titulo, a.ficha_id::text, a.instructor_id::text, a.fecha_entrega, a.estado, a.puntaje_maximo::float8
	FROM actividades a
`

func scanActivity(row rowScanner) (academic.Activity, error) {
	var a academic.Activity
	var status string
	err := row.Scan(&a.ID, &a.Title, &a.CohortID, &a.InstructorID, &a.DueAt, &status, &a.MaxScore)
	a.Status = academic.ActivityStatus(status)
	return a, err
}

func (r *academicRepository) GetActivity(ctx context.Context, id string) (academic.Activity, error) {
	q := GetQuerier(ctx, r.db)

	a, err := scanActivity(q.QueryRow(ctx, activitySelect+` WHERE a.id::text = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return academic.Activity{}, academic.ErrActivityNotFound
		}
		return academic.Activity{}, fmt.Errorf("failed to get activity: %w", err)
	}

	return a, nil
}

// ActivitiesDueBetween returns open activities whose due date falls in [from, to]
func (r *academicRepository) ActivitiesDueBetween(ctx context.Context, from, to time.Time) ([]academic.Activity, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, activitySelect+`
		WHERE a.fecha_entrega >= $1 AND a.fecha_entrega <= $2
			AND a.estado IN ('PUBLICADA', 'EN_PROGRESO')
		ORDER BY a.fecha_entrega ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query due activities: %w", err)
	}
	defer rows.Close()

	var activities []academic.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}

	return activities, rows.Err()
}

// PendingStudents returns students assigned to the activity that have not
// delivered it. A delivery returned for correction counts as pending.
func (r *academicRepository) PendingStudents(ctx context.Context, activityID string) ([]string, error) {
	return r.queryIDs(ctx, `
		SELECT DISTINCT aa.aprendiz_id::text
		FROM asignaciones_actividad aa
		WHERE aa.actividad_id::text = $1
			AND NOT EXISTS (
				SELECT 1 FROM entregas_actividad e
				WHERE e.actividad_id = aa.actividad_id
					AND e.aprendiz_id = aa.aprendiz_id
					AND e.estado IN ('ENTREGADA', 'REVISADA', 'CALIFICADA')
			)
	`, activityID)
}

func (r *academicRepository) CohortStudents(ctx context.Context, cohortID string) ([]string, error) {
	return r.queryIDs(ctx, `
		SELECT DISTINCT m.aprendiz_id::text
		FROM matriculas m
		WHERE m.ficha_id::text = $1 AND m.activo = true AND m.estado = 'ACTIVO'
	`, cohortID)
}

func (r *academicRepository) StudentInstructors(ctx context.Context, studentID string) ([]string, error) {
	return r.queryIDs(ctx, `
		SELECT DISTINCT ai.instructor_id::text
		FROM asignaciones_instructor ai
		JOIN matriculas m ON m.ficha_id = ai.ficha_id
		WHERE m.aprendiz_id::text = $1 AND m.activo = true AND ai.activo = true
	`, studentID)
}

func (r *academicRepository) ActiveStudents(ctx context.Context) ([]string, error) {
	return r.queryIDs(ctx, `
		SELECT u.id::text
		FROM usuarios u
		JOIN usuarios_rol r ON r.id = u.rol_id
		WHERE r.nombre = 'APRENDIZ' AND u.activo = true
		ORDER BY u.id
	`)
}

// AttendanceSummary counts roll calls in [since, until]. Excused absences count as absences.
func (r *academicRepository) AttendanceSummary(ctx context.Context, studentID string, since, until time.Time) (academic.AttendanceSummary, error) {
	q := GetQuerier(ctx, r.db)

	var s academic.AttendanceSummary
	err := q.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE ra.estado IN ('AUSENTE', 'JUSTIFICADO'))
		FROM registros_asistencia ra
		JOIN llamados_asistencia la ON la.id = ra.llamado_asistencia_id
		WHERE ra.aprendiz_id::text = $1
			AND la.fecha_hora_llamado >= $2
			AND la.fecha_hora_llamado <= $3
	`, studentID, since, until).Scan(&s.Sessions, &s.Absences)
	if err != nil {
		return academic.AttendanceSummary{}, fmt.Errorf("failed to summarize attendance: %w", err)
	}

	return s, nil
}

// GradeSummary averages the scores graded in [since, until]
func (r *academicRepository) GradeSummary(ctx context.Context, studentID string, since, until time.Time) (academic.GradeSummary, error) {
	q := GetQuerier(ctx, r.db)

	var s academic.GradeSummary
	var avg *float64
	err := q.QueryRow(ctx, `
		SELECT COUNT(*), AVG(c.puntaje_obtenido)::float8
		FROM calificaciones_actividad c
		JOIN entregas_actividad e ON e.id = c.entrega_id
		WHERE e.aprendiz_id::text = $1
			AND c.fecha_calificacion >= $2
			AND c.fecha_calificacion <= $3
	`, studentID, since, until).Scan(&s.Count, &avg)
	if err != nil {
		return academic.GradeSummary{}, fmt.Errorf("failed to summarize grades: %w", err)
	}
	if avg != nil {
		s.Average = *avg
	}

	return s, nil
}

func (r *academicRepository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
