// Package event defines the academic domain events that produce notifications.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
)

// Type is the routing key of an event on the bus and on the broker
type Type string

const (
	TypeActivityCreated    Type = "academic.activity.created"
	TypeActivityGraded     Type = "academic.activity.graded"
	TypeSummonsCreated     Type = "academic.summons.created"
	TypeAttendanceRecorded Type = "academic.attendance.recorded"
)

// AllTypes returns every event type the notification subsystem reacts to
func AllTypes() []Type {
	return []Type{
		TypeActivityCreated,
		TypeActivityGraded,
		TypeSummonsCreated,
		TypeAttendanceRecorded,
	}
}

var ErrUnknownType = errors.New("unknown event type")

// Envelope is the serialized form of an event
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type ActivityCreated struct {
	Activity academic.Activity `json:"activity"`
	// Recipients overrides the cohort students when non-empty
	Recipients []string `json:"recipients,omitempty"`
}

type ActivityGraded struct {
	Grade academic.Grade `json:"grade"`
}

type SummonsCreated struct {
	Summons          academic.Summons `json:"summons"`
	NotifyInstructor bool             `json:"notify_instructor"`
}

type AttendanceRecorded struct {
	StudentID string                    `json:"student_id"`
	SessionID string                    `json:"session_id"`
	Status    academic.AttendanceStatus `json:"status"`
}

// New wraps payload in an envelope
func New(t Type, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// Decode returns the typed payload of the envelope
func Decode(env Envelope) (any, error) {
	switch env.Type {
	case TypeActivityCreated:
		return decodePayload[ActivityCreated](env)
	case TypeActivityGraded:
		return decodePayload[ActivityGraded](env)
	case TypeSummonsCreated:
		return decodePayload[SummonsCreated](env)
	case TypeAttendanceRecorded:
		return decodePayload[AttendanceRecorded](env)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func decodePayload[T any](env Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return payload, nil
}
