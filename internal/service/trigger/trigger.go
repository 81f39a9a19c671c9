// Package trigger turns academic events into notification service calls.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/event"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/eventbus"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/metrics"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/mq"
)

type Trigger struct {
	svc notification.Service
}

func New(svc notification.Service) *Trigger {
	return &Trigger{svc: svc}
}

// Register subscribes one handler per academic event type
func (t *Trigger) Register(bus *eventbus.Bus) {
	bus.Subscribe(string(event.TypeActivityCreated), t.onActivityCreated)
	bus.Subscribe(string(event.TypeActivityGraded), t.onActivityGraded)
	bus.Subscribe(string(event.TypeSummonsCreated), t.onSummonsCreated)
	bus.Subscribe(string(event.TypeAttendanceRecorded), t.onAttendanceRecorded)
	slog.Info("Event triggers registered", "topics", bus.Topics())
}

func (t *Trigger) onActivityCreated(ctx context.Context, payload any) error {
	e, ok := payload.(event.ActivityCreated)
	if !ok {
		return unexpected(event.TypeActivityCreated, payload)
	}
	_, err := t.svc.OnNewActivity(ctx, e.Activity, e.Recipients)
	return err
}

func (t *Trigger) onActivityGraded(ctx context.Context, payload any) error {
	e, ok := payload.(event.ActivityGraded)
	if !ok {
		return unexpected(event.TypeActivityGraded, payload)
	}
	_, err := t.svc.OnActivityGraded(ctx, e.Grade)
	return err
}

func (t *Trigger) onSummonsCreated(ctx context.Context, payload any) error {
	e, ok := payload.(event.SummonsCreated)
	if !ok {
		return unexpected(event.TypeSummonsCreated, payload)
	}
	_, err := t.svc.OnCommitteeSummons(ctx, e.Summons, e.NotifyInstructor)
	return err
}

// onAttendanceRecorded re-evaluates the absence ratio only when the roll call counts as an absence
func (t *Trigger) onAttendanceRecorded(ctx context.Context, payload any) error {
	e, ok := payload.(event.AttendanceRecorded)
	if !ok {
		return unexpected(event.TypeAttendanceRecorded, payload)
	}
	if !e.Status.CountsAsAbsence() {
		return nil
	}
	_, err := t.svc.OnAttendanceRecorded(ctx, e.StudentID)
	return err
}

func unexpected(t event.Type, payload any) error {
	return fmt.Errorf("unexpected payload %T for %s", payload, t)
}

// MessageHandler decodes broker deliveries and publishes them on the bus.
// Malformed messages are rejected; handler failures are logged and acknowledged.
func MessageHandler(bus *eventbus.Bus) mq.MessageHandler {
	return func(ctx context.Context, routingKey string, body []byte) error {
		var env event.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			metrics.RecordEvent(routingKey, "rejected")
			return fmt.Errorf("%w: invalid envelope: %w", mq.ErrReject, err)
		}
		if env.Type == "" {
			env.Type = event.Type(routingKey)
		}

		payload, err := event.Decode(env)
		if err != nil {
			metrics.RecordEvent(string(env.Type), "rejected")
			return fmt.Errorf("%w: %w", mq.ErrReject, err)
		}

		if failed := bus.Publish(ctx, string(env.Type), payload); failed > 0 {
			metrics.RecordEvent(string(env.Type), "failed")
			slog.Warn("Academic event processed with failures",
				"event_id", env.ID,
				"type", env.Type,
				"failed_handlers", failed,
			)
			return nil
		}

		metrics.RecordEvent(string(env.Type), "success")
		slog.Debug("Academic event processed", "event_id", env.ID, "type", env.Type)
		return nil
	}
}
