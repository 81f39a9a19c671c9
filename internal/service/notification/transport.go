package notification

import (
	"context"
	"errors"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/email"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/sse"
)

const sseEventNotification = "notification"

// pushTransport publishes to the recipient's open SSE streams.
// The inbox holds the notification, so no open stream is not a failure.
type pushTransport struct {
	hub *sse.Hub
}

func NewPushTransport(hub *sse.Hub) notification.Transport {
	return &pushTransport{hub: hub}
}

func (t *pushTransport) Channel() notification.Channel {
	return notification.ChannelPush
}

func (t *pushTransport) Send(ctx context.Context, msg notification.Message) error {
	t.hub.Publish(msg.Notification.RecipientID, sse.Event{
		Event: sseEventNotification,
		Data:  notification.NewNotificationResponse(msg.Notification),
	})
	return nil
}

var kindLabels = map[notification.Kind]string{
	notification.KindNewActivity:      "Nueva Actividad",
	notification.KindActivityGraded:   "Actividad Calificada",
	notification.KindCommitteeSummons: "Citación a Comité",
	notification.KindHighAbsenteeism:  "Alta Inasistencia",
	notification.KindLowPerformance:   "Bajo Rendimiento",
	notification.KindReminder:         "Recordatorio",
	notification.KindSystem:           "Sistema",
}

var kindColors = map[notification.Kind]string{
	notification.KindCommitteeSummons: "#b91c1c",
	notification.KindHighAbsenteeism:  "#d97706",
	notification.KindLowPerformance:   "#d97706",
}

var errNoEmailAddress = errors.New("recipient has no email address")

// emailTransport renders the notification template and sends it through the email service
type emailTransport struct {
	svc email.EmailService
	loc *time.Location
}

func NewEmailTransport(svc email.EmailService, loc *time.Location) notification.Transport {
	if loc == nil {
		loc = time.UTC
	}
	return &emailTransport{svc: svc, loc: loc}
}

func (t *emailTransport) Channel() notification.Channel {
	return notification.ChannelEmail
}

func (t *emailTransport) Send(ctx context.Context, msg notification.Message) error {
	if msg.RecipientEmail == "" {
		return errNoEmailAddress
	}

	n := msg.Notification
	return t.svc.SendNotification(ctx, msg.RecipientEmail, email.NotificationData{
		RecipientName: msg.RecipientName,
		KindLabel:     kindLabels[n.Kind],
		Title:         n.Title,
		Body:          n.Body,
		CreatedAt:     n.CreatedAt.In(t.loc).Format(dateLayout),
		Color:         kindColors[n.Kind],
	})
}
