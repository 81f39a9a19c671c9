package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/metrics"
)

const defaultPendingBatchSize = 500

type deliveryOutcome int

const (
	outcomeDelivered deliveryOutcome = iota
	outcomeDeferred
	outcomeFailed
	outcomeNoChannel
)

// deliver sends n on every channel the recipient accepts right now. Each
// attempt is recorded in the history; any success marks n as sent.
func (s *service) deliver(ctx context.Context, n *notification.Notification) deliveryOutcome {
	if len(s.transports) == 0 {
		return outcomeNoChannel
	}

	settings, err := s.GetDeliverySettings(ctx, n.RecipientID)
	if err != nil {
		slog.Warn("Failed to load delivery settings, using defaults", "user_id", n.RecipientID, "error", err)
		defaults := notification.DefaultDeliverySettings(n.RecipientID)
		settings = &defaults
	}

	now := s.now()
	if !settings.AcceptsAt(now.In(s.config.Location)) {
		slog.Debug("Delivery deferred outside window", "notification_id", n.ID, "user_id", n.RecipientID)
		return outcomeDeferred
	}

	var (
		recipient    *user.User
		recipientErr error
		loaded       bool
	)
	loadRecipient := func() (*user.User, error) {
		if !loaded {
			loaded = true
			u, err := s.userRepo.GetByID(ctx, n.RecipientID)
			if err != nil {
				recipientErr = err
			} else {
				recipient = &u
			}
		}
		return recipient, recipientErr
	}

	attempted, sent := 0, 0
	for _, t := range s.transports {
		channel := t.Channel()
		if !settings.ChannelEnabled(channel) {
			continue
		}

		msg := notification.Message{Notification: n}
		if channel == notification.ChannelEmail {
			u, err := loadRecipient()
			if err != nil {
				if !errors.Is(err, user.ErrUserNotFound) {
					slog.Warn("Failed to load recipient for email", "user_id", n.RecipientID, "error", err)
				}
				continue
			}
			if u.Email == "" {
				continue
			}
			msg.RecipientName = u.FullName()
			msg.RecipientEmail = u.Email
		}

		attempted++
		sendErr := t.Send(ctx, msg)
		s.recordAttempt(ctx, n, channel, sendErr)
		if sendErr == nil {
			sent++
		}
	}

	if attempted == 0 {
		return outcomeNoChannel
	}
	if sent == 0 {
		return outcomeFailed
	}

	at := s.now()
	changed, err := s.repo.MarkSent(ctx, n.ID, at)
	if err != nil {
		slog.Error("Failed to mark notification sent", "notification_id", n.ID, "error", err)
		return outcomeDelivered
	}
	if changed {
		n.IsSent = true
		n.SentAt = &at
	}
	return outcomeDelivered
}

func (s *service) recordAttempt(ctx context.Context, n *notification.Notification, channel notification.Channel, sendErr error) {
	entry := &notification.HistoryEntry{
		NotificationID: &n.ID,
		RecipientID:    n.RecipientID,
		Kind:           n.Kind,
		Title:          n.Title,
		Channel:        channel,
		Status:         notification.StatusSent,
		AttemptedAt:    s.now(),
	}
	if sendErr != nil {
		entry.Status = notification.StatusFailed
		entry.ErrorMessage = sendErr.Error()
		slog.Warn("Notification delivery failed",
			"notification_id", n.ID,
			"channel", channel,
			"error", sendErr,
		)
	}
	metrics.RecordDelivery(string(channel), string(entry.Status))

	if err := s.historyRepo.Append(ctx, entry); err != nil {
		slog.Error("Failed to append delivery history", "notification_id", n.ID, "channel", channel, "error", err)
	}
}

// DeliverPending retries delivery of unsent notifications created since the given instant
func (s *service) DeliverPending(ctx context.Context, since time.Time) (*notification.DeliveryResult, error) {
	result := &notification.DeliveryResult{}
	cursor := notification.UnsentCursor{CreatedAt: since}

	for {
		pending, err := s.repo.ListUnsent(ctx, cursor, s.config.PendingBatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list unsent notifications: %w", err)
		}

		for _, n := range pending {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			result.Attempted++
			switch s.deliver(ctx, n) {
			case outcomeDelivered:
				result.Delivered++
			case outcomeDeferred, outcomeNoChannel:
				result.Deferred++
			}
		}

		if len(pending) < s.config.PendingBatchSize {
			break
		}
		last := pending[len(pending)-1]
		cursor = notification.UnsentCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	slog.Info("Pending deliveries processed",
		"attempted", result.Attempted,
		"delivered", result.Delivered,
		"deferred", result.Deferred,
	)
	return result, nil
}
