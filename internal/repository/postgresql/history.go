package postgresql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/database"
)

type historyRepository struct {
	db *database.DB
}

// NewHistoryRepository creates the append-only delivery history repository
func NewHistoryRepository(db *database.DB) notification.HistoryRepository {
	return &historyRepository{db: db}
}

// Append records one dispatch attempt
func (r *historyRepository) Append(ctx context.Context, e *notification.HistoryEntry) error {
	q := GetQuerier(ctx, r.db)

	if e.ID == "" {
		e.ID = newID()
	}
	if e.AttemptedAt.IsZero() {
		e.AttemptedAt = time.Now()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO notification_history
			(id, notification_id, recipient_id, kind, title, channel, status, error_message, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		e.ID,
		e.NotificationID,
		e.RecipientID,
		string(e.Kind),
		e.Title,
		string(e.Channel),
		string(e.Status),
		e.ErrorMessage,
		e.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append notification history: %w", err)
	}

	return nil
}

// List returns history entries, newest first
func (r *historyRepository) List(ctx context.Context, req notification.ListHistoryRequest) ([]*notification.HistoryEntry, int, error) {
	q := GetQuerier(ctx, r.db)

	conditions := []string{"TRUE"}
	args := []interface{}{}

	if req.RecipientID != "" {
		args = append(args, req.RecipientID)
		conditions = append(conditions, fmt.Sprintf("recipient_id = $%d", len(args)))
	}
	if req.Channel != nil {
		args = append(args, string(*req.Channel))
		conditions = append(conditions, fmt.Sprintf("channel = $%d", len(args)))
	}
	if req.Status != nil {
		args = append(args, string(*req.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	whereClause := strings.Join(conditions, " AND ")

	var total int
	if err := q.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM notification_history WHERE %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notification history: %w", err)
	}

	req.Normalize()
	query := fmt.Sprintf(`
		SELECT id, notification_id, recipient_id, kind, title, channel, status, error_message, attempted_at
		FROM notification_history
		WHERE %s
		ORDER BY attempted_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)+1, len(args)+2)
	args = append(args, req.PageSize, (req.Page-1)*req.PageSize)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notification history: %w", err)
	}
	defer rows.Close()

	entries := make([]*notification.HistoryEntry, 0)
	for rows.Next() {
		var e notification.HistoryEntry
		var kind, channel, status string
		if err := rows.Scan(
			&e.ID,
			&e.NotificationID,
			&e.RecipientID,
			&kind,
			&e.Title,
			&channel,
			&status,
			&e.ErrorMessage,
			&e.AttemptedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification history: %w", err)
		}
		e.Kind = notification.Kind(kind)
		e.Channel = notification.Channel(channel)
		e.Status = notification.DeliveryStatus(status)
		entries = append(entries, &e)
	}

	return entries, total, rows.Err()
}
