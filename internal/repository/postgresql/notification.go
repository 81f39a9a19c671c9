package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/database"
)

const notificationColumns = `id, recipient_id, kind, title, body, ref_kind, ref_id, data,
	is_read, read_at, is_sent, sent_at, created_at, updated_at`

type notificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *database.DB) notification.Repository {
	return &notificationRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*notification.Notification, error) {
	var n notification.Notification
	var kind string
	var refKind, refID *string
	var dataJSON []byte

	if err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&kind,
		&n.Title,
		&n.Body,
		&refKind,
		&refID,
		&dataJSON,
		&n.IsRead,
		&n.ReadAt,
		&n.IsSent,
		&n.SentAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return nil, err
	}

	n.Kind = notification.Kind(kind)
	if refKind != nil && refID != nil {
		n.Reference = &notification.Reference{
			Kind: notification.ReferenceKind(*refKind),
			ID:   *refID,
		}
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
		}
	}

	return &n, nil
}

// newID returns a time-ordered UUID
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Create creates a new notification
func (r *notificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	q := GetQuerier(ctx, r.db)

	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.UpdatedAt = n.CreatedAt
	n.IsRead, n.ReadAt = false, nil
	n.IsSent, n.SentAt = false, nil

	data := n.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal notification data: %w", err)
	}

	var refKind, refID *string
	if n.Reference != nil {
		k := string(n.Reference.Kind)
		refKind, refID = &k, &n.Reference.ID
	}

	query := `
		INSERT INTO notifications (id, recipient_id, kind, title, body, ref_kind, ref_id, data, is_read, is_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, $9, $9)
	`

	_, err = q.Exec(ctx, query,
		n.ID,
		n.RecipientID,
		string(n.Kind),
		n.Title,
		n.Body,
		refKind,
		refID,
		dataJSON,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// GetByID retrieves a notification by ID
func (r *notificationRepository) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	if !isUUID(id) {
		return nil, notification.ErrNotificationNotFound
	}

	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notification.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// List retrieves a recipient's notifications, newest first, with the total matching count
func (r *notificationRepository) List(ctx context.Context, filter notification.ListFilter) ([]*notification.Notification, int, error) {
	q := GetQuerier(ctx, r.db)

	conditions := []string{"recipient_id = $1"}
	args := []interface{}{filter.RecipientID}

	if filter.Kind != nil {
		args = append(args, string(*filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Read != nil {
		args = append(args, *filter.Read)
		conditions = append(conditions, fmt.Sprintf("is_read = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	whereClause := strings.Join(conditions, " AND ")

	// Count query
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM notifications WHERE %s", whereClause)
	var total int
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = notification.DefaultPageSize
	}

	// Data query
	query := fmt.Sprintf(`
		SELECT %s
		FROM notifications
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, notificationColumns, whereClause, len(args)+1, len(args)+2)

	args = append(args, limit, filter.Offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*notification.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return notifications, total, nil
}

// CountUnread returns the count of unread notifications for a user
func (r *notificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = false`
	var count int
	if err := q.QueryRow(ctx, query, recipientID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return count, nil
}

// CountByKind groups a recipient's notifications by kind
func (r *notificationRepository) CountByKind(ctx context.Context, recipientID string) (map[notification.Kind]int, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT kind, COUNT(*)
		FROM notifications
		WHERE recipient_id = $1
		GROUP BY kind
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[notification.Kind]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		counts[notification.Kind(kind)] = count
	}

	return counts, rows.Err()
}

// MarkRead marks a single unread notification as read
func (r *notificationRepository) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}

	q := GetQuerier(ctx, r.db)

	result, err := q.Exec(ctx, `
		UPDATE notifications
		SET is_read = true, read_at = $2, updated_at = $2
		WHERE id = $1 AND is_read = false
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification as read: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// MarkReadBatch marks the recipient's unread notifications among ids as read
func (r *notificationRepository) MarkReadBatch(ctx context.Context, recipientID string, ids []string, at time.Time) (int64, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}

	q := GetQuerier(ctx, r.db)

	result, err := q.Exec(ctx, `
		UPDATE notifications
		SET is_read = true, read_at = $2, updated_at = $2
		WHERE recipient_id = $1 AND id = ANY($3::uuid[]) AND is_read = false
	`, recipientID, at, valid)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}

	return result.RowsAffected(), nil
}

// MarkAllRead marks all notifications as read for a user in one statement
func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	q := GetQuerier(ctx, r.db)

	result, err := q.Exec(ctx, `
		UPDATE notifications
		SET is_read = true, read_at = $2, updated_at = $2
		WHERE recipient_id = $1 AND is_read = false
	`, recipientID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}

	return result.RowsAffected(), nil
}

// MarkSent marks an unsent notification as delivered
func (r *notificationRepository) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}

	q := GetQuerier(ctx, r.db)

	result, err := q.Exec(ctx, `
		UPDATE notifications
		SET is_sent = true, sent_at = $2, updated_at = $2
		WHERE id = $1 AND is_sent = false
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification as sent: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Delete deletes a notification
func (r *notificationRepository) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return notification.ErrNotificationNotFound
	}

	q := GetQuerier(ctx, r.db)

	result, err := q.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	if result.RowsAffected() == 0 {
		return notification.ErrNotificationNotFound
	}

	return nil
}

// DeleteCreatedBefore removes every notification created strictly before cutoff
func (r *notificationRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q := GetQuerier(ctx, r.db)

	result, err := q.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}

	return result.RowsAffected(), nil
}

// ExistsSince reports whether a notification about ref was created at or after since
func (r *notificationRepository) ExistsSince(ctx context.Context, recipientID string, kind notification.Kind, ref notification.Reference, since time.Time) (bool, error) {
	q := GetQuerier(ctx, r.db)

	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE recipient_id = $1
				AND kind = $2
				AND ref_kind = $3
				AND ref_id = $4
				AND created_at >= $5
		)
	`, recipientID, string(kind), string(ref.Kind), ref.ID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing notification: %w", err)
	}

	return exists, nil
}

// ListUnsent returns undelivered notifications after the cursor, oldest first
func (r *notificationRepository) ListUnsent(ctx context.Context, after notification.UnsentCursor, limit int) ([]*notification.Notification, error) {
	q := GetQuerier(ctx, r.db)

	afterID := after.ID
	if afterID == "" {
		afterID = uuid.Nil.String()
	}

	rows, err := q.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE is_sent = false AND (created_at, id) > ($1, $2::uuid)
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, after.CreatedAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}
