package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/database"
)

type notificationTypeRepository struct {
	db *database.DB
}

// NewNotificationTypeRepository creates a repository over the notification type catalog
func NewNotificationTypeRepository(db *database.DB) notification.TypeRepository {
	return &notificationTypeRepository{db: db}
}

func (r *notificationTypeRepository) List(ctx context.Context, activeOnly bool) ([]notification.Type, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT kind, name, description, active, position, created_at, updated_at
		FROM notification_types
	`
	if activeOnly {
		query += " WHERE active = true"
	}
	query += " ORDER BY position ASC, created_at ASC"

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification types: %w", err)
	}
	defer rows.Close()

	types := make([]notification.Type, 0)
	for rows.Next() {
		var t notification.Type
		var kind string
		if err := rows.Scan(&kind, &t.Name, &t.Description, &t.Active, &t.Position, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification type: %w", err)
		}
		t.Kind = notification.Kind(kind)
		types = append(types, t)
	}

	return types, rows.Err()
}

func (r *notificationTypeRepository) GetByKind(ctx context.Context, kind notification.Kind) (*notification.Type, error) {
	q := GetQuerier(ctx, r.db)

	var t notification.Type
	var k string
	err := q.QueryRow(ctx, `
		SELECT kind, name, description, active, position, created_at, updated_at
		FROM notification_types
		WHERE kind = $1
	`, string(kind)).Scan(&k, &t.Name, &t.Description, &t.Active, &t.Position, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notification.ErrTypeNotFound
		}
		return nil, fmt.Errorf("failed to get notification type: %w", err)
	}
	t.Kind = notification.Kind(k)

	return &t, nil
}

func (r *notificationTypeRepository) Create(ctx context.Context, t *notification.Type) error {
	q := GetQuerier(ctx, r.db)

	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := q.Exec(ctx, `
		INSERT INTO notification_types (kind, name, description, active, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, string(t.Kind), t.Name, t.Description, t.Active, t.Position, now)
	if err != nil {
		return fmt.Errorf("failed to create notification type: %w", err)
	}

	return nil
}

func (r *notificationTypeRepository) Update(ctx context.Context, t *notification.Type) error {
	q := GetQuerier(ctx, r.db)

	t.UpdatedAt = time.Now()

	result, err := q.Exec(ctx, `
		UPDATE notification_types
		SET name = $2, description = $3, active = $4, position = $5, updated_at = $6
		WHERE kind = $1
	`, string(t.Kind), t.Name, t.Description, t.Active, t.Position, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update notification type: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notification.ErrTypeNotFound
	}

	return nil
}
