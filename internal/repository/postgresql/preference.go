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

type preferenceRepository struct {
	db *database.DB
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *database.DB) notification.PreferenceRepository {
	return &preferenceRepository{db: db}
}

// GetByUser retrieves the stored notification preferences for a user
func (r *preferenceRepository) GetByUser(ctx context.Context, userID string) ([]notification.Preference, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT user_id, kind, enabled, created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []notification.Preference
	for rows.Next() {
		var p notification.Preference
		var kind string

		if err := rows.Scan(&p.UserID, &kind, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}

		p.Kind = notification.Kind(kind)
		prefs = append(prefs, p)
	}

	return prefs, rows.Err()
}

// IsEnabled checks if a notification kind is enabled for a user; no row means enabled
func (r *preferenceRepository) IsEnabled(ctx context.Context, userID string, kind notification.Kind) (bool, error) {
	q := GetQuerier(ctx, r.db)

	var enabled bool
	err := q.QueryRow(ctx, `
		SELECT enabled FROM notification_preferences
		WHERE user_id = $1 AND kind = $2
	`, userID, string(kind)).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("failed to check preference: %w", err)
	}

	return enabled, nil
}

// Upsert creates or updates a notification preference
func (r *preferenceRepository) Upsert(ctx context.Context, pref *notification.Preference) error {
	q := GetQuerier(ctx, r.db)

	now := time.Now()
	pref.UpdatedAt = now
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}

	_, err := q.Exec(ctx, `
		INSERT INTO notification_preferences (user_id, kind, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, kind)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
	`, pref.UserID, string(pref.Kind), pref.Enabled, pref.CreatedAt, pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}

	return nil
}

// GetDeliverySettings retrieves a user's delivery settings
func (r *preferenceRepository) GetDeliverySettings(ctx context.Context, userID string) (*notification.DeliverySettings, error) {
	q := GetQuerier(ctx, r.db)

	var s notification.DeliverySettings
	var days []int32
	err := q.QueryRow(ctx, `
		SELECT user_id, push_enabled, email_enabled, window_start, window_end, active_days, created_at, updated_at
		FROM notification_delivery_settings
		WHERE user_id = $1
	`, userID).Scan(
		&s.UserID,
		&s.PushEnabled,
		&s.EmailEnabled,
		&s.QuietStart,
		&s.QuietEnd,
		&days,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notification.ErrSettingsNotFound
		}
		return nil, fmt.Errorf("failed to get delivery settings: %w", err)
	}

	s.ActiveDays = make([]int, len(days))
	for i, d := range days {
		s.ActiveDays[i] = int(d)
	}

	return &s, nil
}

// UpsertDeliverySettings creates or replaces a user's delivery settings
func (r *preferenceRepository) UpsertDeliverySettings(ctx context.Context, s *notification.DeliverySettings) error {
	q := GetQuerier(ctx, r.db)

	now := time.Now()
	s.UpdatedAt = now
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}

	days := make([]int32, len(s.ActiveDays))
	for i, d := range s.ActiveDays {
		days[i] = int32(d)
	}

	_, err := q.Exec(ctx, `
		INSERT INTO notification_delivery_settings
			(user_id, push_enabled, email_enabled, window_start, window_end, active_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id)
		DO UPDATE SET
			push_enabled = EXCLUDED.push_enabled,
			email_enabled = EXCLUDED.email_enabled,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			active_days = EXCLUDED.active_days,
			updated_at = EXCLUDED.updated_at
	`, s.UserID, s.PushEnabled, s.EmailEnabled, s.QuietStart, s.QuietEnd, days, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert delivery settings: %w", err)
	}

	return nil
}
