package notification

import (
	"context"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
)

// Service defines the notification service interface
type Service interface {
	// Type registry
	ListTypes(ctx context.Context) ([]TypeResponse, error)
	GetType(ctx context.Context, kind Kind) (*Type, error)

	// Inbox
	List(ctx context.Context, req ListNotificationsRequest) (*NotificationListResponse, error)
	Get(ctx context.Context, actor user.Actor, id string) (*NotificationResponse, error)
	ListUnread(ctx context.Context, userID string) ([]NotificationResponse, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	Summary(ctx context.Context, userID string) (*SummaryResponse, error)
	MarkRead(ctx context.Context, actor user.Actor, id string) (*Notification, error)
	MarkReadBatch(ctx context.Context, actor user.Actor, req MarkAsReadRequest) (int64, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	MarkSent(ctx context.Context, id string) (*Notification, error)
	Delete(ctx context.Context, actor user.Actor, id string) error
	PurgeOlderThan(ctx context.Context, ageDays int) (int64, error)

	// Preferences
	GetPreferences(ctx context.Context, userID string) (map[Kind]bool, error)
	SetPreferences(ctx context.Context, userID string, prefs map[Kind]bool) error
	IsEnabled(ctx context.Context, userID string, kind Kind) (bool, error)
	GetDeliverySettings(ctx context.Context, userID string) (*DeliverySettings, error)
	UpdateDeliverySettings(ctx context.Context, userID string, req UpdateDeliverySettingsRequest) (*DeliverySettings, error)

	// History
	ListHistory(ctx context.Context, actor user.Actor, req ListHistoryRequest) (*HistoryListResponse, error)

	// Academic events
	OnNewActivity(ctx context.Context, activity academic.Activity, recipients []string) (*BulkResult, error)
	OnActivityGraded(ctx context.Context, grade academic.Grade) (*Notification, error)
	OnCommitteeSummons(ctx context.Context, summons academic.Summons, notifyInstructor bool) ([]*Notification, error)
	OnAttendanceRecorded(ctx context.Context, studentID string) ([]*Notification, error)
	CheckLowPerformance(ctx context.Context, studentID string) ([]*Notification, error)
	SendReminder(ctx context.Context, activity academic.Activity) (*BulkResult, error)
	SendCustom(ctx context.Context, sender user.Actor, req SendCustomRequest) (*BulkResult, error)

	// Delivery
	DeliverPending(ctx context.Context, since time.Time) (*DeliveryResult, error)

	// SSE subscription
	Subscribe(ctx context.Context, userID string) (<-chan SSEEvent, func())
}
