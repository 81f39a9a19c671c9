package notification

import (
	"context"
	"time"
)

// TypeRepository stores the notification type catalog
type TypeRepository interface {
	List(ctx context.Context, activeOnly bool) ([]Type, error)
	GetByKind(ctx context.Context, kind Kind) (*Type, error)
	Create(ctx context.Context, t *Type) error
	Update(ctx context.Context, t *Type) error
}

// ListFilter narrows a recipient's notifications
type ListFilter struct {
	RecipientID string
	Kind        *Kind
	Read        *bool
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// Repository defines the notification repository interface
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id string) (*Notification, error)
	List(ctx context.Context, filter ListFilter) ([]*Notification, int, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	CountByKind(ctx context.Context, recipientID string) (map[Kind]int, error)

	// MarkRead flips an unread notification; false means it was already read or missing
	MarkRead(ctx context.Context, id string, at time.Time) (bool, error)
	MarkReadBatch(ctx context.Context, recipientID string, ids []string, at time.Time) (int64, error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	// MarkSent flips an unsent notification; false means it was already sent or missing
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)

	Delete(ctx context.Context, id string) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ExistsSince reports any notification of kind for the recipient about
	// ref, created at or after since, whatever its read or sent state
	ExistsSince(ctx context.Context, recipientID string, kind Kind, ref Reference, since time.Time) (bool, error)
	// ListUnsent pages undelivered notifications oldest first, strictly after
	// the cursor
	ListUnsent(ctx context.Context, after UnsentCursor, limit int) ([]*Notification, error)
}

// UnsentCursor is a keyset position in the undelivered queue. An empty ID
// starts the scan at CreatedAt inclusive.
type UnsentCursor struct {
	CreatedAt time.Time
	ID        string
}

// PreferenceRepository stores per-kind switches and delivery settings
type PreferenceRepository interface {
	// GetByUser returns only the stored rows
	GetByUser(ctx context.Context, userID string) ([]Preference, error)
	IsEnabled(ctx context.Context, userID string, kind Kind) (bool, error)
	Upsert(ctx context.Context, pref *Preference) error

	GetDeliverySettings(ctx context.Context, userID string) (*DeliverySettings, error)
	UpsertDeliverySettings(ctx context.Context, settings *DeliverySettings) error
}

// HistoryRepository is the append-only delivery log
type HistoryRepository interface {
	Append(ctx context.Context, entry *HistoryEntry) error
	List(ctx context.Context, req ListHistoryRequest) ([]*HistoryEntry, int, error)
}

// Transactor runs fn in a single database transaction
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Message is what a transport delivers
type Message struct {
	Notification   *Notification
	RecipientName  string
	RecipientEmail string
}

// Transport delivers notifications on one channel
type Transport interface {
	Channel() Channel
	Send(ctx context.Context, msg Message) error
}
