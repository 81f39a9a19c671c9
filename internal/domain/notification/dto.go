package notification

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/validator"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ============= Request DTOs =============

// ListNotificationsRequest represents a request to list a user's notifications
type ListNotificationsRequest struct {
	RecipientID string
	Kind        *Kind
	Read        *bool
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// Normalize applies paging defaults
func (r *ListNotificationsRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize < 1 {
		r.PageSize = DefaultPageSize
	}
	if r.PageSize > MaxPageSize {
		r.PageSize = MaxPageSize
	}
}

func (r *ListNotificationsRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.RecipientID) {
		errs = append(errs, validator.ValidationError{
			Field:   "recipient_id",
			Message: "recipient_id is required",
		})
	}

	if r.Kind != nil && !r.Kind.IsValid() {
		errs = append(errs, validator.ValidationError{
			Field:   "type",
			Message: "invalid notification type",
		})
	}

	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		errs = append(errs, validator.ValidationError{
			Field:   "to",
			Message: "to must not be before from",
		})
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// MarkAsReadRequest represents a request to mark notifications as read
type MarkAsReadRequest struct {
	NotificationIDs []string `json:"notification_ids"`
}

func (r *MarkAsReadRequest) Validate() error {
	var errs validator.ValidationErrors

	if len(r.NotificationIDs) == 0 {
		errs = append(errs, validator.ValidationError{
			Field:   "notification_ids",
			Message: "notification_ids is required",
		})
	}

	for i, id := range r.NotificationIDs {
		if validator.IsEmpty(id) {
			errs = append(errs, validator.ValidationError{
				Field:   fmt.Sprintf("notification_ids[%d]", i),
				Message: "notification id must not be empty",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// UpdatePreferencesRequest switches notification kinds on or off
type UpdatePreferencesRequest struct {
	Preferences map[Kind]bool `json:"preferences"`
}

func (r *UpdatePreferencesRequest) Validate() error {
	var errs validator.ValidationErrors

	if len(r.Preferences) == 0 {
		errs = append(errs, validator.ValidationError{
			Field:   "preferences",
			Message: "preferences is required",
		})
	}

	for kind := range r.Preferences {
		if !kind.IsValid() {
			errs = append(errs, validator.ValidationError{
				Field:   fmt.Sprintf("preferences.%s", kind),
				Message: "unknown notification type",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// UpdateDeliverySettingsRequest represents a partial update of delivery settings
type UpdateDeliverySettingsRequest struct {
	PushEnabled  *bool   `json:"push_enabled,omitempty"`
	EmailEnabled *bool   `json:"email_enabled,omitempty"`
	QuietStart   *string `json:"window_start,omitempty"`
	QuietEnd     *string `json:"window_end,omitempty"`
	ActiveDays   []int   `json:"active_days,omitempty"`
}

func (r *UpdateDeliverySettingsRequest) Validate() error {
	var errs validator.ValidationErrors

	if r.QuietStart != nil {
		if _, ok := ParseClock(*r.QuietStart); !ok {
			errs = append(errs, validator.ValidationError{
				Field:   "window_start",
				Message: "window_start must be HH:MM",
			})
		}
	}

	if r.QuietEnd != nil {
		if _, ok := ParseClock(*r.QuietEnd); !ok {
			errs = append(errs, validator.ValidationError{
				Field:   "window_end",
				Message: "window_end must be HH:MM",
			})
		}
	}

	for _, d := range r.ActiveDays {
		if d < 0 || d > 6 {
			errs = append(errs, validator.ValidationError{
				Field:   "active_days",
				Message: "active_days must be between 0 (Monday) and 6 (Sunday)",
			})
			break
		}
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// Apply merges the request into existing settings
func (r *UpdateDeliverySettingsRequest) Apply(s *DeliverySettings) {
	if r.PushEnabled != nil {
		s.PushEnabled = *r.PushEnabled
	}
	if r.EmailEnabled != nil {
		s.EmailEnabled = *r.EmailEnabled
	}
	if r.QuietStart != nil {
		s.QuietStart = *r.QuietStart
	}
	if r.QuietEnd != nil {
		s.QuietEnd = *r.QuietEnd
	}
	if r.ActiveDays != nil {
		s.ActiveDays = r.ActiveDays
	}
}

// SendCustomRequest represents a message sent by an instructor or administrator
type SendCustomRequest struct {
	RecipientIDs []string               `json:"recipient_ids"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

func (r *SendCustomRequest) Validate() error {
	var errs validator.ValidationErrors

	if len(r.RecipientIDs) == 0 {
		errs = append(errs, validator.ValidationError{
			Field:   "recipient_ids",
			Message: "recipient_ids is required",
		})
	}

	if validator.IsEmpty(r.Title) {
		errs = append(errs, validator.ValidationError{
			Field:   "title",
			Message: "title is required",
		})
	} else if utf8.RuneCountInString(r.Title) > MaxTitleLength {
		errs = append(errs, validator.ValidationError{
			Field:   "title",
			Message: fmt.Sprintf("title must be at most %d characters", MaxTitleLength),
		})
	}

	if validator.IsEmpty(r.Body) {
		errs = append(errs, validator.ValidationError{
			Field:   "body",
			Message: "body is required",
		})
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// ListHistoryRequest represents a request to list delivery history.
// An empty RecipientID lists every user's history.
type ListHistoryRequest struct {
	RecipientID string
	Channel     *Channel
	Status      *DeliveryStatus
	Page        int
	PageSize    int
}

// Normalize applies paging defaults
func (r *ListHistoryRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize < 1 {
		r.PageSize = DefaultPageSize
	}
	if r.PageSize > MaxPageSize {
		r.PageSize = MaxPageSize
	}
}

// ============= Response DTOs =============

// NotificationResponse represents a notification in API responses
type NotificationResponse struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"type"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Reference *Reference             `json:"reference,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	IsRead    bool                   `json:"is_read"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	IsSent    bool                   `json:"is_sent"`
	SentAt    *time.Time             `json:"sent_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewNotificationResponse converts a Notification entity to NotificationResponse
func NewNotificationResponse(n *Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		Reference: n.Reference,
		Data:      n.Data,
		IsRead:    n.IsRead,
		ReadAt:    n.ReadAt,
		IsSent:    n.IsSent,
		SentAt:    n.SentAt,
		CreatedAt: n.CreatedAt,
	}
}

// NotificationListResponse represents a paginated list of notifications
type NotificationListResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	Total         int                    `json:"total"`
	UnreadCount   int                    `json:"unread_count"`
	Page          int                    `json:"page"`
	PageSize      int                    `json:"page_size"`
}

// TypeResponse represents a catalog entry in API responses
type TypeResponse struct {
	Kind        Kind   `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PreferenceResponse represents a notification preference in API responses
type PreferenceResponse struct {
	Kind    Kind   `json:"type"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// DeliverySettingsResponse represents delivery settings in API responses
type DeliverySettingsResponse struct {
	PushEnabled  bool   `json:"push_enabled"`
	EmailEnabled bool   `json:"email_enabled"`
	QuietStart   string `json:"window_start"`
	QuietEnd     string `json:"window_end"`
	ActiveDays   []int  `json:"active_days"`
}

// NewDeliverySettingsResponse converts settings to their API form
func NewDeliverySettingsResponse(s DeliverySettings) DeliverySettingsResponse {
	return DeliverySettingsResponse{
		PushEnabled:  s.PushEnabled,
		EmailEnabled: s.EmailEnabled,
		QuietStart:   s.QuietStart,
		QuietEnd:     s.QuietEnd,
		ActiveDays:   s.ActiveDays,
	}
}

// UnreadCountResponse represents unread count response
type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

// MarkedCountResponse reports how many notifications changed state
type MarkedCountResponse struct {
	Marked int64 `json:"marked"`
}

// SummaryResponse is the inbox overview of a user
type SummaryResponse struct {
	Total  int                    `json:"total"`
	Unread int                    `json:"unread"`
	Read   int                    `json:"read"`
	ByKind map[Kind]int           `json:"by_type"`
	Latest []NotificationResponse `json:"latest"`
}

// HistoryEntryResponse represents a delivery attempt in API responses
type HistoryEntryResponse struct {
	ID             string         `json:"id"`
	NotificationID *string        `json:"notification_id,omitempty"`
	RecipientID    string         `json:"recipient_id"`
	Kind           Kind           `json:"type"`
	Title          string         `json:"title"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	AttemptedAt    time.Time      `json:"attempted_at"`
}

// HistoryListResponse represents a paginated list of delivery attempts
type HistoryListResponse struct {
	Entries  []HistoryEntryResponse `json:"entries"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

// BulkResult summarizes a fan-out over many recipients
type BulkResult struct {
	Sent          int             `json:"sent"`
	Skipped       int             `json:"skipped"`
	Failed        int             `json:"failed"`
	Total         int             `json:"total"`
	Notifications []*Notification `json:"-"`
}

// DeliveryResult summarizes a retry of pending deliveries
type DeliveryResult struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Deferred  int `json:"deferred"`
}

// SSETokenResponse represents the SSE token response
type SSETokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// ============= SSE Event =============

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	Event string               `json:"event"`
	Data  NotificationResponse `json:"data"`
}
