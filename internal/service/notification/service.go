package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/sse"
)

// Config holds notification rules
type Config struct {
	AbsenceWindowDays     int     // default: 30
	AbsenceThreshold      float64 // default: 0.20
	PerformanceWindowDays int     // default: 30
	PerformanceThreshold  float64 // default: 3.0
	ReminderLookahead     time.Duration
	PendingBatchSize      int // default: 500
	Location              *time.Location
	Now                   func() time.Time
}

// Cooldown suppresses concurrent duplicate alerts
type Cooldown interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) bool
	Release(ctx context.Context, key string)
}

// Repositories groups the stores the service reads and writes
type Repositories struct {
	Notifications notification.Repository
	Types         notification.TypeRepository
	Preferences   notification.PreferenceRepository
	History       notification.HistoryRepository
	Users         user.UserRepository
	Academic      academic.Repository
	Transactor    notification.Transactor
}

// Option customizes the service
type Option func(*service)

// WithTransport adds a delivery channel
func WithTransport(t notification.Transport) Option {
	return func(s *service) {
		s.transports = append(s.transports, t)
	}
}

// WithCooldown guards threshold alerts with c
func WithCooldown(c Cooldown) Option {
	return func(s *service) {
		s.cooldown = c
	}
}

type service struct {
	repo        notification.Repository
	typeRepo    notification.TypeRepository
	prefRepo    notification.PreferenceRepository
	historyRepo notification.HistoryRepository
	userRepo    user.UserRepository
	academic    academic.Repository
	tx          notification.Transactor
	hub         *sse.Hub
	transports  []notification.Transport
	cooldown    Cooldown
	config      Config
}

// NewNotificationService creates the notification service
func NewNotificationService(repos Repositories, hub *sse.Hub, cfg Config, opts ...Option) notification.Service {
	// Set defaults
	if cfg.AbsenceWindowDays == 0 {
		cfg.AbsenceWindowDays = 30
	}
	if cfg.AbsenceThreshold == 0 {
		cfg.AbsenceThreshold = 0.20
	}
	if cfg.PerformanceWindowDays == 0 {
		cfg.PerformanceWindowDays = 30
	}
	if cfg.PerformanceThreshold == 0 {
		cfg.PerformanceThreshold = 3.0
	}
	if cfg.ReminderLookahead == 0 {
		cfg.ReminderLookahead = 48 * time.Hour
	}
	if cfg.PendingBatchSize <= 0 {
		cfg.PendingBatchSize = defaultPendingBatchSize
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &service{
		repo:        repos.Notifications,
		typeRepo:    repos.Types,
		prefRepo:    repos.Preferences,
		historyRepo: repos.History,
		userRepo:    repos.Users,
		academic:    repos.Academic,
		tx:          repos.Transactor,
		hub:         hub,
		config:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	channels := make([]string, 0, len(s.transports))
	for _, t := range s.transports {
		channels = append(channels, string(t.Channel()))
	}
	slog.Info("Notification service initialized",
		"channels", channels,
		"absence_threshold", cfg.AbsenceThreshold,
		"performance_threshold", cfg.PerformanceThreshold,
		"cooldown", s.cooldown != nil,
	)

	return s
}

func (s *service) now() time.Time {
	return s.config.Now().UTC()
}

// ============= Type registry =============

// ListTypes returns the active catalog in insertion order
func (s *service) ListTypes(ctx context.Context) ([]notification.TypeResponse, error) {
	types, err := s.typeRepo.List(ctx, true)
	if err != nil {
		return nil, err
	}

	responses := make([]notification.TypeResponse, len(types))
	for i, t := range types {
		responses[i] = notification.TypeResponse{
			Kind:        t.Kind,
			Name:        t.Name,
			Description: t.Description,
		}
	}
	return responses, nil
}

// GetType fails with NotFound when the kind is unknown or inactive
func (s *service) GetType(ctx context.Context, kind notification.Kind) (*notification.Type, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%s: %w", kind, notification.ErrTypeNotFound)
	}

	t, err := s.typeRepo.GetByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, fmt.Errorf("%s: %w", kind, notification.ErrTypeInactive)
	}
	return t, nil
}

// ============= Inbox =============

// List retrieves a filtered page of a user's notifications
func (s *service) List(ctx context.Context, req notification.ListNotificationsRequest) (*notification.NotificationListResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", notification.ErrInvalidArgument, err)
	}

	notifications, total, err := s.repo.List(ctx, notification.ListFilter{
		RecipientID: req.RecipientID,
		Kind:        req.Kind,
		Read:        req.Read,
		From:        req.From,
		To:          req.To,
		Limit:       req.PageSize,
		Offset:      (req.Page - 1) * req.PageSize,
	})
	if err != nil {
		return nil, err
	}

	unreadCount, err := s.repo.CountUnread(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}

	return &notification.NotificationListResponse{
		Notifications: toResponses(notifications),
		Total:         total,
		UnreadCount:   unreadCount,
		Page:          req.Page,
		PageSize:      req.PageSize,
	}, nil
}

// Get returns one of the actor's notifications and marks it read.
// Other users' notifications are reported as missing.
func (s *service) Get(ctx context.Context, actor user.Actor, id string) (*notification.NotificationResponse, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != actor.ID {
		return nil, notification.ErrNotificationNotFound
	}

	if !n.IsRead {
		at := s.now()
		changed, err := s.repo.MarkRead(ctx, n.ID, at)
		if err != nil {
			return nil, err
		}
		if changed {
			n.IsRead = true
			n.ReadAt = &at
		}
	}

	resp := notification.NewNotificationResponse(n)
	return &resp, nil
}

func (s *service) ListUnread(ctx context.Context, userID string) ([]notification.NotificationResponse, error) {
	unread := false
	notifications, _, err := s.repo.List(ctx, notification.ListFilter{
		RecipientID: userID,
		Read:        &unread,
		Limit:       notification.MaxPageSize,
	})
	if err != nil {
		return nil, err
	}
	return toResponses(notifications), nil
}

func (s *service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// Summary returns totals per state and kind plus the five latest notifications
func (s *service) Summary(ctx context.Context, userID string) (*notification.SummaryResponse, error) {
	byKind, err := s.repo.CountByKind(ctx, userID)
	if err != nil {
		return nil, err
	}

	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}

	latest, _, err := s.repo.List(ctx, notification.ListFilter{RecipientID: userID, Limit: 5})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, c := range byKind {
		total += c
	}

	return &notification.SummaryResponse{
		Total:  total,
		Unread: unread,
		Read:   total - unread,
		ByKind: byKind,
		Latest: toResponses(latest),
	}, nil
}

// MarkRead is idempotent: an already read notification is returned unchanged
func (s *service) MarkRead(ctx context.Context, actor user.Actor, id string) (*notification.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != actor.ID {
		return nil, notification.ErrNotRecipient
	}
	if n.IsRead {
		return n, nil
	}

	at := s.now()
	changed, err := s.repo.MarkRead(ctx, id, at)
	if err != nil {
		return nil, err
	}
	if !changed {
		// read concurrently
		return s.repo.GetByID(ctx, id)
	}

	n.IsRead = true
	n.ReadAt = &at
	return n, nil
}

// MarkReadBatch marks the actor's unread notifications among the ids
func (s *service) MarkReadBatch(ctx context.Context, actor user.Actor, req notification.MarkAsReadRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", notification.ErrInvalidArgument, err)
	}
	return s.repo.MarkReadBatch(ctx, actor.ID, req.NotificationIDs, s.now())
}

func (s *service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

// MarkSent fails with InvalidState when the notification was already sent
func (s *service) MarkSent(ctx context.Context, id string) (*notification.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.IsSent {
		return nil, notification.ErrAlreadySent
	}

	at := s.now()
	changed, err := s.repo.MarkSent(ctx, id, at)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, notification.ErrAlreadySent
	}

	n.IsSent = true
	n.SentAt = &at
	return n, nil
}

// Delete removes a notification owned by the actor, or any notification for administrators
func (s *service) Delete(ctx context.Context, actor user.Actor, id string) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n.RecipientID != actor.ID && !actor.Can(user.PermissionNotificationDeleteAny) {
		return notification.ErrNotRecipient
	}
	return s.repo.Delete(ctx, id)
}

// PurgeOlderThan deletes notifications created more than ageDays ago
func (s *service) PurgeOlderThan(ctx context.Context, ageDays int) (int64, error) {
	if ageDays <= 0 {
		return 0, fmt.Errorf("age must be at least one day: %w", notification.ErrInvalidArgument)
	}

	cutoff := s.now().Add(-time.Duration(ageDays) * 24 * time.Hour)
	deleted, err := s.repo.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	slog.Info("Purged old notifications", "age_days", ageDays, "cutoff", cutoff, "deleted", deleted)
	return deleted, nil
}

// ============= Preferences =============

// GetPreferences returns every catalog kind; kinds without a stored row are enabled
func (s *service) GetPreferences(ctx context.Context, userID string) (map[notification.Kind]bool, error) {
	types, err := s.typeRepo.List(ctx, false)
	if err != nil {
		return nil, err
	}

	prefs, err := s.prefRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make(map[notification.Kind]bool, len(types))
	for _, t := range types {
		result[t.Kind] = true
	}
	for _, p := range prefs {
		result[p.Kind] = p.Enabled
	}
	return result, nil
}

// SetPreferences upserts every entry in one transaction. An unknown kind
// rejects the whole update before anything is written.
func (s *service) SetPreferences(ctx context.Context, userID string, prefs map[notification.Kind]bool) error {
	if len(prefs) == 0 {
		return fmt.Errorf("no preferences given: %w", notification.ErrInvalidArgument)
	}

	kinds := make([]notification.Kind, 0, len(prefs))
	for kind := range prefs {
		if !kind.IsValid() {
			return fmt.Errorf("%q: %w", kind, notification.ErrUnknownKind)
		}
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		for _, kind := range kinds {
			if err := s.prefRepo.Upsert(ctx, &notification.Preference{
				UserID:    userID,
				Kind:      kind,
				Enabled:   prefs[kind],
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service) IsEnabled(ctx context.Context, userID string, kind notification.Kind) (bool, error) {
	return s.prefRepo.IsEnabled(ctx, userID, kind)
}

// GetDeliverySettings returns stored settings or the defaults
func (s *service) GetDeliverySettings(ctx context.Context, userID string) (*notification.DeliverySettings, error) {
	settings, err := s.prefRepo.GetDeliverySettings(ctx, userID)
	if errors.Is(err, notification.ErrSettingsNotFound) {
		defaults := notification.DefaultDeliverySettings(userID)
		return &defaults, nil
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *service) UpdateDeliverySettings(ctx context.Context, userID string, req notification.UpdateDeliverySettingsRequest) (*notification.DeliverySettings, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", notification.ErrInvalidArgument, err)
	}

	settings, err := s.GetDeliverySettings(ctx, userID)
	if err != nil {
		return nil, err
	}

	req.Apply(settings)
	settings.UpdatedAt = s.now()

	if err := s.prefRepo.UpsertDeliverySettings(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// ============= History =============

// ListHistory lists delivery attempts; only administrators see other users' entries
func (s *service) ListHistory(ctx context.Context, actor user.Actor, req notification.ListHistoryRequest) (*notification.HistoryListResponse, error) {
	if !actor.Can(user.PermissionNotificationHistoryAll) {
		req.RecipientID = actor.ID
	}
	req.Normalize()

	entries, total, err := s.historyRepo.List(ctx, req)
	if err != nil {
		return nil, err
	}

	responses := make([]notification.HistoryEntryResponse, len(entries))
	for i, e := range entries {
		responses[i] = notification.HistoryEntryResponse{
			ID:             e.ID,
			NotificationID: e.NotificationID,
			RecipientID:    e.RecipientID,
			Kind:           e.Kind,
			Title:          e.Title,
			Channel:        e.Channel,
			Status:         e.Status,
			ErrorMessage:   e.ErrorMessage,
			AttemptedAt:    e.AttemptedAt,
		}
	}

	return &notification.HistoryListResponse{
		Entries:  responses,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	}, nil
}

// ============= SSE =============

// Subscribe creates an SSE subscription for a user
func (s *service) Subscribe(ctx context.Context, userID string) (<-chan notification.SSEEvent, func()) {
	ch, cleanup := s.hub.Subscribe(userID)

	out := make(chan notification.SSEEvent, 10)

	go func() {
		defer close(out)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				resp, ok := event.Data.(notification.NotificationResponse)
				if !ok {
					continue
				}
				select {
				case out <- notification.SSEEvent{Event: event.Event, Data: resp}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cleanup
}

func toResponses(notifications []*notification.Notification) []notification.NotificationResponse {
	responses := make([]notification.NotificationResponse, len(notifications))
	for i, n := range notifications {
		responses[i] = notification.NewNotificationResponse(n)
	}
	return responses
}
