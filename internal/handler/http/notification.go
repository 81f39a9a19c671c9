package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/handler/http/middleware"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/handler/http/response"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/cron"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/jwt"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/validator"
)

const sseKeepaliveInterval = 30 * time.Second

// NotificationHandler defines the notification handler interface
type NotificationHandler interface {
	// Inbox
	List(w http.ResponseWriter, r *http.Request)
	ListUnread(w http.ResponseWriter, r *http.Request)
	UnreadCount(w http.ResponseWriter, r *http.Request)
	Summary(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	MarkRead(w http.ResponseWriter, r *http.Request)
	MarkReadBatch(w http.ResponseWriter, r *http.Request)
	MarkAllRead(w http.ResponseWriter, r *http.Request)
	Delete(w http.ResponseWriter, r *http.Request)

	// Catalog and preferences
	ListTypes(w http.ResponseWriter, r *http.Request)
	GetPreferences(w http.ResponseWriter, r *http.Request)
	UpdatePreferences(w http.ResponseWriter, r *http.Request)
	GetDeliverySettings(w http.ResponseWriter, r *http.Request)
	UpdateDeliverySettings(w http.ResponseWriter, r *http.Request)

	// History, sending and maintenance
	ListHistory(w http.ResponseWriter, r *http.Request)
	Send(w http.ResponseWriter, r *http.Request)
	RunMaintenance(w http.ResponseWriter, r *http.Request)

	// SSE
	GetSSEToken(w http.ResponseWriter, r *http.Request)
	Stream(w http.ResponseWriter, r *http.Request)
}

// MaintenanceRunner runs maintenance tasks on demand
type MaintenanceRunner interface {
	RunTask(ctx context.Context, task string, cleanupDays int) ([]*cron.Report, error)
}

type notificationHandlerImpl struct {
	notifService notification.Service
	jwtService   jwt.Service
	maintenance  MaintenanceRunner
	loc          *time.Location
	retention    int
}

// NewNotificationHandler creates a new notification handler. Bare dates in
// query filters are interpreted in loc; retentionDays is the default cleanup age.
func NewNotificationHandler(
	notifService notification.Service,
	jwtService jwt.Service,
	maintenance MaintenanceRunner,
	loc *time.Location,
	retentionDays int,
) NotificationHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &notificationHandlerImpl{
		notifService: notifService,
		jwtService:   jwtService,
		maintenance:  maintenance,
		loc:          loc,
		retention:    retentionDays,
	}
}

// getIntQueryParam gets an int query parameter with a default value
func getIntQueryParam(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

// actorOrUnauthorized writes 401 when the request carries no actor
func actorOrUnauthorized(w http.ResponseWriter, r *http.Request) (user.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok || actor.ID == "" {
		response.Unauthorized(w, "Unauthorized")
		return user.Actor{}, false
	}
	return actor, true
}

// parseListRequest reads the inbox filters from the query string
func (h *notificationHandlerImpl) parseListRequest(r *http.Request, recipientID string) (notification.ListNotificationsRequest, error) {
	q := r.URL.Query()
	req := notification.ListNotificationsRequest{
		RecipientID: recipientID,
		Page:        getIntQueryParam(r, "page", 1),
		PageSize:    getIntQueryParam(r, "page_size", notification.DefaultPageSize),
	}

	var errs validator.ValidationErrors

	if v := q.Get("type"); v != "" {
		kind := notification.Kind(v)
		req.Kind = &kind
	}

	if v := q.Get("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, validator.ValidationError{Field: "read", Message: "read must be true or false"})
		} else {
			req.Read = &read
		}
	}

	if v := q.Get("from"); v != "" {
		from, ok := validator.ParseTimeParam(v, h.loc, false)
		if !ok {
			errs = append(errs, validator.ValidationError{Field: "from", Message: "from must be YYYY-MM-DD or RFC3339"})
		} else {
			req.From = &from
		}
	}

	if v := q.Get("to"); v != "" {
		to, ok := validator.ParseTimeParam(v, h.loc, true)
		if !ok {
			errs = append(errs, validator.ValidationError{Field: "to", Message: "to must be YYYY-MM-DD or RFC3339"})
		} else {
			req.To = &to
		}
	}

	if len(errs) > 0 {
		return req, errs
	}
	return req, nil
}

// List returns paginated notifications for the authenticated user
func (h *notificationHandlerImpl) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	req, err := h.parseListRequest(r, actor.ID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	result, err := h.notifService.List(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMeta(w, result, response.NewMeta(result.Page, result.PageSize, int64(result.Total)))
}

func (h *notificationHandlerImpl) ListUnread(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	result, err := h.notifService.ListUnread(r.Context(), actor.ID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

// UnreadCount returns the count of unread notifications
func (h *notificationHandlerImpl) UnreadCount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	count, err := h.notifService.UnreadCount(r.Context(), actor.ID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, notification.UnreadCountResponse{UnreadCount: count})
}

func (h *notificationHandlerImpl) Summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	summary, err := h.notifService.Summary(r.Context(), actor.ID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, summary)
}

// Get returns one notification and marks it read
func (h *notificationHandlerImpl) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	result, err := h.notifService.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}

func (h *notificationHandlerImpl) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	n, err := h.notifService.MarkRead(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Notification marked as read", notification.NewNotificationResponse(n))
}

// MarkReadBatch marks specified notifications as read
func (h *notificationHandlerImpl) MarkReadBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req notification.MarkAsReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}

	marked, err := h.notifService.MarkReadBatch(r.Context(), actor, req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Notifications marked as read", notification.MarkedCountResponse{Marked: marked})
}

// MarkAllRead marks all notifications as read
func (h *notificationHandlerImpl) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	marked, err := h.notifService.MarkAllRead(r.Context(), actor.ID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "All notifications marked as read", notification.MarkedCountResponse{Marked: marked})
}

// Delete removes a notification
func (h *notificationHandlerImpl) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.notifService.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Notification deleted", nil)
}

func (h *notificationHandlerImpl) ListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.notifService.ListTypes(r.Context())
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, types)
}

// GetPreferences lists every active kind with the user's switch
func (h *notificationHandlerImpl) GetPreferences(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	types, err := h.notifService.ListTypes(r.Context())
	if err != nil {
		response.HandleError(w, err)
		return
	}

	prefs, err := h.notifService.GetPreferences(r.Context(), actor.ID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	result := make([]notification.PreferenceResponse, len(types))
	for i, t := range types {
		enabled, found := prefs[t.Kind]
		result[i] = notification.PreferenceResponse{
			Kind:    t.Kind,
			Name:    t.Name,
			Enabled: enabled || !found,
		}
	}

	response.Success(w, result)
}

func (h *notificationHandlerImpl) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req notification.UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}

	if err := req.Validate(); err != nil {
		response.HandleError(w, err)
		return
	}

	if err := h.notifService.SetPreferences(r.Context(), actor.ID, req.Preferences); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Preferences updated", nil)
}

func (h *notificationHandlerImpl) GetDeliverySettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	settings, err := h.notifService.GetDeliverySettings(r.Context(), actor.ID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, notification.NewDeliverySettingsResponse(*settings))
}

func (h *notificationHandlerImpl) UpdateDeliverySettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req notification.UpdateDeliverySettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}

	settings, err := h.notifService.UpdateDeliverySettings(r.Context(), actor.ID, req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Delivery settings updated", notification.NewDeliverySettingsResponse(*settings))
}

// ListHistory lists delivery attempts; administrators may filter by recipient
func (h *notificationHandlerImpl) ListHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := notification.ListHistoryRequest{
		RecipientID: q.Get("recipient_id"),
		Page:        getIntQueryParam(r, "page", 1),
		PageSize:    getIntQueryParam(r, "page_size", notification.DefaultPageSize),
	}
	if v := q.Get("channel"); v != "" {
		channel := notification.Channel(v)
		req.Channel = &channel
	}
	if v := q.Get("status"); v != "" {
		status := notification.DeliveryStatus(v)
		req.Status = &status
	}

	result, err := h.notifService.ListHistory(r.Context(), actor, req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMeta(w, result, response.NewMeta(result.Page, result.PageSize, int64(result.Total)))
}

// Send creates SYSTEM notifications for the given recipients
func (h *notificationHandlerImpl) Send(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req notification.SendCustomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}

	result, err := h.notifService.SendCustom(r.Context(), actor, req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Created(w, "Notifications sent", result)
}

// RunMaintenance runs one maintenance task now and returns its reports
func (h *notificationHandlerImpl) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.maintenance == nil {
		response.NotFound(w, "Maintenance is not available")
		return
	}

	task := chi.URLParam(r, "task")
	cleanupDays := getIntQueryParam(r, "cleanup_days", h.retention)

	reports, err := h.maintenance.RunTask(r.Context(), task, cleanupDays)
	if err != nil {
		if errors.Is(err, cron.ErrUnknownTask) {
			response.BadRequest(w, err.Error(), nil)
			return
		}
		if errors.Is(err, cron.ErrTaskRunning) && len(reports) == 0 {
			response.Conflict(w, err.Error())
			return
		}
		if len(reports) == 0 {
			response.HandleError(w, err)
			return
		}
	}

	response.Success(w, reports)
}

// GetSSEToken generates a short-lived token for SSE connections
func (h *notificationHandlerImpl) GetSSEToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	token, expiresIn, err := h.jwtService.GenerateSSEToken(actor)
	if err != nil {
		response.InternalServerError(w, "Failed to generate SSE token")
		return
	}

	response.Success(w, notification.SSETokenResponse{
		Token:     token,
		ExpiresIn: expiresIn,
	})
}

// Stream handles SSE connection for real-time notifications
func (h *notificationHandlerImpl) Stream(w http.ResponseWriter, r *http.Request) {
	// Get token from query parameter (SSE doesn't support custom headers)
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		response.Unauthorized(w, "Missing token")
		return
	}

	actor, err := h.jwtService.ValidateSSEToken(tokenStr)
	if err != nil {
		response.Unauthorized(w, "Invalid token")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalServerError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, cleanup := h.notifService.Subscribe(r.Context(), actor.ID)
	defer cleanup()

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"user_id\":%q}\n\n", actor.ID)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprintf(w, "event: ping\ndata: {\"timestamp\":%d}\n\n", time.Now().Unix())
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
