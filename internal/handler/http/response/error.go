package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	// Check if it's a validation error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	// Notification domain errors
	case errors.Is(err, notification.ErrNotificationNotFound):
		NotFound(w, "Notification not found")
	case errors.Is(err, notification.ErrTypeInactive):
		NotFound(w, "Notification type is inactive")
	case errors.Is(err, notification.ErrTypeNotFound):
		NotFound(w, "Notification type not found")
	case errors.Is(err, notification.ErrNotRecipient):
		Forbidden(w, "Not the recipient of this notification")
	case errors.Is(err, notification.ErrSenderNotAllowed):
		Forbidden(w, "Only instructors and administrators can send notifications")
	case errors.Is(err, notification.ErrAlreadySent):
		Conflict(w, "Notification already sent")

	// User domain errors
	case errors.Is(err, user.ErrUserNotFound):
		NotFound(w, "User not found")
	case errors.Is(err, user.ErrInvalidRole):
		Unauthorized(w, "Invalid role")
	case errors.Is(err, user.ErrInsufficientPermissions):
		Forbidden(w, err.Error())

	// Academic domain errors
	case errors.Is(err, academic.ErrActivityNotFound):
		NotFound(w, "Activity not found")

	// Categories
	case errors.Is(err, notification.ErrNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, notification.ErrPermissionDenied):
		Forbidden(w, err.Error())
	case errors.Is(err, notification.ErrInvalidArgument):
		BadRequest(w, err.Error(), nil)
	case errors.Is(err, notification.ErrInvalidState):
		Conflict(w, err.Error())

	// Default
	default:
		slog.Error("Unhandled error", "error", err)
		InternalServerError(w, "An unexpected error occurred")
	}
}
