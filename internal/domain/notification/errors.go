package notification

import (
	"errors"
	"fmt"
)

// Error categories, matched with errors.Is
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidState     = errors.New("invalid state")
)

// Notification domain errors
var (
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)
	ErrTypeNotFound         = fmt.Errorf("notification type %w", ErrNotFound)
	ErrTypeInactive         = fmt.Errorf("notification type inactive: %w", ErrNotFound)
	ErrSettingsNotFound     = fmt.Errorf("delivery settings %w", ErrNotFound)
	ErrNotRecipient         = fmt.Errorf("not the recipient of this notification: %w", ErrPermissionDenied)
	ErrSenderNotAllowed     = fmt.Errorf("only instructors and administrators can send notifications: %w", ErrPermissionDenied)
	ErrUnknownKind          = fmt.Errorf("unknown notification kind: %w", ErrInvalidArgument)
	ErrAlreadySent          = fmt.Errorf("notification already sent: %w", ErrInvalidState)
)
