package notification

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind identifies a notification type in the catalog
type Kind string

const (
	KindNewActivity      Kind = "NEW_ACTIVITY"
	KindActivityGraded   Kind = "ACTIVITY_GRADED"
	KindCommitteeSummons Kind = "COMMITTEE_SUMMONS"
	KindHighAbsenteeism  Kind = "HIGH_ABSENTEEISM"
	KindLowPerformance   Kind = "LOW_PERFORMANCE"
	KindReminder         Kind = "REMINDER"
	KindSystem           Kind = "SYSTEM"
)

// AllKinds returns all notification kinds in catalog order
func AllKinds() []Kind {
	return []Kind{
		KindNewActivity,
		KindActivityGraded,
		KindCommitteeSummons,
		KindHighAbsenteeism,
		KindLowPerformance,
		KindReminder,
		KindSystem,
	}
}

// IsValid reports whether k is one of the known kinds
func (k Kind) IsValid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Type is a catalog entry describing a notification kind
type Type struct {
	Kind        Kind
	Name        string
	Description string
	Active      bool
	Position    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReferenceKind identifies what a notification points at
type ReferenceKind string

const (
	RefActivity   ReferenceKind = "ACTIVITY"
	RefGrade      ReferenceKind = "GRADE"
	RefSummons    ReferenceKind = "SUMMONS"
	RefAttendance ReferenceKind = "ATTENDANCE"
	RefStudent    ReferenceKind = "STUDENT"
)

// Reference is a typed link to the academic entity a notification is about
type Reference struct {
	Kind ReferenceKind `json:"kind"`
	ID   string        `json:"id"`
}

// Notification represents a notification entity
type Notification struct {
	ID          string
	RecipientID string
	Kind        Kind
	Title       string
	Body        string
	Reference   *Reference
	Data        map[string]interface{}
	IsRead      bool
	ReadAt      *time.Time
	IsSent      bool
	SentAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MaxTitleLength is the longest title the store accepts, in characters
const MaxTitleLength = 200

// TruncateTitle shortens title to MaxTitleLength characters, ending it with
// an ellipsis when something was cut
func TruncateTitle(title string) string {
	if utf8.RuneCountInString(title) <= MaxTitleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:MaxTitleLength-1]) + "…"
}

// Preference enables or disables one kind for one user
type Preference struct {
	UserID    string
	Kind      Kind
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Channel is a delivery medium
type Channel string

const (
	ChannelPush  Channel = "PUSH"
	ChannelEmail Channel = "EMAIL"
)

// DeliveryStatus is the outcome of a dispatch attempt
type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "SENT"
	StatusFailed DeliveryStatus = "FAILED"
)

// DeliverySettings controls how and when a user's notifications are delivered.
// Creation of notifications is never affected by these settings.
type DeliverySettings struct {
	UserID       string
	PushEnabled  bool
	EmailEnabled bool
	QuietStart   string // HH:MM, start of the delivery window
	QuietEnd     string // HH:MM, end of the delivery window
	ActiveDays   []int  // 0 = Monday ... 6 = Sunday
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	DefaultWindowStart = "07:00"
	DefaultWindowEnd   = "22:00"
)

// DefaultDeliverySettings returns the settings used for users that never configured them
func DefaultDeliverySettings(userID string) DeliverySettings {
	return DeliverySettings{
		UserID:       userID,
		PushEnabled:  true,
		EmailEnabled: true,
		QuietStart:   DefaultWindowStart,
		QuietEnd:     DefaultWindowEnd,
		ActiveDays:   []int{0, 1, 2, 3, 4, 5, 6},
	}
}

// ChannelEnabled reports whether the user accepts deliveries on ch
func (s DeliverySettings) ChannelEnabled(ch Channel) bool {
	switch ch {
	case ChannelPush:
		return s.PushEnabled
	case ChannelEmail:
		return s.EmailEnabled
	}
	return false
}

// AcceptsAt reports whether t falls on an active day and inside the delivery window.
// A window whose end is before its start wraps past midnight; equal bounds mean all day.
func (s DeliverySettings) AcceptsAt(t time.Time) bool {
	day := (int(t.Weekday()) + 6) % 7
	activeDay := false
	for _, d := range s.ActiveDays {
		if d == day {
			activeDay = true
			break
		}
	}
	if !activeDay {
		return false
	}

	start, okStart := ParseClock(s.QuietStart)
	end, okEnd := ParseClock(s.QuietEnd)
	if !okStart || !okEnd || start == end {
		return true
	}

	now := t.Hour()*60 + t.Minute()
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// ParseClock converts HH:MM to minutes since midnight
func ParseClock(v string) (int, bool) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// HistoryEntry records one dispatch attempt on one channel
type HistoryEntry struct {
	ID             string
	NotificationID *string
	RecipientID    string
	Kind           Kind
	Title          string
	Channel        Channel
	Status         DeliveryStatus
	ErrorMessage   string
	AttemptedAt    time.Time
}
