package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
)

// ============= notification.Repository =============

type fakeRepo struct {
	mu    sync.Mutex
	seq   int
	items map[string]*notification.Notification
	// createErr fails Create for the given recipient
	createErr map[string]error
	// unsentPages counts ListUnsent calls
	unsentPages int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[string]*notification.Notification), createErr: make(map[string]error)}
}

func clone(n *notification.Notification) *notification.Notification {
	c := *n
	return &c
}

func (r *fakeRepo) Create(ctx context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.createErr[n.RecipientID]; err != nil {
		return err
	}
	// same limit as the title column
	if utf8.RuneCountInString(n.Title) > notification.MaxTitleLength {
		return fmt.Errorf("title too long: %d characters", utf8.RuneCountInString(n.Title))
	}
	r.seq++
	n.ID = fmt.Sprintf("n-%03d", r.seq)
	n.IsRead, n.ReadAt = false, nil
	n.IsSent, n.SentAt = false, nil
	n.UpdatedAt = n.CreatedAt
	r.items[n.ID] = clone(n)
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.items[id]
	if !ok {
		return nil, notification.ErrNotificationNotFound
	}
	return clone(n), nil
}

func (r *fakeRepo) matching(filter notification.ListFilter) []*notification.Notification {
	var out []*notification.Notification
	for _, n := range r.items {
		if n.RecipientID != filter.RecipientID {
			continue
		}
		if filter.Kind != nil && n.Kind != *filter.Kind {
			continue
		}
		if filter.Read != nil && n.IsRead != *filter.Read {
			continue
		}
		if filter.From != nil && n.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && n.CreatedAt.After(*filter.To) {
			continue
		}
		out = append(out, clone(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *fakeRepo) List(ctx context.Context, filter notification.ListFilter) ([]*notification.Notification, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.matching(filter)
	total := len(all)
	if filter.Offset >= len(all) {
		return []*notification.Notification{}, total, nil
	}
	all = all[filter.Offset:]
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, total, nil
}

func (r *fakeRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	unread := false
	return len(r.lockedMatching(notification.ListFilter{RecipientID: recipientID, Read: &unread})), nil
}

func (r *fakeRepo) lockedMatching(filter notification.ListFilter) []*notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matching(filter)
}

func (r *fakeRepo) CountByKind(ctx context.Context, recipientID string) (map[notification.Kind]int, error) {
	counts := make(map[notification.Kind]int)
	for _, n := range r.lockedMatching(notification.ListFilter{RecipientID: recipientID}) {
		counts[n.Kind]++
	}
	return counts, nil
}

func (r *fakeRepo) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.items[id]
	if !ok || n.IsRead {
		return false, nil
	}
	n.IsRead, n.ReadAt = true, &at
	return true, nil
}

func (r *fakeRepo) MarkReadBatch(ctx context.Context, recipientID string, ids []string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, id := range ids {
		n, ok := r.items[id]
		if ok && n.RecipientID == recipientID && !n.IsRead {
			n.IsRead, n.ReadAt = true, &at
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, n := range r.items {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead, n.ReadAt = true, &at
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.items[id]
	if !ok || n.IsSent {
		return false, nil
	}
	n.IsSent, n.SentAt = true, &at
	return true, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return notification.ErrNotificationNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *fakeRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, n := range r.items {
		if n.CreatedAt.Before(cutoff) {
			delete(r.items, id)
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) ExistsSince(ctx context.Context, recipientID string, kind notification.Kind, ref notification.Reference, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.items {
		if n.RecipientID != recipientID || n.Kind != kind || n.Reference == nil || *n.Reference != ref {
			continue
		}
		if !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) ListUnsent(ctx context.Context, after notification.UnsentCursor, limit int) ([]*notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*notification.Notification
	for _, n := range r.items {
		if n.IsSent || n.CreatedAt.Before(after.CreatedAt) {
			continue
		}
		if n.CreatedAt.Equal(after.CreatedAt) && n.ID <= after.ID {
			continue
		}
		out = append(out, clone(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	r.unsentPages++
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// all returns every stored notification for recipientID, newest first
func (r *fakeRepo) all(recipientID string) []*notification.Notification {
	return r.lockedMatching(notification.ListFilter{RecipientID: recipientID})
}

// ============= notification.TypeRepository =============

type fakeTypeRepo struct {
	types []notification.Type
}

func newFakeTypeRepo() *fakeTypeRepo {
	repo := &fakeTypeRepo{}
	for i, k := range notification.AllKinds() {
		repo.types = append(repo.types, notification.Type{Kind: k, Name: string(k), Active: true, Position: i + 1})
	}
	return repo
}

func (r *fakeTypeRepo) List(ctx context.Context, activeOnly bool) ([]notification.Type, error) {
	var out []notification.Type
	for _, t := range r.types {
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeTypeRepo) GetByKind(ctx context.Context, kind notification.Kind) (*notification.Type, error) {
	for _, t := range r.types {
		if t.Kind == kind {
			c := t
			return &c, nil
		}
	}
	return nil, notification.ErrTypeNotFound
}

func (r *fakeTypeRepo) Create(ctx context.Context, t *notification.Type) error {
	r.types = append(r.types, *t)
	return nil
}

func (r *fakeTypeRepo) Update(ctx context.Context, t *notification.Type) error {
	for i := range r.types {
		if r.types[i].Kind == t.Kind {
			r.types[i] = *t
			return nil
		}
	}
	return notification.ErrTypeNotFound
}

func (r *fakeTypeRepo) deactivate(kind notification.Kind) {
	for i := range r.types {
		if r.types[i].Kind == kind {
			r.types[i].Active = false
		}
	}
}

// ============= notification.PreferenceRepository =============

type fakePrefRepo struct {
	mu       sync.Mutex
	prefs    map[string]map[notification.Kind]bool
	settings map[string]notification.DeliverySettings
	upserts  int
}

func newFakePrefRepo() *fakePrefRepo {
	return &fakePrefRepo{
		prefs:    make(map[string]map[notification.Kind]bool),
		settings: make(map[string]notification.DeliverySettings),
	}
}

func (r *fakePrefRepo) GetByUser(ctx context.Context, userID string) ([]notification.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []notification.Preference
	for kind, enabled := range r.prefs[userID] {
		out = append(out, notification.Preference{UserID: userID, Kind: kind, Enabled: enabled})
	}
	return out, nil
}

func (r *fakePrefRepo) IsEnabled(ctx context.Context, userID string, kind notification.Kind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enabled, ok := r.prefs[userID][kind]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

func (r *fakePrefRepo) Upsert(ctx context.Context, pref *notification.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.prefs[pref.UserID] == nil {
		r.prefs[pref.UserID] = make(map[notification.Kind]bool)
	}
	r.prefs[pref.UserID][pref.Kind] = pref.Enabled
	r.upserts++
	return nil
}

func (r *fakePrefRepo) GetDeliverySettings(ctx context.Context, userID string) (*notification.DeliverySettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.settings[userID]
	if !ok {
		return nil, notification.ErrSettingsNotFound
	}
	return &s, nil
}

func (r *fakePrefRepo) UpsertDeliverySettings(ctx context.Context, settings *notification.DeliverySettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings[settings.UserID] = *settings
	return nil
}

// ============= notification.HistoryRepository =============

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []*notification.HistoryEntry
}

func (r *fakeHistoryRepo) Append(ctx context.Context, entry *notification.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = fmt.Sprintf("h-%03d", len(r.entries)+1)
	c := *entry
	r.entries = append(r.entries, &c)
	return nil
}

func (r *fakeHistoryRepo) List(ctx context.Context, req notification.ListHistoryRequest) ([]*notification.HistoryEntry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*notification.HistoryEntry
	for _, e := range r.entries {
		if req.RecipientID != "" && e.RecipientID != req.RecipientID {
			continue
		}
		if req.Channel != nil && e.Channel != *req.Channel {
			continue
		}
		if req.Status != nil && e.Status != *req.Status {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

// ============= user.UserRepository =============

type fakeUserRepo struct {
	users map[string]user.User
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	u, ok := r.users[id]
	if !ok {
		return user.User{}, user.ErrUserNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetByIDs(ctx context.Context, ids []string) ([]user.User, error) {
	var out []user.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// ============= academic.Repository =============

type fakeAcademic struct {
	activities  map[string]academic.Activity
	pending     map[string][]string
	cohorts     map[string][]string
	instructors map[string][]string
	students    []string
	attendance  map[string]academic.AttendanceSummary
	grades      map[string]academic.GradeSummary
	failFor     map[string]error

	// last window passed to a summary query
	since, until time.Time
}

func newFakeAcademic() *fakeAcademic {
	return &fakeAcademic{
		activities:  make(map[string]academic.Activity),
		pending:     make(map[string][]string),
		cohorts:     make(map[string][]string),
		instructors: make(map[string][]string),
		attendance:  make(map[string]academic.AttendanceSummary),
		grades:      make(map[string]academic.GradeSummary),
		failFor:     make(map[string]error),
	}
}

func (a *fakeAcademic) GetActivity(ctx context.Context, id string) (academic.Activity, error) {
	act, ok := a.activities[id]
	if !ok {
		return academic.Activity{}, academic.ErrActivityNotFound
	}
	return act, nil
}

func (a *fakeAcademic) ActivitiesDueBetween(ctx context.Context, from, to time.Time) ([]academic.Activity, error) {
	var out []academic.Activity
	for _, act := range a.activities {
		if !act.DueAt.Before(from) && !act.DueAt.After(to) {
			out = append(out, act)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *fakeAcademic) PendingStudents(ctx context.Context, activityID string) ([]string, error) {
	return a.pending[activityID], nil
}

func (a *fakeAcademic) CohortStudents(ctx context.Context, cohortID string) ([]string, error) {
	return a.cohorts[cohortID], nil
}

func (a *fakeAcademic) StudentInstructors(ctx context.Context, studentID string) ([]string, error) {
	return a.instructors[studentID], nil
}

func (a *fakeAcademic) ActiveStudents(ctx context.Context) ([]string, error) {
	return a.students, nil
}

func (a *fakeAcademic) AttendanceSummary(ctx context.Context, studentID string, since, until time.Time) (academic.AttendanceSummary, error) {
	a.since, a.until = since, until
	if err := a.failFor[studentID]; err != nil {
		return academic.AttendanceSummary{}, err
	}
	return a.attendance[studentID], nil
}

func (a *fakeAcademic) GradeSummary(ctx context.Context, studentID string, since, until time.Time) (academic.GradeSummary, error) {
	a.since, a.until = since, until
	if err := a.failFor[studentID]; err != nil {
		return academic.GradeSummary{}, err
	}
	return a.grades[studentID], nil
}

// ============= collaborators =============

type fakeTx struct {
	calls int
}

func (t *fakeTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type fakeTransport struct {
	mu      sync.Mutex
	channel notification.Channel
	err     error
	sent    []notification.Message
}

func (t *fakeTransport) Channel() notification.Channel {
	return t.channel
}

func (t *fakeTransport) Send(ctx context.Context, msg notification.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sent = append(t.sent, msg)
	return t.err
}

type fakeCooldown struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func newFakeCooldown() *fakeCooldown {
	return &fakeCooldown{held: make(map[string]bool)}
}

func (c *fakeCooldown) Acquire(ctx context.Context, key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.held[key] {
		return false
	}
	c.held[key] = true
	return true
}

func (c *fakeCooldown) Release(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.held, key)
	c.released = append(c.released, key)
}

var errBoom = errors.New("boom")
