package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/academic"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/sse"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday, inside the default delivery window
var testNow = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

var (
	student    = user.Actor{ID: "stu-1", Role: user.RoleStudent}
	student2   = user.Actor{ID: "stu-2", Role: user.RoleStudent}
	instructor = user.Actor{ID: "ins-1", Role: user.RoleInstructor}
	admin      = user.Actor{ID: "adm-1", Role: user.RoleAdmin}
)

type harness struct {
	svc      notification.Service
	repo     *fakeRepo
	types    *fakeTypeRepo
	prefs    *fakePrefRepo
	history  *fakeHistoryRepo
	academic *fakeAcademic
	tx       *fakeTx
	push     *fakeTransport
	email    *fakeTransport
	cooldown *fakeCooldown
	hub      *sse.Hub
	now      time.Time
}

type harnessOptions struct {
	noTransports bool
	noCooldown   bool
	// hubPush publishes to the hub instead of recording pushes
	hubPush      bool
	pendingBatch int
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	h := &harness{
		repo:     newFakeRepo(),
		types:    newFakeTypeRepo(),
		prefs:    newFakePrefRepo(),
		history:  &fakeHistoryRepo{},
		academic: newFakeAcademic(),
		tx:       &fakeTx{},
		push:     &fakeTransport{channel: notification.ChannelPush},
		email:    &fakeTransport{channel: notification.ChannelEmail},
		cooldown: newFakeCooldown(),
		hub:      sse.NewHub(),
		now:      testNow,
	}
	t.Cleanup(h.hub.Close)

	users := &fakeUserRepo{users: map[string]user.User{
		"stu-1": {ID: "stu-1", FirstName: "Ana", LastName: "Pérez", Email: "ana@example.com", Role: user.RoleStudent, Active: true},
		"stu-2": {ID: "stu-2", FirstName: "Luis", Role: user.RoleStudent, Active: true},
		"ins-1": {ID: "ins-1", FirstName: "Marta", LastName: "Gómez", Email: "marta@example.com", Role: user.RoleInstructor, Active: true},
	}}

	var options []Option
	switch {
	case opts.hubPush:
		options = append(options, WithTransport(NewPushTransport(h.hub)))
	case !opts.noTransports:
		options = append(options, WithTransport(h.push), WithTransport(h.email))
	}
	if !opts.noCooldown {
		options = append(options, WithCooldown(h.cooldown))
	}

	h.svc = NewNotificationService(Repositories{
		Notifications: h.repo,
		Types:         h.types,
		Preferences:   h.prefs,
		History:       h.history,
		Users:         users,
		Academic:      h.academic,
		Transactor:    h.tx,
	}, h.hub, Config{
		Location:         time.UTC,
		PendingBatchSize: opts.pendingBatch,
		Now:              func() time.Time { return h.now },
	}, options...)

	return h
}

func (h *harness) sendCustom(t *testing.T, recipients ...string) []*notification.Notification {
	t.Helper()
	result, err := h.svc.SendCustom(context.Background(), instructor, notification.SendCustomRequest{
		RecipientIDs: recipients,
		Title:        "Aviso",
		Body:         "Mañana no hay clase",
	})
	require.NoError(t, err)
	return result.Notifications
}

// ============= Event triggers =============

func TestOnAttendanceRecorded(t *testing.T) {
	ctx := context.Background()

	t.Run("three absences out of ten sessions alert the student once", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.academic.attendance["stu-1"] = academic.AttendanceSummary{Sessions: 10, Absences: 3}

		created, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.NoError(t, err)
		require.Len(t, created, 1)

		n := created[0]
		assert.Equal(t, "stu-1", n.RecipientID)
		assert.Equal(t, notification.KindHighAbsenteeism, n.Kind)
		assert.Equal(t, &notification.Reference{Kind: notification.RefStudent, ID: "stu-1"}, n.Reference)
		assert.Contains(t, n.Body, "30.0%")
		assert.Equal(t, 30.0, n.Data["percentage"])

		assert.Equal(t, testNow.Add(-30*24*time.Hour), h.academic.since)
		assert.Equal(t, testNow, h.academic.until)

		again, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.NoError(t, err)
		assert.Empty(t, again)
		assert.Len(t, h.repo.all("stu-1"), 1)
	})

	t.Run("instructors receive the alert with the student name", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.academic.attendance["stu-1"] = academic.AttendanceSummary{Sessions: 10, Absences: 5}
		h.academic.instructors["stu-1"] = []string{"ins-1"}

		created, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.NoError(t, err)
		require.Len(t, created, 2)

		inbox := h.repo.all("ins-1")
		require.Len(t, inbox, 1)
		assert.Contains(t, inbox[0].Body, "Ana Pérez")
		assert.Contains(t, inbox[0].Body, "50.0%")
		assert.Equal(t, "stu-1", inbox[0].Reference.ID)
	})

	t.Run("ratio at the threshold does not alert", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.academic.attendance["stu-1"] = academic.AttendanceSummary{Sessions: 10, Absences: 2}

		created, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.NoError(t, err)
		assert.Empty(t, created)
		assert.Empty(t, h.repo.all("stu-1"))
	})

	t.Run("no sessions does not alert", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		created, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.NoError(t, err)
		assert.Empty(t, created)
	})

	t.Run("read but undelivered alert still blocks a repeat in the window", func(t *testing.T) {
		h := newHarness(t, harnessOptions{noTransports: true, noCooldown: true})
		h.academic.attendance["stu-1"] = academic.AttendanceSummary{Sessions: 4, Absences: 2}

		created, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.NoError(t, err)
		require.Len(t, created, 1)

		_, err = h.svc.MarkRead(ctx, student, created[0].ID)
		require.NoError(t, err)

		again, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.NoError(t, err)
		assert.Empty(t, again)
		assert.Len(t, h.repo.all("stu-1"), 1)
	})

	t.Run("cooldown suppresses a repeated alert", func(t *testing.T) {
		h := newHarness(t, harnessOptions{noTransports: true})
		h.academic.attendance["stu-1"] = academic.AttendanceSummary{Sessions: 4, Absences: 2}

		created, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.NoError(t, err)
		require.Len(t, created, 1)

		// without the stored alert only the cooldown can hold the repeat back
		require.NoError(t, h.repo.Delete(ctx, created[0].ID))

		again, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("failed creation releases the cooldown", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.academic.attendance["stu-1"] = academic.AttendanceSummary{Sessions: 4, Absences: 2}
		h.repo.createErr["stu-1"] = errBoom

		_, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		require.Error(t, err)
		assert.Equal(t, []string{"HIGH_ABSENTEEISM:stu-1:stu-1"}, h.cooldown.released)
	})

	t.Run("empty student id", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		_, err := h.svc.OnAttendanceRecorded(ctx, "")
		assert.ErrorIs(t, err, notification.ErrInvalidArgument)
	})

	t.Run("summary failure is returned", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.academic.failFor["stu-1"] = errBoom

		_, err := h.svc.OnAttendanceRecorded(ctx, "stu-1")
		assert.ErrorIs(t, err, errBoom)
	})
}

func TestCheckLowPerformance(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		summary academic.GradeSummary
		alerts  int
	}{
		{name: "average below threshold", summary: academic.GradeSummary{Count: 4, Average: 2.5}, alerts: 1},
		{name: "average at threshold", summary: academic.GradeSummary{Count: 4, Average: 3.0}, alerts: 0},
		{name: "no grades", summary: academic.GradeSummary{}, alerts: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			h.academic.grades["stu-1"] = tt.summary

			created, err := h.svc.CheckLowPerformance(ctx, "stu-1")
			require.NoError(t, err)
			assert.Len(t, created, tt.alerts)
		})
	}

	t.Run("body carries the rounded average", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.academic.grades["stu-1"] = academic.GradeSummary{Count: 3, Average: 2.3333}

		created, err := h.svc.CheckLowPerformance(ctx, "stu-1")
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, notification.KindLowPerformance, created[0].Kind)
		assert.Contains(t, created[0].Body, "2.33")
		assert.Equal(t, 2.33, created[0].Data["average"])
	})
}

func TestOnActivityGraded(t *testing.T) {
	ctx := context.Background()
	grade := academic.Grade{
		ID:            "g-1",
		ActivityID:    "act-1",
		ActivityTitle: "Taller de redes",
		StudentID:     "stu-1",
		Score:         4.5,
	}

	t.Run("creates and delivers one notification", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		n, err := h.svc.OnActivityGraded(ctx, grade)
		require.NoError(t, err)
		require.NotNil(t, n)

		assert.Equal(t, notification.KindActivityGraded, n.Kind)
		assert.Equal(t, &notification.Reference{Kind: notification.RefGrade, ID: "g-1"}, n.Reference)
		assert.Equal(t, "Tu actividad 'Taller de redes' ha sido valorada con: 4.5.", n.Body)
		assert.False(t, n.IsRead)
		assert.True(t, n.IsSent)
		assert.Len(t, h.repo.all("stu-1"), 1)

		require.Len(t, h.email.sent, 1)
		assert.Equal(t, "ana@example.com", h.email.sent[0].RecipientEmail)
		assert.Equal(t, "Ana Pérez", h.email.sent[0].RecipientName)

		require.Len(t, h.history.entries, 2)
		for _, e := range h.history.entries {
			assert.Equal(t, notification.StatusSent, e.Status)
			assert.Equal(t, n.ID, *e.NotificationID)
		}
	})

	t.Run("disabled kind creates nothing", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		require.NoError(t, h.svc.SetPreferences(ctx, "stu-1", map[notification.Kind]bool{
			notification.KindActivityGraded: false,
		}))

		n, err := h.svc.OnActivityGraded(ctx, grade)
		require.NoError(t, err)
		assert.Nil(t, n)
		assert.Empty(t, h.repo.all("stu-1"))
	})

	t.Run("inactive type", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.types.deactivate(notification.KindActivityGraded)

		_, err := h.svc.OnActivityGraded(ctx, grade)
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})

	t.Run("grade without student", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		_, err := h.svc.OnActivityGraded(ctx, academic.Grade{ID: "g-2"})
		assert.ErrorIs(t, err, notification.ErrInvalidArgument)
	})
}

func TestOnNewActivity(t *testing.T) {
	ctx := context.Background()
	activity := academic.Activity{
		ID:       "act-1",
		Title:    "Proyecto final",
		CohortID: "coh-1",
		DueAt:    testNow.Add(72 * time.Hour),
		Status:   academic.ActivityPublished,
	}

	t.Run("falls back to the cohort", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.academic.cohorts["coh-1"] = []string{"stu-1", "stu-2"}

		result, err := h.svc.OnNewActivity(ctx, activity, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Total)
		assert.Equal(t, 2, result.Sent)

		inbox := h.repo.all("stu-2")
		require.Len(t, inbox, 1)
		assert.Equal(t, "Nueva actividad: Proyecto final", inbox[0].Title)
		assert.Contains(t, inbox[0].Body, "06/03/2025 12:00")
	})

	t.Run("long activity title is shortened to fit", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		long := activity
		long.Title = strings.Repeat("ñ", 255)

		result, err := h.svc.OnNewActivity(ctx, long, []string{"stu-1"})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Sent)
		assert.Zero(t, result.Failed)

		inbox := h.repo.all("stu-1")
		require.Len(t, inbox, 1)
		assert.Equal(t, notification.MaxTitleLength, utf8.RuneCountInString(inbox[0].Title))
		assert.True(t, strings.HasPrefix(inbox[0].Title, "Nueva actividad: ñ"))
		assert.True(t, strings.HasSuffix(inbox[0].Title, "…"))
		assert.Contains(t, inbox[0].Body, long.Title)
	})

	t.Run("explicit recipients are deduplicated", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.academic.cohorts["coh-1"] = []string{"stu-1", "stu-2"}

		result, err := h.svc.OnNewActivity(ctx, activity, []string{"stu-2", "stu-2", ""})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Total)
		assert.Empty(t, h.repo.all("stu-1"))
	})

	t.Run("one failing recipient does not stop the rest", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.repo.createErr["stu-1"] = errBoom

		result, err := h.svc.OnNewActivity(ctx, activity, []string{"stu-1", "stu-2"})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 1, result.Sent)
	})
}

func TestOnCommitteeSummons(t *testing.T) {
	ctx := context.Background()
	summons := academic.Summons{
		ID:           "sum-1",
		Number:       "CIT-2025-0001",
		StudentID:    "stu-1",
		InstructorID: "ins-1",
		Reason:       "Inasistencias reiteradas",
		ScheduledAt:  time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
	}

	t.Run("student only", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		created, err := h.svc.OnCommitteeSummons(ctx, summons, false)
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, "Has sido citado a comité. Motivo: Inasistencias reiteradas. Fecha: 10/03/2025 14:30.", created[0].Body)
		assert.Equal(t, notification.RefSummons, created[0].Reference.Kind)
	})

	t.Run("with instructor", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		created, err := h.svc.OnCommitteeSummons(ctx, summons, true)
		require.NoError(t, err)
		require.Len(t, created, 2)

		inbox := h.repo.all("ins-1")
		require.Len(t, inbox, 1)
		assert.Contains(t, inbox[0].Body, "El aprendiz Ana Pérez ha sido citado a comité")
	})
}

func TestSendReminder(t *testing.T) {
	ctx := context.Background()

	t.Run("reminds pending students once", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		activity := academic.Activity{ID: "act-1", Title: "Quiz", DueAt: testNow.Add(24 * time.Hour), Status: academic.ActivityInProgress}
		h.academic.pending["act-1"] = []string{"stu-1", "stu-2"}

		result, err := h.svc.SendReminder(ctx, activity)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Sent)

		again, err := h.svc.SendReminder(ctx, activity)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Sent)
		assert.Equal(t, 2, again.Skipped)
	})

	tests := []struct {
		name     string
		activity academic.Activity
	}{
		{name: "due beyond the lookahead", activity: academic.Activity{ID: "act-1", DueAt: testNow.Add(72 * time.Hour), Status: academic.ActivityPublished}},
		{name: "already due", activity: academic.Activity{ID: "act-1", DueAt: testNow.Add(-time.Hour), Status: academic.ActivityPublished}},
		{name: "closed activity", activity: academic.Activity{ID: "act-1", DueAt: testNow.Add(time.Hour), Status: academic.ActivityFinished}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			h.academic.pending["act-1"] = []string{"stu-1"}

			result, err := h.svc.SendReminder(ctx, tt.activity)
			require.NoError(t, err)
			assert.Equal(t, 0, result.Total)
			assert.Empty(t, h.repo.all("stu-1"))
		})
	}
}

func TestSendCustom(t *testing.T) {
	ctx := context.Background()

	t.Run("students cannot send", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		_, err := h.svc.SendCustom(ctx, student, notification.SendCustomRequest{
			RecipientIDs: []string{"stu-2"},
			Title:        "Hola",
			Body:         "Hola",
		})
		assert.ErrorIs(t, err, notification.ErrPermissionDenied)
		assert.Empty(t, h.repo.all("stu-2"))
	})

	t.Run("invalid request", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		_, err := h.svc.SendCustom(ctx, admin, notification.SendCustomRequest{RecipientIDs: []string{"stu-1"}})
		assert.ErrorIs(t, err, notification.ErrInvalidArgument)

		var verrs validator.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		assert.Len(t, verrs, 2)
	})

	t.Run("instructor sends to distinct recipients", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		created := h.sendCustom(t, "stu-1", "stu-1", "stu-2")
		require.Len(t, created, 2)
		for _, n := range created {
			assert.Equal(t, notification.KindSystem, n.Kind)
			assert.Nil(t, n.Reference)
			assert.Equal(t, "ins-1", n.Data["sender_id"])
		}
	})
}

// ============= Inbox =============

func TestMarkRead(t *testing.T) {
	ctx := context.Background()

	t.Run("other users are denied", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		n := h.sendCustom(t, "stu-1")[0]

		_, err := h.svc.MarkRead(ctx, student2, n.ID)
		assert.ErrorIs(t, err, notification.ErrPermissionDenied)

		stored, err := h.repo.GetByID(ctx, n.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsRead)
	})

	t.Run("idempotent", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		n := h.sendCustom(t, "stu-1")[0]

		first, err := h.svc.MarkRead(ctx, student, n.ID)
		require.NoError(t, err)
		require.True(t, first.IsRead)
		readAt := *first.ReadAt

		h.now = h.now.Add(time.Hour)
		second, err := h.svc.MarkRead(ctx, student, n.ID)
		require.NoError(t, err)
		assert.True(t, second.IsRead)
		assert.Equal(t, readAt, *second.ReadAt)
	})

	t.Run("missing notification", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		_, err := h.svc.MarkRead(ctx, student, "missing")
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})
}

func TestMarkReadBatchAndAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})

	mine := h.sendCustom(t, "stu-1")
	mine = append(mine, h.sendCustom(t, "stu-1")...)
	mine = append(mine, h.sendCustom(t, "stu-1")...)
	theirs := h.sendCustom(t, "stu-2")

	marked, err := h.svc.MarkReadBatch(ctx, student, notification.MarkAsReadRequest{
		NotificationIDs: []string{mine[0].ID, theirs[0].ID},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	count, err := h.svc.UnreadCount(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	marked, err = h.svc.MarkAllRead(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	count, err = h.svc.UnreadCount(ctx, "stu-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = h.svc.UnreadCount(ctx, "stu-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = h.svc.MarkReadBatch(ctx, student, notification.MarkAsReadRequest{})
	assert.ErrorIs(t, err, notification.ErrInvalidArgument)
}

func TestMarkSent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{noTransports: true})
	n := h.sendCustom(t, "stu-1")[0]
	require.False(t, n.IsSent)

	sent, err := h.svc.MarkSent(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, sent.IsSent)
	assert.Equal(t, testNow, *sent.SentAt)

	_, err = h.svc.MarkSent(ctx, n.ID)
	assert.ErrorIs(t, err, notification.ErrInvalidState)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	n := h.sendCustom(t, "stu-1")[0]

	_, err := h.svc.Get(ctx, student2, n.ID)
	assert.ErrorIs(t, err, notification.ErrNotFound)

	resp, err := h.svc.Get(ctx, student, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, resp.ID)
	assert.True(t, resp.IsRead)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	created := h.sendCustom(t, "stu-1", "stu-2")

	err := h.svc.Delete(ctx, student2, created[0].ID)
	assert.ErrorIs(t, err, notification.ErrPermissionDenied)

	require.NoError(t, h.svc.Delete(ctx, student, created[0].ID))
	require.NoError(t, h.svc.Delete(ctx, admin, created[1].ID))

	assert.Empty(t, h.repo.all("stu-1"))
	assert.Empty(t, h.repo.all("stu-2"))
}

func TestListAndSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})

	for i := 0; i < 3; i++ {
		h.sendCustom(t, "stu-1")
		h.now = h.now.Add(time.Minute)
	}
	_, err := h.svc.OnActivityGraded(ctx, academic.Grade{ID: "g-1", ActivityTitle: "Quiz", StudentID: "stu-1", Score: 4})
	require.NoError(t, err)

	page, err := h.svc.List(ctx, notification.ListNotificationsRequest{RecipientID: "stu-1", Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 4, page.UnreadCount)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, notification.KindSystem, page.Notifications[0].Kind)

	kind := notification.KindActivityGraded
	filtered, err := h.svc.List(ctx, notification.ListNotificationsRequest{RecipientID: "stu-1", Kind: &kind})
	require.NoError(t, err)
	assert.Equal(t, 1, filtered.Total)
	assert.Equal(t, notification.DefaultPageSize, filtered.PageSize)

	_, err = h.svc.List(ctx, notification.ListNotificationsRequest{})
	assert.ErrorIs(t, err, notification.ErrInvalidArgument)

	summary, err := h.svc.Summary(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 4, summary.Unread)
	assert.Equal(t, 3, summary.ByKind[notification.KindSystem])
	assert.Len(t, summary.Latest, 4)
	assert.Equal(t, notification.KindActivityGraded, summary.Latest[0].Kind)
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})

	h.now = testNow.Add(-40 * 24 * time.Hour)
	h.sendCustom(t, "stu-1")
	h.now = testNow
	recent := h.sendCustom(t, "stu-1")

	deleted, err := h.svc.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	inbox := h.repo.all("stu-1")
	require.Len(t, inbox, 1)
	assert.Equal(t, recent[0].ID, inbox[0].ID)

	_, err = h.svc.PurgeOlderThan(ctx, 0)
	assert.ErrorIs(t, err, notification.ErrInvalidArgument)
}

// ============= Preferences =============

func TestPreferences(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to enabled", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		require.NoError(t, h.svc.SetPreferences(ctx, "stu-1", map[notification.Kind]bool{
			notification.KindReminder: false,
		}))

		prefs, err := h.svc.GetPreferences(ctx, "stu-1")
		require.NoError(t, err)
		assert.Len(t, prefs, len(notification.AllKinds()))
		assert.False(t, prefs[notification.KindReminder])
		assert.True(t, prefs[notification.KindSystem])

		enabled, err := h.svc.IsEnabled(ctx, "stu-1", notification.KindReminder)
		require.NoError(t, err)
		assert.False(t, enabled)
	})

	t.Run("unknown kind writes nothing", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		err := h.svc.SetPreferences(ctx, "stu-1", map[notification.Kind]bool{
			notification.KindReminder: false,
			"BOGUS":                   true,
		})
		assert.ErrorIs(t, err, notification.ErrInvalidArgument)
		assert.Zero(t, h.prefs.upserts)
		assert.Zero(t, h.tx.calls)
	})

	t.Run("updates run in one transaction", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		require.NoError(t, h.svc.SetPreferences(ctx, "stu-1", map[notification.Kind]bool{
			notification.KindReminder:    false,
			notification.KindNewActivity: false,
		}))
		assert.Equal(t, 1, h.tx.calls)
		assert.Equal(t, 2, h.prefs.upserts)
	})
}

// ============= Delivery =============

func TestDeliverySettings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})

	settings, err := h.svc.GetDeliverySettings(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, notification.DefaultDeliverySettings("stu-1").QuietStart, settings.QuietStart)

	off := false
	start := "08:00"
	updated, err := h.svc.UpdateDeliverySettings(ctx, "stu-1", notification.UpdateDeliverySettingsRequest{
		EmailEnabled: &off,
		QuietStart:   &start,
	})
	require.NoError(t, err)
	assert.False(t, updated.EmailEnabled)
	assert.True(t, updated.PushEnabled)
	assert.Equal(t, "08:00", updated.QuietStart)
	assert.Equal(t, notification.DefaultWindowEnd, updated.QuietEnd)

	bad := "25:00"
	_, err = h.svc.UpdateDeliverySettings(ctx, "stu-1", notification.UpdateDeliverySettingsRequest{QuietEnd: &bad})
	assert.ErrorIs(t, err, notification.ErrInvalidArgument)
}

func TestDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled channel is skipped", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		off := false
		_, err := h.svc.UpdateDeliverySettings(ctx, "stu-1", notification.UpdateDeliverySettingsRequest{EmailEnabled: &off})
		require.NoError(t, err)

		n := h.sendCustom(t, "stu-1")[0]
		assert.True(t, n.IsSent)
		assert.Empty(t, h.email.sent)
		assert.Len(t, h.push.sent, 1)
	})

	t.Run("recipient without email gets push only", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})

		h.sendCustom(t, "stu-2")
		assert.Empty(t, h.email.sent)
		assert.Len(t, h.history.entries, 1)
	})

	t.Run("failed channel is recorded", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.email.err = errBoom

		n := h.sendCustom(t, "stu-1")[0]
		assert.True(t, n.IsSent)

		failed := notification.StatusFailed
		history, err := h.svc.ListHistory(ctx, admin, notification.ListHistoryRequest{Status: &failed})
		require.NoError(t, err)
		require.Len(t, history.Entries, 1)
		assert.Equal(t, notification.ChannelEmail, history.Entries[0].Channel)
		assert.Equal(t, "boom", history.Entries[0].ErrorMessage)
	})

	t.Run("all channels failing leaves it unsent", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		h.email.err = errBoom
		h.push.err = errBoom

		n := h.sendCustom(t, "stu-1")[0]
		assert.False(t, n.IsSent)
		assert.Len(t, h.history.entries, 2)
	})

	t.Run("outside the window is deferred then retried", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		start, end := "08:00", "09:00"
		_, err := h.svc.UpdateDeliverySettings(ctx, "stu-1", notification.UpdateDeliverySettingsRequest{
			QuietStart: &start,
			QuietEnd:   &end,
		})
		require.NoError(t, err)

		n := h.sendCustom(t, "stu-1")[0]
		assert.False(t, n.IsSent)
		assert.Empty(t, h.history.entries)

		result, err := h.svc.DeliverPending(ctx, testNow.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Attempted)
		assert.Equal(t, 1, result.Deferred)

		h.now = time.Date(2025, 3, 4, 8, 30, 0, 0, time.UTC)
		result, err = h.svc.DeliverPending(ctx, testNow.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Delivered)

		stored, err := h.repo.GetByID(ctx, n.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsSent)
	})

	t.Run("weekend notification reaches a weekday-only user on monday", func(t *testing.T) {
		h := newHarness(t, harnessOptions{})
		_, err := h.svc.UpdateDeliverySettings(ctx, "stu-1", notification.UpdateDeliverySettingsRequest{
			ActiveDays: []int{0, 1, 2, 3, 4},
		})
		require.NoError(t, err)

		saturday := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		h.now = saturday
		n := h.sendCustom(t, "stu-1")[0]
		require.False(t, n.IsSent)

		lookback := 7 * 24 * time.Hour
		for h.now = saturday.Add(time.Hour); !h.now.After(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)); h.now = h.now.Add(time.Hour) {
			_, err := h.svc.DeliverPending(ctx, h.now.Add(-lookback))
			require.NoError(t, err)
		}

		stored, err := h.repo.GetByID(ctx, n.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsSent)
		assert.Len(t, h.push.sent, 1)
	})

	t.Run("retry pages past undeliverable rows", func(t *testing.T) {
		h := newHarness(t, harnessOptions{pendingBatch: 2})
		off := false
		_, err := h.svc.UpdateDeliverySettings(ctx, "stu-2", notification.UpdateDeliverySettingsRequest{PushEnabled: &off})
		require.NoError(t, err)
		start, end := "08:00", "09:00"
		_, err = h.svc.UpdateDeliverySettings(ctx, "stu-1", notification.UpdateDeliverySettingsRequest{
			QuietStart: &start,
			QuietEnd:   &end,
		})
		require.NoError(t, err)

		// stu-2 has no email and push disabled, so these never leave the queue
		h.sendCustom(t, "stu-2")
		h.sendCustom(t, "stu-2")
		h.sendCustom(t, "stu-2")
		h.sendCustom(t, "stu-1")
		h.sendCustom(t, "stu-1")

		h.now = time.Date(2025, 3, 4, 8, 30, 0, 0, time.UTC)
		result, err := h.svc.DeliverPending(ctx, testNow.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 5, result.Attempted)
		assert.Equal(t, 2, result.Delivered)
		assert.Equal(t, 3, result.Deferred)
		assert.Equal(t, 3, h.repo.unsentPages)

		for _, n := range h.repo.all("stu-1") {
			assert.True(t, n.IsSent, n.ID)
		}
	})
}

func TestListHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.sendCustom(t, "stu-1", "stu-2")

	own, err := h.svc.ListHistory(ctx, student2, notification.ListHistoryRequest{RecipientID: "stu-1"})
	require.NoError(t, err)
	require.Len(t, own.Entries, 1)
	assert.Equal(t, "stu-2", own.Entries[0].RecipientID)

	all, err := h.svc.ListHistory(ctx, admin, notification.ListHistoryRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, notification.DefaultPageSize, all.PageSize)
}

func TestSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, harnessOptions{hubPush: true})
	events, unsubscribe := h.svc.Subscribe(ctx, "stu-1")
	defer unsubscribe()

	n := h.sendCustom(t, "stu-1")[0]

	select {
	case ev := <-events:
		assert.Equal(t, "notification", ev.Event)
		assert.Equal(t, n.ID, ev.Data.ID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestTypes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.types.deactivate(notification.KindSystem)

	types, err := h.svc.ListTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, len(notification.AllKinds())-1)

	_, err = h.svc.GetType(ctx, notification.KindSystem)
	assert.ErrorIs(t, err, notification.ErrNotFound)

	_, err = h.svc.GetType(ctx, "BOGUS")
	assert.ErrorIs(t, err, notification.ErrNotFound)

	tp, err := h.svc.GetType(ctx, notification.KindReminder)
	require.NoError(t, err)
	assert.Equal(t, notification.KindReminder, tp.Kind)
}
