package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartampluch/go-keepintouch/internal/engine"
	"github.com/tartampluch/go-keepintouch/internal/store/memory"
)

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

// MockClock controls time for deterministic testing.
type MockClock struct {
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time {
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.CurrentTime = m.CurrentTime.Add(d)
}

// countingLocker records which keys were locked.
type countingLocker struct {
	mu    sync.Mutex
	keys  []string
	held  int
	err   error
	maxIn int
}

func (l *countingLocker) Lock(_ context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.held++
	l.maxIn = max(l.maxIn, l.held)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.held--
		l.mu.Unlock()
	}, nil
}

var errBoom = errors.New("store exploded")

// failingStore wraps the memory store and fails reminder creation for one contact.
type failingStore struct {
	*memory.Store
	failCreateFor string
}

func (f *failingStore) CreateReminder(ctx context.Context, r engine.Reminder) (engine.Reminder, error) {
	if r.ContactID == f.failCreateFor {
		return engine.Reminder{}, errBoom
	}
	return f.Store.CreateReminder(ctx, r)
}

func (f *failingStore) Atomically(ctx context.Context, fn func(tx engine.Store) error) error {
	return f.Store.Atomically(ctx, func(tx engine.Store) error {
		return fn(&failingStore{Store: tx.(*memory.Store), failCreateFor: f.failCreateFor})
	})
}

// -----------------------------------------------------------------------------
// Fixtures
// -----------------------------------------------------------------------------

var start = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	store *memory.Store
	clock *MockClock
	rec   *engine.Reconciler
}

func newFixture(t *testing.T, contacts ...engine.Contact) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: memory.New(),
		clock: &MockClock{CurrentTime: start},
	}
	n := 0
	f.rec = &engine.Reconciler{
		Store: f.store,
		Clock: f.clock,
		NewID: func() string {
			n++
			return fmt.Sprintf("rem-%03d", n)
		},
	}
	for _, c := range contacts {
		_, err := f.store.SaveContact(f.ctx, c)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) pending(t *testing.T, contactID string, typ engine.ReminderType) []engine.Reminder {
	t.Helper()
	filter := engine.ReminderFilter{ContactID: contactID, Statuses: []engine.Status{engine.StatusPending}}
	if typ != "" {
		filter.Types = []engine.ReminderType{typ}
	}
	out, err := f.store.ListReminders(f.ctx, filter)
	require.NoError(t, err)
	return out
}

func monthly(id string, last *time.Time) engine.Contact {
	return engine.Contact{ID: id, Name: id, CommunicationFrequency: engine.FrequencyMonthly, LastContactedAt: last}
}

func birthday(id string, month time.Month, day int) engine.Contact {
	return engine.Contact{ID: id, Name: id, Birthday: engine.MustMonthDay(month, day)}
}

// -----------------------------------------------------------------------------
// GenerateUpcomingReminders
// -----------------------------------------------------------------------------

func TestGenerate_IsIdempotent(t *testing.T) {
	f := newFixture(t,
		monthly("overdue", ptr(start.AddDate(0, 0, -40))),
		monthly("never", nil),
		monthly("fresh", ptr(start.AddDate(0, 0, -3))),
		birthday("bday", time.June, 20),
	)

	first, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Contacts)
	assert.Equal(t, 4, first.Created) // overdue, never, bday week + day
	assert.Empty(t, first.Failures)

	second, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Purged)
	assert.Equal(t, first.Created+first.Skipped, second.Skipped)

	// Exactly one pending reminder per contact and type.
	for _, id := range []string{"overdue", "never"} {
		assert.Len(t, f.pending(t, id, engine.TypeCommunication), 1, id)
	}
	assert.Empty(t, f.pending(t, "fresh", ""))
	assert.Len(t, f.pending(t, "bday", engine.TypeBirthdayDay), 1)
	assert.Len(t, f.pending(t, "bday", engine.TypeBirthdayWeek), 1)
}

func TestGenerate_CommunicationReminderFields(t *testing.T) {
	last := start.AddDate(0, 0, -31)
	f := newFixture(t, monthly("ada", &last))

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	got := f.pending(t, "ada", engine.TypeCommunication)
	require.Len(t, got, 1)
	assert.Equal(t, "rem-001", got[0].ID)
	assert.Equal(t, last.AddDate(0, 0, 30), got[0].ScheduledFor)
	assert.Equal(t, engine.StatusPending, got[0].Status)
	assert.Equal(t, start, got[0].CreatedAt)
	assert.Contains(t, got[0].Message, "ada")
	assert.Contains(t, got[0].Message, "1 days overdue")
}

func TestGenerate_NeverContactedStaysSingle(t *testing.T) {
	f := newFixture(t, monthly("never", nil))

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	first := f.pending(t, "never", engine.TypeCommunication)
	require.Len(t, first, 1)
	assert.Equal(t, start, first[0].ScheduledFor)

	// A day later the expected date has moved with "now" but the existing
	// reminder still covers it.
	f.clock.Advance(24 * time.Hour)
	res, err = f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Zero(t, res.Purged)
	assert.Equal(t, first, f.pending(t, "never", engine.TypeCommunication))
}

func TestGenerate_PausedContactProducesNothing(t *testing.T) {
	paused := monthly("paused", nil)
	paused.RemindersPaused = true
	paused.Birthday = engine.MustMonthDay(time.June, 10)

	f := newFixture(t, paused)
	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Empty(t, f.pending(t, "paused", ""))
}

func TestGenerate_PausingPurgesPending(t *testing.T) {
	c := monthly("ada", nil)
	c.Birthday = engine.MustMonthDay(time.June, 20)
	f := newFixture(t, c)

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Created)

	c.RemindersPaused = true
	_, err = f.store.SaveContact(f.ctx, c)
	require.NoError(t, err)

	res, err = f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 3, res.Purged)
	assert.Empty(t, f.pending(t, "ada", ""))
}

func TestGenerate_ContactWithoutFrequencyOrBirthday(t *testing.T) {
	f := newFixture(t, engine.Contact{ID: "bare", LastContactedAt: ptr(start.AddDate(-2, 0, 0))})
	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Empty(t, f.pending(t, "bare", ""))
}

func TestGenerate_NotDueIsSkipped(t *testing.T) {
	f := newFixture(t, monthly("fresh", ptr(start.AddDate(0, 0, -29))))
	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Skipped)

	// Crossing the cadence boundary makes it due.
	f.clock.Advance(24 * time.Hour)
	res, err = f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestGenerate_LastContactChangedReplacesStaleReminder(t *testing.T) {
	c := monthly("ada", ptr(start.AddDate(0, 0, -40)))
	f := newFixture(t, c)

	_, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	require.Len(t, f.pending(t, "ada", engine.TypeCommunication), 1)

	// Contacted outside the handler 35 days ago: still due, but for a new date.
	c.LastContactedAt = ptr(start.AddDate(0, 0, -35))
	_, err = f.store.SaveContact(f.ctx, c)
	require.NoError(t, err)

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)
	assert.Equal(t, 1, res.Created)
	got := f.pending(t, "ada", engine.TypeCommunication)
	require.Len(t, got, 1)
	assert.Equal(t, c.LastContactedAt.AddDate(0, 0, 30), got[0].ScheduledFor)

	// Contacted yesterday: the reminder is purged and nothing replaces it yet.
	c.LastContactedAt = ptr(start.AddDate(0, 0, -1))
	_, err = f.store.SaveContact(f.ctx, c)
	require.NoError(t, err)
	res, err = f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)
	assert.Zero(t, res.Created)
	assert.Empty(t, f.pending(t, "ada", ""))
}

func TestGenerate_BirthdayReminders(t *testing.T) {
	f := newFixture(t,
		birthday("far", time.June, 20),
		birthday("soon", time.June, 5),
		birthday("today", time.June, 1),
	)

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created) // far: week + day, soon: day, today: day

	farWeek := f.pending(t, "far", engine.TypeBirthdayWeek)
	require.Len(t, farWeek, 1)
	assert.Equal(t, date(2025, 6, 13), farWeek[0].ScheduledFor)
	farDay := f.pending(t, "far", engine.TypeBirthdayDay)
	require.Len(t, farDay, 1)
	assert.Equal(t, date(2025, 6, 20), farDay[0].ScheduledFor)

	// Less than a week away: no week-ahead reminder.
	assert.Empty(t, f.pending(t, "soon", engine.TypeBirthdayWeek))
	assert.Len(t, f.pending(t, "soon", engine.TypeBirthdayDay), 1)

	today := f.pending(t, "today", engine.TypeBirthdayDay)
	require.Len(t, today, 1)
	assert.Equal(t, date(2025, 6, 1), today[0].ScheduledFor)
}

func TestGenerate_BirthdayRollsOverAfterOccurrence(t *testing.T) {
	f := newFixture(t, birthday("ada", time.June, 3))

	_, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	require.Len(t, f.pending(t, "ada", engine.TypeBirthdayDay), 1)

	f.clock.CurrentTime = time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC)
	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)
	assert.Equal(t, 2, res.Created)

	day := f.pending(t, "ada", engine.TypeBirthdayDay)
	require.Len(t, day, 1)
	assert.Equal(t, date(2026, 6, 3), day[0].ScheduledFor)
	week := f.pending(t, "ada", engine.TypeBirthdayWeek)
	require.Len(t, week, 1)
	assert.Equal(t, date(2026, 5, 27), week[0].ScheduledFor)
}

func TestGenerate_YearEndBirthday(t *testing.T) {
	f := newFixture(t, birthday("newyear", time.January, 3))
	f.clock.CurrentTime = time.Date(2025, 12, 30, 18, 0, 0, 0, time.UTC)

	_, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)

	day := f.pending(t, "newyear", engine.TypeBirthdayDay)
	require.Len(t, day, 1)
	assert.Equal(t, date(2026, 1, 3), day[0].ScheduledFor)
	assert.Empty(t, f.pending(t, "newyear", engine.TypeBirthdayWeek))
}

func TestGenerate_DismissedBirthdayIsNotRecreated(t *testing.T) {
	f := newFixture(t, birthday("ada", time.June, 20))
	h := engine.NewHandler(f.rec)

	_, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	week := f.pending(t, "ada", engine.TypeBirthdayWeek)
	require.Len(t, week, 1)

	_, err = h.Dismiss(f.ctx, week[0].ID)
	require.NoError(t, err)

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Empty(t, f.pending(t, "ada", engine.TypeBirthdayWeek))
	assert.Len(t, f.pending(t, "ada", engine.TypeBirthdayDay), 1)
}

func TestGenerate_PurgesOrphans(t *testing.T) {
	f := newFixture(t, monthly("gone", nil), monthly("kept", nil))

	_, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteContact(f.ctx, "gone"))

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Contacts)
	assert.Equal(t, 1, res.Purged)
	assert.Empty(t, f.pending(t, "gone", ""))
	assert.Len(t, f.pending(t, "kept", ""), 1)
}

func TestGenerate_ContinuesPastFailingContact(t *testing.T) {
	f := newFixture(t, monthly("a", nil), monthly("bad", nil), monthly("c", nil))
	f.rec.Store = &failingStore{Store: f.store, failCreateFor: "bad"}

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Contacts)
	assert.Equal(t, 2, res.Created)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad", res.Failures[0].ContactID)
	assert.ErrorIs(t, res.Failures[0], errBoom)

	assert.Len(t, f.pending(t, "a", ""), 1)
	assert.Empty(t, f.pending(t, "bad", ""))
	assert.Len(t, f.pending(t, "c", ""), 1)
}

func TestGenerate_InvalidCadenceIsReportedPerContact(t *testing.T) {
	f := newFixture(t,
		engine.Contact{ID: "broken", CommunicationFrequency: "fortnightly"},
		monthly("ok", nil),
	)

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0], engine.ErrInvalidCadence)
}

func TestGenerate_LocksEachContact(t *testing.T) {
	f := newFixture(t, monthly("a", nil), birthday("b", time.July, 1))
	locker := &countingLocker{}
	f.rec.Locker = locker

	_, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, locker.keys)
	assert.Equal(t, 1, locker.maxIn)
	assert.Zero(t, locker.held)
}

func TestGenerate_LockFailureIsAContactFailure(t *testing.T) {
	f := newFixture(t, monthly("a", nil))
	f.rec.Locker = &countingLocker{err: errBoom}

	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0], errBoom)
	assert.Zero(t, res.Created)
}

func TestGenerate_CancelledContext(t *testing.T) {
	f := newFixture(t, monthly("a", nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.rec.GenerateUpcomingReminders(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// -----------------------------------------------------------------------------
// Single contact, refresh, listings
// -----------------------------------------------------------------------------

func TestGenerateReminderForContact_SchedulesAhead(t *testing.T) {
	last := start.AddDate(0, 0, -10)
	f := newFixture(t, monthly("ada", &last))

	rem, err := f.rec.GenerateReminderForContact(f.ctx, "ada")
	require.NoError(t, err)
	require.NotNil(t, rem)
	assert.Equal(t, engine.TypeCommunication, rem.Type)
	assert.Equal(t, last.AddDate(0, 0, 30), rem.ScheduledFor)

	// Running it again finds the reminder in place.
	again, err := f.rec.GenerateReminderForContact(f.ctx, "ada")
	require.NoError(t, err)
	assert.Nil(t, again)

	// And the batch sweep keeps it.
	res, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Purged)
	assert.Len(t, f.pending(t, "ada", ""), 1)
}

func TestGenerateReminderForContact_UnknownContact(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.GenerateReminderForContact(f.ctx, "nobody")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestRefreshAllReminders(t *testing.T) {
	f := newFixture(t, monthly("a", nil), monthly("b", ptr(start.AddDate(0, 0, -50))), birthday("c", time.June, 20))

	gen, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 4, gen.Created)

	// Dismissed history survives a refresh.
	h := engine.NewHandler(f.rec)
	_, err = h.Dismiss(f.ctx, f.pending(t, "a", "")[0].ID)
	require.NoError(t, err)

	res, err := f.rec.RefreshAllReminders(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 3, res.Contacts)
	// "a" floats with now, so dismissing it only silenced it until the next pass.
	assert.Equal(t, 4, res.Created)
	assert.Empty(t, res.Failures)

	total, err := f.store.CountReminders(f.ctx, engine.ReminderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestUpcomingAndAgenda(t *testing.T) {
	f := newFixture(t,
		monthly("a", ptr(start.AddDate(0, 0, -25))), // due in 5 days
		birthday("b", time.June, 10),                // week reminder on 06-03
		engine.Contact{ID: "c", Name: "c", CommunicationFrequency: engine.FrequencyWeekly, LastContactedAt: ptr(start.AddDate(0, 0, -10))}, // 3 days overdue
	)

	_, err := f.rec.GenerateUpcomingReminders(f.ctx)
	require.NoError(t, err)
	_, err = f.rec.GenerateReminderForContact(f.ctx, "a")
	require.NoError(t, err)

	upcoming, err := f.rec.UpcomingReminders(f.ctx, 7)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, "b", upcoming[0].Contact.ID)
	assert.Equal(t, engine.TypeBirthdayWeek, upcoming[0].Reminder.Type)
	assert.Equal(t, "a", upcoming[1].Contact.ID)

	agenda, err := f.rec.Agenda(f.ctx, 7)
	require.NoError(t, err)
	require.Len(t, agenda, 3)
	assert.Equal(t, "c", agenda[0].Contact.ID)
	assert.Equal(t, "b", agenda[1].Contact.ID)
	assert.Equal(t, "a", agenda[2].Contact.ID)

	wide, err := f.rec.UpcomingReminders(f.ctx, 30)
	require.NoError(t, err)
	assert.Len(t, wide, 3)

	none, err := f.rec.UpcomingReminders(f.ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.rec.UpcomingReminders(f.ctx, -1)
	assert.ErrorIs(t, err, engine.ErrInvalidWindow)
	_, err = f.rec.Agenda(f.ctx, 367)
	assert.ErrorIs(t, err, engine.ErrInvalidWindow)
}

func TestSortByUrgency(t *testing.T) {
	now := start
	item := func(id string, at time.Time) engine.ContactReminder {
		return engine.ContactReminder{Reminder: engine.Reminder{ID: id, ScheduledFor: at}}
	}
	items := []engine.ContactReminder{
		item("soon", now.AddDate(0, 0, 2)),
		item("slightly-late", now.AddDate(0, 0, -2)),
		item("due-now", now),
		item("very-late", now.AddDate(0, 0, -9)),
		item("later", now.AddDate(0, 0, 5)),
		item("also-soon", now.AddDate(0, 0, 2)),
	}

	engine.SortByUrgency(items, now)

	got := make([]string, len(items))
	for i, it := range items {
		got[i] = it.Reminder.ID
	}
	assert.Equal(t, []string{"very-late", "slightly-late", "due-now", "also-soon", "soon", "later"}, got)
}
