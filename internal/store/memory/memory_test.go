package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartampluch/go-keepintouch/internal/engine"
	"github.com/tartampluch/go-keepintouch/internal/store/memory"
)

var day0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func pending(id, contactID string, typ engine.ReminderType, at time.Time) engine.Reminder {
	return engine.Reminder{
		ID:           id,
		ContactID:    contactID,
		Type:         typ,
		ScheduledFor: at,
		Status:       engine.StatusPending,
		Message:      "hello",
	}
}

func TestSaveAndGetContact(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	last := day0
	saved, err := s.SaveContact(ctx, engine.Contact{ID: "c1", Name: "Ada", LastContactedAt: &last})
	require.NoError(t, err)
	assert.False(t, saved.CreatedAt.IsZero())

	// Mutating the caller's pointer must not leak into the store.
	last = last.AddDate(1, 0, 0)

	got, err := s.GetContact(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.True(t, got.LastContactedAt.Equal(day0))

	_, err = s.GetContact(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSaveContact_KeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	first, err := s.SaveContact(ctx, engine.Contact{ID: "c1", CreatedAt: day0})
	require.NoError(t, err)

	second, err := s.SaveContact(ctx, engine.Contact{ID: "c1", Name: "renamed", CreatedAt: day0.AddDate(0, 1, 0)})
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "renamed", second.Name)
}

func TestListContacts_OrderedAndFiltered(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for _, id := range []string{"c3", "c1", "c2"} {
		_, err := s.SaveContact(ctx, engine.Contact{ID: id})
		require.NoError(t, err)
	}

	all, err := s.ListContacts(ctx, engine.ContactFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	some, err := s.ListContacts(ctx, engine.ContactFilter{IDs: []string{"c3", "nope", "c1", "c3"}})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "c1", some[0].ID)
	assert.Equal(t, "c3", some[1].ID)
}

func TestCreateReminder_EnforcesPendingUniqueness(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.CreateReminder(ctx, pending("r1", "c1", engine.TypeCommunication, day0))
	require.NoError(t, err)

	_, err = s.CreateReminder(ctx, pending("r2", "c1", engine.TypeCommunication, day0.AddDate(0, 0, 1)))
	assert.ErrorIs(t, err, engine.ErrDuplicatePending)

	// Other type, other contact, or a non-pending reminder are all fine.
	_, err = s.CreateReminder(ctx, pending("r3", "c1", engine.TypeBirthdayDay, day0))
	assert.NoError(t, err)
	_, err = s.CreateReminder(ctx, pending("r4", "c2", engine.TypeCommunication, day0))
	assert.NoError(t, err)
	sent := pending("r5", "c1", engine.TypeCommunication, day0)
	sent.Status = engine.StatusSent
	_, err = s.CreateReminder(ctx, sent)
	assert.NoError(t, err)

	// Once the first is dismissed, a new pending one is accepted.
	_, err = s.UpdateReminderStatus(ctx, "r1", engine.StatusDismissed, day0)
	require.NoError(t, err)
	_, err = s.CreateReminder(ctx, pending("r6", "c1", engine.TypeCommunication, day0))
	assert.NoError(t, err)
}

func TestUpdateReminderStatus_SetsTimestamps(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.CreateReminder(ctx, pending("r1", "c1", engine.TypeCommunication, day0))
	require.NoError(t, err)

	at := day0.Add(time.Hour)
	sent, err := s.UpdateReminderStatus(ctx, "r1", engine.StatusSent, at)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)
	assert.True(t, sent.SentAt.Equal(at))
	assert.Nil(t, sent.DismissedAt)

	dismissed, err := s.UpdateReminderStatus(ctx, "r1", engine.StatusDismissed, at.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, dismissed.DismissedAt)
	assert.NotNil(t, dismissed.SentAt)

	_, err = s.UpdateReminderStatus(ctx, "missing", engine.StatusSent, at)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestListReminders_FilterOrderPaginate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	seed := []engine.Reminder{
		pending("b", "c1", engine.TypeCommunication, day0.AddDate(0, 0, 2)),
		pending("a", "c2", engine.TypeCommunication, day0.AddDate(0, 0, 2)),
		pending("c", "c1", engine.TypeBirthdayDay, day0),
		pending("d", "c3", engine.TypeBirthdayWeek, day0.AddDate(0, 0, 10)),
	}
	for _, r := range seed {
		_, err := s.CreateReminder(ctx, r)
		require.NoError(t, err)
	}

	all, err := s.ListReminders(ctx, engine.ReminderFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids(all))

	from, to := day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 2)
	window, err := s.ListReminders(ctx, engine.ReminderFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(window))

	byContact, err := s.ListReminders(ctx, engine.ReminderFilter{ContactID: "c1", Types: []engine.ReminderType{engine.TypeBirthdayDay}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(byContact))

	page, err := s.ListReminders(ctx, engine.ReminderFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(page))

	beyond, err := s.ListReminders(ctx, engine.ReminderFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)

	n, err := s.CountReminders(ctx, engine.ReminderFilter{ContactID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDeleteReminders(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.CreateReminder(ctx, pending("r1", "c1", engine.TypeCommunication, day0))
	require.NoError(t, err)
	_, err = s.CreateReminder(ctx, pending("r2", "c2", engine.TypeCommunication, day0))
	require.NoError(t, err)
	done := pending("r3", "c3", engine.TypeCommunication, day0)
	done.Status = engine.StatusDismissed
	_, err = s.CreateReminder(ctx, done)
	require.NoError(t, err)

	n, err := s.DeleteReminders(ctx, engine.ReminderFilter{Statuses: []engine.Status{engine.StatusPending}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := s.ListReminders(ctx, engine.ReminderFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"r3"}, ids(left))

	assert.ErrorIs(t, s.DeleteReminder(ctx, "r1"), engine.ErrNotFound)
	assert.NoError(t, s.DeleteReminder(ctx, "r3"))
}

func TestAtomically_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.SaveContact(ctx, engine.Contact{ID: "c1", Name: "before"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Atomically(ctx, func(tx engine.Store) error {
		_, err := tx.SaveContact(ctx, engine.Contact{ID: "c1", Name: "during"})
		require.NoError(t, err)
		_, err = tx.CreateReminder(ctx, pending("r1", "c1", engine.TypeCommunication, day0))
		require.NoError(t, err)

		// The transaction sees its own writes.
		got, err := tx.GetContact(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "during", got.Name)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetContact(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "before", got.Name)
	n, err := s.CountReminders(ctx, engine.ReminderFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	err = s.Atomically(ctx, func(tx engine.Store) error {
		_, err := tx.SaveContact(ctx, engine.Contact{ID: "c1", Name: "after"})
		return err
	})
	require.NoError(t, err)
	got, err = s.GetContact(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
}

func TestDeleteContact_LeavesReminders(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.SaveContact(ctx, engine.Contact{ID: "c1"})
	require.NoError(t, err)
	_, err = s.CreateReminder(ctx, pending("r1", "c1", engine.TypeCommunication, day0))
	require.NoError(t, err)

	require.NoError(t, s.DeleteContact(ctx, "c1"))
	assert.ErrorIs(t, s.DeleteContact(ctx, "c1"), engine.ErrNotFound)

	_, err = s.GetReminder(ctx, "r1")
	assert.NoError(t, err)
}

func ids(rs []engine.Reminder) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
