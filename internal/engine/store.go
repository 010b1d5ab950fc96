package engine

import (
	"context"
	"time"
)

// ContactFilter narrows ListContacts. The zero value lists every contact.
type ContactFilter struct {
	IDs []string
}

// ReminderFilter narrows reminder queries. Zero-valued fields do not filter.
// From and To bound ScheduledFor inclusively.
type ReminderFilter struct {
	ContactID string
	Types     []ReminderType
	Statuses  []Status
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// ContactStore persists contacts.
type ContactStore interface {
	GetContact(ctx context.Context, id string) (Contact, error)
	// ListContacts returns contacts ordered by id.
	ListContacts(ctx context.Context, filter ContactFilter) ([]Contact, error)
	// SaveContact inserts or updates a contact by id.
	SaveContact(ctx context.Context, c Contact) (Contact, error)
}

// ReminderStore persists reminders. Implementations must reject a second pending
// reminder for the same (contact, type) with ErrDuplicatePending.
type ReminderStore interface {
	GetReminder(ctx context.Context, id string) (Reminder, error)
	// ListReminders returns reminders ordered by ScheduledFor, then id.
	ListReminders(ctx context.Context, filter ReminderFilter) ([]Reminder, error)
	CreateReminder(ctx context.Context, r Reminder) (Reminder, error)
	// UpdateReminderStatus sets the status and the matching timestamp (sent_at or dismissed_at).
	UpdateReminderStatus(ctx context.Context, id string, status Status, at time.Time) (Reminder, error)
	DeleteReminder(ctx context.Context, id string) error
	DeleteReminders(ctx context.Context, filter ReminderFilter) (int, error)
	CountReminders(ctx context.Context, filter ReminderFilter) (int, error)
}

// Store is the persistence capability consumed by the reconciliation subsystem.
type Store interface {
	ContactStore
	ReminderStore

	// Atomically runs fn against a view of the store whose writes are committed
	// together, or not at all if fn returns an error.
	Atomically(ctx context.Context, fn func(tx Store) error) error
}

// Locker serializes the read-decide-write sequence for one contact.
// The returned unlock function must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
