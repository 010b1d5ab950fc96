// Package memory is an in-process engine.Store. It is used when no database is
// configured and by tests. It enforces the same pending-reminder uniqueness as the
// PostgreSQL schema.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tartampluch/go-keepintouch/internal/engine"
)

// Store keeps contacts and reminders in maps guarded by a single mutex.
// A Store handed to an Atomically callback works on a private copy of the state
// that replaces the shared one only when the callback succeeds.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

type state struct {
	contacts  map[string]engine.Contact
	reminders map[string]engine.Reminder
}

// New returns an empty store.
func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		st: &state{
			contacts:  make(map[string]engine.Contact),
			reminders: make(map[string]engine.Reminder),
		},
	}
}

var _ engine.Store = (*Store)(nil)

func (s *Store) acquire() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Atomically runs fn with exclusive access to a copy of the state.
// Other callers block until fn returns.
func (s *Store) Atomically(ctx context.Context, fn func(tx engine.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{mu: s.mu, st: s.st.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// --- Contacts ---

func (s *Store) GetContact(_ context.Context, id string) (engine.Contact, error) {
	defer s.acquire()()

	c, ok := s.st.contacts[id]
	if !ok {
		return engine.Contact{}, fmt.Errorf("contact %q: %w", id, engine.ErrNotFound)
	}
	return copyContact(c), nil
}

func (s *Store) ListContacts(ctx context.Context, filter engine.ContactFilter) ([]engine.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.acquire()()

	out := make([]engine.Contact, 0, len(s.st.contacts))
	if len(filter.IDs) > 0 {
		for _, id := range filter.IDs {
			if c, ok := s.st.contacts[id]; ok {
				out = append(out, copyContact(c))
			}
		}
	} else {
		for _, c := range s.st.contacts {
			out = append(out, copyContact(c))
		}
	}
	slices.SortFunc(out, func(a, b engine.Contact) int { return cmp.Compare(a.ID, b.ID) })
	return slices.CompactFunc(out, func(a, b engine.Contact) bool { return a.ID == b.ID }), nil
}

// SaveContact upserts c. An empty id gets a new UUID; CreatedAt is kept from the
// stored version.
func (s *Store) SaveContact(_ context.Context, c engine.Contact) (engine.Contact, error) {
	defer s.acquire()()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	if prev, ok := s.st.contacts[c.ID]; ok && !prev.CreatedAt.IsZero() {
		c.CreatedAt = prev.CreatedAt
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	s.st.contacts[c.ID] = copyContact(c)
	return copyContact(c), nil
}

// DeleteContact removes a contact but leaves its reminders, like a row deleted
// outside the reconciliation subsystem would.
func (s *Store) DeleteContact(_ context.Context, id string) error {
	defer s.acquire()()

	if _, ok := s.st.contacts[id]; !ok {
		return fmt.Errorf("contact %q: %w", id, engine.ErrNotFound)
	}
	delete(s.st.contacts, id)
	return nil
}

// --- Reminders ---

func (s *Store) GetReminder(_ context.Context, id string) (engine.Reminder, error) {
	defer s.acquire()()

	r, ok := s.st.reminders[id]
	if !ok {
		return engine.Reminder{}, fmt.Errorf("reminder %q: %w", id, engine.ErrNotFound)
	}
	return copyReminder(r), nil
}

func (s *Store) ListReminders(ctx context.Context, filter engine.ReminderFilter) ([]engine.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.acquire()()

	out := s.st.matching(filter)
	slices.SortFunc(out, func(a, b engine.Reminder) int {
		if c := a.ScheduledFor.Compare(b.ScheduledFor); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *Store) CreateReminder(_ context.Context, r engine.Reminder) (engine.Reminder, error) {
	defer s.acquire()()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.st.reminders[r.ID]; exists {
		return engine.Reminder{}, fmt.Errorf("reminder id %q already exists", r.ID)
	}
	if r.Status == engine.StatusPending && s.st.hasPending(r.ContactID, r.Type, "") {
		return engine.Reminder{}, fmt.Errorf("contact %q type %s: %w", r.ContactID, r.Type, engine.ErrDuplicatePending)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.st.reminders[r.ID] = copyReminder(r)
	return copyReminder(r), nil
}

func (s *Store) UpdateReminderStatus(_ context.Context, id string, status engine.Status, at time.Time) (engine.Reminder, error) {
	defer s.acquire()()

	r, ok := s.st.reminders[id]
	if !ok {
		return engine.Reminder{}, fmt.Errorf("reminder %q: %w", id, engine.ErrNotFound)
	}
	if status == engine.StatusPending && s.st.hasPending(r.ContactID, r.Type, r.ID) {
		return engine.Reminder{}, fmt.Errorf("contact %q type %s: %w", r.ContactID, r.Type, engine.ErrDuplicatePending)
	}

	r.Status = status
	switch status {
	case engine.StatusSent:
		r.SentAt = &at
	case engine.StatusDismissed:
		r.DismissedAt = &at
	}
	s.st.reminders[id] = copyReminder(r)
	return copyReminder(r), nil
}

func (s *Store) DeleteReminder(_ context.Context, id string) error {
	defer s.acquire()()

	if _, ok := s.st.reminders[id]; !ok {
		return fmt.Errorf("reminder %q: %w", id, engine.ErrNotFound)
	}
	delete(s.st.reminders, id)
	return nil
}

// DeleteReminders removes every reminder matching filter. Limit and Offset are ignored.
func (s *Store) DeleteReminders(ctx context.Context, filter engine.ReminderFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer s.acquire()()

	filter.Limit, filter.Offset = 0, 0
	victims := s.st.matching(filter)
	for _, r := range victims {
		delete(s.st.reminders, r.ID)
	}
	return len(victims), nil
}

// CountReminders counts reminders matching filter. Limit and Offset are ignored.
func (s *Store) CountReminders(_ context.Context, filter engine.ReminderFilter) (int, error) {
	defer s.acquire()()
	return len(s.st.matching(filter)), nil
}

// --- state helpers ---

func (st *state) clone() *state {
	c := &state{
		contacts:  make(map[string]engine.Contact, len(st.contacts)),
		reminders: make(map[string]engine.Reminder, len(st.reminders)),
	}
	for k, v := range st.contacts {
		c.contacts[k] = copyContact(v)
	}
	for k, v := range st.reminders {
		c.reminders[k] = copyReminder(v)
	}
	return c
}

func (st *state) matching(f engine.ReminderFilter) []engine.Reminder {
	var out []engine.Reminder
	for _, r := range st.reminders {
		if matches(f, r) {
			out = append(out, copyReminder(r))
		}
	}
	return out
}

func (st *state) hasPending(contactID string, typ engine.ReminderType, exceptID string) bool {
	for _, r := range st.reminders {
		if r.ID != exceptID && r.ContactID == contactID && r.Type == typ && r.Status == engine.StatusPending {
			return true
		}
	}
	return false
}

func matches(f engine.ReminderFilter, r engine.Reminder) bool {
	switch {
	case f.ContactID != "" && r.ContactID != f.ContactID:
		return false
	case len(f.Types) > 0 && !slices.Contains(f.Types, r.Type):
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status):
		return false
	case f.From != nil && r.ScheduledFor.Before(*f.From):
		return false
	case f.To != nil && r.ScheduledFor.After(*f.To):
		return false
	}
	return true
}

func paginate(items []engine.Reminder, limit, offset int) []engine.Reminder {
	if offset > 0 {
		if offset >= len(items) {
			return []engine.Reminder{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	if items == nil {
		return []engine.Reminder{}
	}
	return items
}

// Copies detach pointer fields so callers cannot mutate stored values.

func copyContact(c engine.Contact) engine.Contact {
	if c.LastContactedAt != nil {
		t := *c.LastContactedAt
		c.LastContactedAt = &t
	}
	if c.Birthday != nil {
		md := *c.Birthday
		c.Birthday = &md
	}
	return c
}

func copyReminder(r engine.Reminder) engine.Reminder {
	if r.SentAt != nil {
		t := *r.SentAt
		r.SentAt = &t
	}
	if r.DismissedAt != nil {
		t := *r.DismissedAt
		r.DismissedAt = &t
	}
	return r
}
