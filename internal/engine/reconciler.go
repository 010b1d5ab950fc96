package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/tartampluch/go-keepintouch/internal/config"
)

// GenerateResult summarizes a reconciliation sweep. Counts are reported even when
// some contacts failed; those are listed in Failures.
type GenerateResult struct {
	Created  int              `json:"created"`
	Skipped  int              `json:"skipped"`
	Purged   int              `json:"purged"`
	Contacts int              `json:"contacts"`
	Failures []ContactFailure `json:"failures,omitempty"`
}

// RefreshResult summarizes RefreshAllReminders.
type RefreshResult struct {
	Deleted  int              `json:"deleted"`
	Created  int              `json:"created"`
	Contacts int              `json:"contacts"`
	Failures []ContactFailure `json:"failures,omitempty"`
}

// Reconciler keeps the persisted reminder set in agreement with what the cadence
// calculator says each contact is owed. It is the only writer of reminders
// besides the Handler's status transitions.
type Reconciler struct {
	Store    Store
	Locker   Locker           // Optional. Without it only the store's uniqueness guards races.
	Clock    Clock            // Interface for time mocking.
	Messages MessageFormatter // Localized reminder texts. Defaults to FallbackMessages.

	// NewID generates reminder ids. Defaults to random UUIDs.
	NewID func() string
}

// outcome is what applying one contact plan did.
type outcome struct {
	created []Reminder
	purged  int
	skipped int
}

// GenerateUpcomingReminders reconciles every contact: creates owed reminders that
// are missing, purges stale or duplicate pending ones, and removes pending
// reminders of deleted contacts. One contact failing does not stop the sweep.
func (r *Reconciler) GenerateUpcomingReminders(ctx context.Context) (GenerateResult, error) {
	start := time.Now()
	log := slog.With(config.LogKeyComponent, config.CompEngine)
	log.DebugContext(ctx, config.MsgSweepStarted)

	now := storeNow(r.Clock)
	contacts, err := r.Store.ListContacts(ctx, ContactFilter{})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%s: %w", config.ErrListContacts, err)
	}

	var res GenerateResult
	known := mapset.NewThreadUnsafeSet[string]()

	for _, c := range contacts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		known.Add(c.ID)
		res.Contacts++

		out, err := r.reconcileContact(ctx, c.ID, now, false)
		res.add(out)
		if err != nil {
			log.WarnContext(ctx, config.MsgContactFailed,
				config.LogKeyContactID, c.ID,
				config.LogKeyError, err)
			res.Failures = append(res.Failures, ContactFailure{ContactID: c.ID, Err: err})
		}
	}

	r.purgeOrphans(ctx, known, &res)

	log.InfoContext(ctx, config.MsgSweepFinished,
		slog.Group(config.LogKeyStats,
			slog.Int(config.LogKeyContacts, res.Contacts),
			slog.Int(config.LogKeyCreated, res.Created),
			slog.Int(config.LogKeySkipped, res.Skipped),
			slog.Int(config.LogKeyPurged, res.Purged),
			slog.Int(config.LogKeyFailed, len(res.Failures)),
		),
		config.LogKeyDuration, time.Since(start).Milliseconds())
	return res, nil
}

// GenerateReminderForContact reconciles a single contact and also schedules its
// next communication reminder even if it is not due yet. It returns the created
// communication reminder, otherwise the first reminder created, otherwise nil.
func (r *Reconciler) GenerateReminderForContact(ctx context.Context, contactID string) (*Reminder, error) {
	out, err := r.reconcileContact(ctx, contactID, storeNow(r.Clock), true)
	if err != nil {
		return nil, err
	}
	return out.primary(), nil
}

// RefreshAllReminders deletes every pending reminder and regenerates from scratch.
// It is an administrative repair tool: it is not transactional, so if it is
// interrupted the set may be incomplete until it is run again.
func (r *Reconciler) RefreshAllReminders(ctx context.Context) (RefreshResult, error) {
	log := slog.With(config.LogKeyComponent, config.CompEngine)
	log.InfoContext(ctx, config.MsgRefreshStarted)

	deleted, err := r.Store.DeleteReminders(ctx, ReminderFilter{Statuses: []Status{StatusPending}})
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%s: %w", config.ErrDeleteReminder, err)
	}
	log.InfoContext(ctx, config.MsgRefreshDeleted, config.LogKeyDeleted, deleted)

	gen, err := r.GenerateUpcomingReminders(ctx)
	return RefreshResult{
		Deleted:  deleted,
		Created:  gen.Created,
		Contacts: gen.Contacts,
		Failures: gen.Failures,
	}, err
}

// UpcomingReminders lists pending reminders scheduled within [now, now+withinDays],
// joined with their contact, soonest first.
func (r *Reconciler) UpcomingReminders(ctx context.Context, withinDays int) ([]ContactReminder, error) {
	now, to, err := r.window(withinDays)
	if err != nil {
		return nil, err
	}
	return r.listJoined(ctx, ReminderFilter{
		Statuses: []Status{StatusPending},
		From:     &now,
		To:       &to,
	})
}

// Agenda lists pending reminders due up to now+withinDays, overdue ones included,
// most urgent first (see SortByUrgency).
func (r *Reconciler) Agenda(ctx context.Context, withinDays int) ([]ContactReminder, error) {
	now, to, err := r.window(withinDays)
	if err != nil {
		return nil, err
	}
	items, err := r.listJoined(ctx, ReminderFilter{
		Statuses: []Status{StatusPending},
		To:       &to,
	})
	if err != nil {
		return nil, err
	}
	SortByUrgency(items, now)
	return items, nil
}

func (r *Reconciler) window(days int) (now, to time.Time, err error) {
	if days < 0 || days > config.MaxUpcomingDays {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %d", ErrInvalidWindow, days)
	}
	now = storeNow(r.Clock)
	return now, now.AddDate(0, 0, days), nil
}

func (r *Reconciler) listJoined(ctx context.Context, filter ReminderFilter) ([]ContactReminder, error) {
	reminders, err := r.Store.ListReminders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrListReminders, err)
	}
	if len(reminders) == 0 {
		return []ContactReminder{}, nil
	}

	ids := mapset.NewThreadUnsafeSet[string]()
	for _, rem := range reminders {
		ids.Add(rem.ContactID)
	}
	idList := ids.ToSlice()
	slices.Sort(idList)

	contacts, err := r.Store.ListContacts(ctx, ContactFilter{IDs: idList})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrListContacts, err)
	}
	byID := make(map[string]Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}

	out := make([]ContactReminder, 0, len(reminders))
	for _, rem := range reminders {
		c, ok := byID[rem.ContactID]
		if !ok {
			// Orphan; the next sweep purges it.
			continue
		}
		out = append(out, ContactReminder{Contact: c, Reminder: rem})
	}
	return out, nil
}

// reconcileContact locks the contact, reloads it, and applies its plan.
func (r *Reconciler) reconcileContact(ctx context.Context, contactID string, now time.Time, scheduleAhead bool) (outcome, error) {
	unlock, err := r.lock(ctx, contactID)
	if err != nil {
		return outcome{}, err
	}
	defer unlock()

	c, err := r.Store.GetContact(ctx, contactID)
	if err != nil {
		return outcome{}, fmt.Errorf("%s: %w", config.ErrGetContact, err)
	}
	return r.reconcileLocked(ctx, r.Store, c, now, scheduleAhead)
}

// reconcileLocked plans and applies one contact's delta against st.
// The caller holds the contact lock.
func (r *Reconciler) reconcileLocked(ctx context.Context, st Store, c Contact, now time.Time, scheduleAhead bool) (outcome, error) {
	existing, err := st.ListReminders(ctx, ReminderFilter{ContactID: c.ID})
	if err != nil {
		return outcome{}, fmt.Errorf("%s: %w", config.ErrListReminders, err)
	}

	plan, err := planContact(c, existing, now, r.Messages, scheduleAhead)
	if err != nil {
		return outcome{}, err
	}

	log := slog.With(config.LogKeyComponent, config.CompEngine, config.LogKeyContactID, c.ID)
	out := outcome{skipped: plan.skipped}

	// Purge first: a stale pending reminder of the same type would otherwise
	// violate the uniqueness constraint on create.
	for _, stale := range plan.purge {
		if err := st.DeleteReminder(ctx, stale.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return out, fmt.Errorf("%s: %w", config.ErrDeleteReminder, err)
		}
		out.purged++
		log.DebugContext(ctx, config.MsgReminderPurged,
			config.LogKeyReminder, stale.ID,
			config.LogKeyType, string(stale.Type),
			config.LogKeyScheduled, stale.ScheduledFor)
	}

	for _, rem := range plan.create {
		rem.ID = r.newID()
		rem.CreatedAt = now
		if err := rem.Validate(); err != nil {
			return out, fmt.Errorf("%s: %w", config.ErrMessageValidation, err)
		}

		created, err := st.CreateReminder(ctx, rem)
		if errors.Is(err, ErrDuplicatePending) {
			log.DebugContext(ctx, config.MsgDuplicateRace, config.LogKeyType, string(rem.Type))
			out.skipped++
			continue
		}
		if err != nil {
			return out, fmt.Errorf("%s: %w", config.ErrCreateReminder, err)
		}
		out.created = append(out.created, created)
		log.DebugContext(ctx, config.MsgReminderCreated,
			config.LogKeyReminder, created.ID,
			config.LogKeyType, string(created.Type),
			config.LogKeyScheduled, created.ScheduledFor)
	}
	return out, nil
}

// purgeOrphans deletes pending reminders whose contact no longer exists.
func (r *Reconciler) purgeOrphans(ctx context.Context, known mapset.Set[string], res *GenerateResult) {
	pending, err := r.Store.ListReminders(ctx, ReminderFilter{Statuses: []Status{StatusPending}})
	if err != nil {
		res.Failures = append(res.Failures, ContactFailure{Err: fmt.Errorf("%s: %w", config.ErrListReminders, err)})
		return
	}

	for _, rem := range pending {
		if known.Contains(rem.ContactID) {
			continue
		}
		// The contact may have been created after the listing; only a confirmed
		// missing contact makes the reminder an orphan.
		if _, err := r.Store.GetContact(ctx, rem.ContactID); !errors.Is(err, ErrNotFound) {
			continue
		}
		if err := r.Store.DeleteReminder(ctx, rem.ID); err != nil && !errors.Is(err, ErrNotFound) {
			res.Failures = append(res.Failures, ContactFailure{ContactID: rem.ContactID, Err: err})
			continue
		}
		res.Purged++
		slog.DebugContext(ctx, config.MsgOrphanPurged,
			config.LogKeyComponent, config.CompEngine,
			config.LogKeyContactID, rem.ContactID,
			config.LogKeyReminder, rem.ID)
	}
}

func (r *Reconciler) lock(ctx context.Context, contactID string) (func(), error) {
	if r.Locker == nil {
		return func() {}, nil
	}
	unlock, err := r.Locker.Lock(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrAcquireLock, err)
	}
	return unlock, nil
}

func (r *Reconciler) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

func (res *GenerateResult) add(out outcome) {
	res.Created += len(out.created)
	res.Skipped += out.skipped
	res.Purged += out.purged
}

func (o outcome) primary() *Reminder {
	for i := range o.created {
		if o.created[i].Type == TypeCommunication {
			return &o.created[i]
		}
	}
	if len(o.created) > 0 {
		return &o.created[0]
	}
	return nil
}
