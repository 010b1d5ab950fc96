package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tartampluch/go-keepintouch/internal/config"
)

// Handler applies user actions to reminders and contacts. It shares the
// Reconciler's store, lock and clock so the next occurrence is scheduled with the
// same rules as a sweep.
type Handler struct {
	Reconciler *Reconciler
}

// NewHandler returns a Handler bound to r.
func NewHandler(r *Reconciler) *Handler {
	return &Handler{Reconciler: r}
}

// Dismiss moves a pending or sent reminder to dismissed. Dismissing a reminder
// that is already dismissed succeeds and changes nothing.
func (h *Handler) Dismiss(ctx context.Context, reminderID string) (Reminder, error) {
	st := h.Reconciler.Store
	log := slog.With(config.LogKeyComponent, config.CompEngine, config.LogKeyReminder, reminderID)

	rem, err := st.GetReminder(ctx, reminderID)
	if err != nil {
		return Reminder{}, fmt.Errorf("%s: %w", config.ErrGetReminder, err)
	}
	if rem.Status == StatusDismissed {
		log.DebugContext(ctx, config.MsgDismissNoop)
		return rem, nil
	}

	updated, err := st.UpdateReminderStatus(ctx, rem.ID, StatusDismissed, storeNow(h.Reconciler.Clock))
	if err != nil {
		return Reminder{}, fmt.Errorf("%s: %w", config.ErrUpdateReminder, err)
	}
	log.InfoContext(ctx, config.MsgDismissed, config.LogKeyContactID, updated.ContactID)
	return updated, nil
}

// MarkSent records that a pending reminder was delivered. Marking a sent reminder
// again is a no-op; a dismissed reminder cannot be sent.
func (h *Handler) MarkSent(ctx context.Context, reminderID string) (Reminder, error) {
	st := h.Reconciler.Store

	rem, err := st.GetReminder(ctx, reminderID)
	if err != nil {
		return Reminder{}, fmt.Errorf("%s: %w", config.ErrGetReminder, err)
	}
	switch rem.Status {
	case StatusSent:
		return rem, nil
	case StatusDismissed:
		return Reminder{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rem.Status, StatusSent)
	}

	updated, err := st.UpdateReminderStatus(ctx, rem.ID, StatusSent, storeNow(h.Reconciler.Clock))
	if err != nil {
		return Reminder{}, fmt.Errorf("%s: %w", config.ErrUpdateReminder, err)
	}
	slog.InfoContext(ctx, config.MsgMarkedSent,
		config.LogKeyComponent, config.CompEngine,
		config.LogKeyReminder, updated.ID)
	return updated, nil
}

// MarkContacted records that the contact was just reached: it sets the last
// contact date, dismisses the outstanding communication reminder and schedules
// the next one. The three steps commit together.
//
// The returned reminder is the newly scheduled communication reminder, or nil if
// the contact has no communication frequency (or is paused).
func (h *Handler) MarkContacted(ctx context.Context, contactID string) (*Reminder, error) {
	r := h.Reconciler
	now := storeNow(r.Clock)

	unlock, err := r.lock(ctx, contactID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var next *Reminder
	err = r.Store.Atomically(ctx, func(tx Store) error {
		c, err := tx.GetContact(ctx, contactID)
		if err != nil {
			return fmt.Errorf("%s: %w", config.ErrGetContact, err)
		}

		c.LastContactedAt = &now
		c.UpdatedAt = now
		if c, err = tx.SaveContact(ctx, c); err != nil {
			return fmt.Errorf("%s: %w", config.ErrSaveContact, err)
		}

		pending, err := tx.ListReminders(ctx, ReminderFilter{
			ContactID: contactID,
			Types:     []ReminderType{TypeCommunication},
			Statuses:  []Status{StatusPending},
		})
		if err != nil {
			return fmt.Errorf("%s: %w", config.ErrListReminders, err)
		}
		for _, p := range pending {
			if _, err := tx.UpdateReminderStatus(ctx, p.ID, StatusDismissed, now); err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%s: %w", config.ErrUpdateReminder, err)
			}
		}

		out, err := r.reconcileLocked(ctx, tx, c, now, true)
		if err != nil {
			return err
		}
		for i := range out.created {
			if out.created[i].Type == TypeCommunication {
				next = &out.created[i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, config.MsgMarkedContacted,
		config.LogKeyComponent, config.CompEngine,
		config.LogKeyContactID, contactID)
	return next, nil
}
