package engine

import (
	"time"

	"github.com/tartampluch/go-keepintouch/internal/config"
)

// contactPlan is the delta between what a contact is owed and what is persisted.
type contactPlan struct {
	create  []Reminder
	purge   []Reminder
	skipped int
}

// planContact computes the reminder delta for one contact from its full reminder
// history (any status). It performs no I/O.
//
// scheduleAhead makes the communication reminder be created for the next cycle
// even when it is not due yet; it is used right after a contact was marked as
// contacted.
func planContact(c Contact, existing []Reminder, now time.Time, msgs MessageFormatter, scheduleAhead bool) (contactPlan, error) {
	if msgs == nil {
		msgs = FallbackMessages{}
	}
	var p contactPlan

	if err := p.planCommunication(c, existing, now, msgs, scheduleAhead); err != nil {
		return contactPlan{}, err
	}
	p.planBirthday(c, existing, now, msgs)
	return p, nil
}

func (p *contactPlan) planCommunication(c Contact, existing []Reminder, now time.Time, msgs MessageFormatter, scheduleAhead bool) error {
	pending := pendingOfType(existing, TypeCommunication)

	if !c.wantsCommunication() {
		p.purge = append(p.purge, pending...)
		return nil
	}

	expected, err := NextReminderDate(c.CommunicationFrequency, c.LastContactedAt, now)
	if err != nil {
		return err
	}
	never := c.LastContactedAt == nil

	// For a never-contacted contact the expected date floats with "now", so any
	// pending reminder is current. Otherwise only one at the expected date is.
	var current *Reminder
	for i := range pending {
		if current == nil && (never || pending[i].ScheduledFor.Equal(expected)) {
			current = &pending[i]
			continue
		}
		p.purge = append(p.purge, pending[i])
	}
	if current != nil {
		p.skipped++
		return nil
	}

	due := never || !expected.After(now)
	if !due && !scheduleAhead {
		p.skipped++
		return nil
	}
	if !never && acknowledged(existing, TypeCommunication, expected) {
		p.skipped++
		return nil
	}

	overdue := 0
	if !never {
		if overdue, err = DaysOverdue(c.CommunicationFrequency, c.LastContactedAt, now); err != nil {
			return err
		}
	}
	p.create = append(p.create, newReminder(c, TypeCommunication, expected, msgs.Communication(c, overdue, never)))
	return nil
}

func (p *contactPlan) planBirthday(c Contact, existing []Reminder, now time.Time, msgs MessageFormatter) {
	if !c.wantsBirthday() {
		p.purge = append(p.purge, pendingOfType(existing, TypeBirthdayDay)...)
		p.purge = append(p.purge, pendingOfType(existing, TypeBirthdayWeek)...)
		return
	}

	occ := BirthdayOccurrences(*c.Birthday, now)
	todayStart := startOfDay(now)

	targets := []struct {
		typ     ReminderType
		at      time.Time
		message func() string
	}{
		{TypeBirthdayWeek, occ.WeekBefore, func() string { return msgs.BirthdayWeek(c, occ.This) }},
		{TypeBirthdayDay, occ.This, func() string { return msgs.BirthdayDay(c) }},
	}

	for _, target := range targets {
		kept := false
		for _, r := range pendingOfType(existing, target.typ) {
			if !kept && r.ScheduledFor.Equal(target.at) {
				kept = true
				continue
			}
			// Previous occurrence, changed birthday, or a duplicate.
			p.purge = append(p.purge, r)
		}

		switch {
		case kept, acknowledged(existing, target.typ, target.at):
			p.skipped++
		case target.typ == TypeBirthdayWeek && target.at.Before(todayStart):
			// The birthday is less than a week away; the week-ahead reminder has no use.
			p.skipped++
		default:
			p.create = append(p.create, newReminder(c, target.typ, target.at, target.message()))
		}
	}
}

func newReminder(c Contact, typ ReminderType, at time.Time, message string) Reminder {
	msg := clampMessage(message)
	if msg == "" {
		msg = clampMessage(fallbackMessage(c, typ, at))
	}
	return Reminder{
		ContactID:    c.ID,
		Type:         typ,
		ScheduledFor: at,
		Status:       StatusPending,
		Message:      msg,
	}
}

func fallbackMessage(c Contact, typ ReminderType, at time.Time) string {
	var f FallbackMessages
	switch typ {
	case TypeBirthdayWeek:
		return f.BirthdayWeek(c, at.AddDate(0, 0, config.BirthdayWeekLead))
	case TypeBirthdayDay:
		return f.BirthdayDay(c)
	default:
		return f.Communication(c, 0, false)
	}
}

// acknowledged reports whether a non-pending reminder of typ already covered the
// occurrence at the given date (the user dismissed it, or it was sent).
func acknowledged(existing []Reminder, typ ReminderType, at time.Time) bool {
	for _, r := range existing {
		if r.Type == typ && r.Status != StatusPending && r.ScheduledFor.Equal(at) {
			return true
		}
	}
	return false
}

func pendingOfType(existing []Reminder, typ ReminderType) []Reminder {
	var out []Reminder
	for _, r := range existing {
		if r.Type == typ && r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out
}
