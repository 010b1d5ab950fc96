package engine

import (
	"cmp"
	"slices"
	"time"
)

// SortByUrgency orders items most urgent first: overdue reminders (at least one
// whole day past due) before the rest, the most overdue first, then soonest due
// first. Equal dates fall back to the reminder id so the order is deterministic.
func SortByUrgency(items []ContactReminder, now time.Time) {
	slices.SortStableFunc(items, func(a, b ContactReminder) int {
		da, db := DaysPastDue(a.Reminder.ScheduledFor, now), DaysPastDue(b.Reminder.ScheduledFor, now)
		overA, overB := da > 0, db > 0

		switch {
		case overA && !overB:
			return -1
		case overB && !overA:
			return 1
		case overA && overB && da != db:
			return cmp.Compare(db, da)
		}
		if c := a.Reminder.ScheduledFor.Compare(b.Reminder.ScheduledFor); c != 0 {
			return c
		}
		return cmp.Compare(a.Reminder.ID, b.Reminder.ID)
	})
}
