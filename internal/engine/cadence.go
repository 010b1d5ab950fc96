package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/tartampluch/go-keepintouch/internal/config"
)

// CadenceDays maps a frequency to its fixed day interval.
func CadenceDays(freq Frequency) (int, error) {
	switch freq {
	case FrequencyWeekly:
		return config.DaysWeekly, nil
	case FrequencyMonthly:
		return config.DaysMonthly, nil
	case FrequencyQuarterly:
		return config.DaysQuarterly, nil
	case FrequencyBiannually:
		return config.DaysBiannually, nil
	case FrequencyAnnually:
		return config.DaysAnnually, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidCadence, string(freq))
	}
}

// NextReminderDate returns when the next communication reminder is due.
// A contact never contacted is due immediately (now).
func NextReminderDate(freq Frequency, lastContactedAt *time.Time, now time.Time) (time.Time, error) {
	days, err := CadenceDays(freq)
	if err != nil {
		return time.Time{}, err
	}
	if lastContactedAt == nil {
		return now, nil
	}
	return lastContactedAt.AddDate(0, 0, days), nil
}

// DaysOverdue is floor(days since last contact) minus the cadence: negative when
// not yet due, zero when due today, positive when overdue.
// The caller must check LastContactedAt first: nil yields ErrNeverContacted.
func DaysOverdue(freq Frequency, lastContactedAt *time.Time, now time.Time) (int, error) {
	days, err := CadenceDays(freq)
	if err != nil {
		return 0, err
	}
	if lastContactedAt == nil {
		return 0, ErrNeverContacted
	}
	return daysBetween(*lastContactedAt, now) - days, nil
}

// NeedsCommunicationReminder reports whether a "stay in touch" reminder is owed now.
func NeedsCommunicationReminder(c Contact, now time.Time) (bool, error) {
	if !c.wantsCommunication() {
		return false, nil
	}
	next, err := NextReminderDate(c.CommunicationFrequency, c.LastContactedAt, now)
	if err != nil {
		return false, err
	}
	return c.LastContactedAt == nil || !next.After(now), nil
}

// Occurrences holds the next birthday and the date of its week-ahead reminder.
type Occurrences struct {
	This       time.Time
	WeekBefore time.Time
}

// BirthdayOccurrences computes the next occurrence of a birthday relative to ref,
// at midnight in ref's location. A birthday earlier than today rolls to next year;
// a birthday today is still this year's occurrence.
func BirthdayOccurrences(birthday MonthDay, ref time.Time) Occurrences {
	loc := ref.Location()
	todayStart := startOfDay(ref)

	this := birthday.In(ref.Year(), loc)
	if this.Before(todayStart) {
		this = birthday.In(ref.Year()+1, loc)
	}

	return Occurrences{
		This:       this,
		WeekBefore: this.AddDate(0, 0, -config.BirthdayWeekLead),
	}
}

// DaysPastDue is the number of whole days elapsed since scheduled (negative if in the future).
func DaysPastDue(scheduled, now time.Time) int {
	return daysBetween(scheduled, now)
}

func daysBetween(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / config.HoursPerDay))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
