package engine

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/tartampluch/go-keepintouch/internal/config"
)

// Frequency is a contact's desired communication cadence.
type Frequency string

const (
	FrequencyWeekly     Frequency = "weekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencyBiannually Frequency = "biannually"
	FrequencyAnnually   Frequency = "annually"
)

// Contact is the subset of a CRM contact relevant to reminder scheduling.
type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// CommunicationFrequency is empty when no "stay in touch" reminders are wanted.
	CommunicationFrequency Frequency `json:"communication_frequency,omitempty"`

	// LastContactedAt is nil for a contact that was never contacted.
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`

	RemindersPaused bool      `json:"reminders_paused"`
	Birthday        *MonthDay `json:"birthday,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Contact) wantsCommunication() bool {
	return !c.RemindersPaused && c.CommunicationFrequency != ""
}

func (c Contact) wantsBirthday() bool {
	return !c.RemindersPaused && c.Birthday != nil
}

// DisplayName returns the name used in reminder messages.
func (c Contact) DisplayName() string {
	if c.Name == "" {
		return config.FallbackName
	}
	return c.Name
}

// MonthDay is a calendar day without a year, used for birthdays.
type MonthDay struct {
	Month time.Month
	Day   int
}

// ParseMonthDay accepts "MM-DD" as well as the vCard truncated forms "--MM-DD" and "--MMDD".
func ParseMonthDay(value string) (MonthDay, error) {
	layouts := []string{config.DateFormatMonthDay, config.DateFormatNoYearD, config.DateFormatNoYearB}
	for _, layout := range layouts {
		// time.Parse without a year resolves to year 0, which is a leap year,
		// so 02-29 parses fine.
		if t, err := time.Parse(layout, value); err == nil {
			return NewMonthDay(t.Month(), t.Day())
		}
	}
	return MonthDay{}, fmt.Errorf("%w: %q", ErrInvalidMonthDay, value)
}

// NewMonthDay validates the day against the month length in a leap year.
func NewMonthDay(month time.Month, day int) (MonthDay, error) {
	probe := time.Date(config.DefaultLeapYear, month, day, 0, 0, 0, 0, time.UTC)
	if month < time.January || month > time.December || probe.Month() != month || probe.Day() != day {
		return MonthDay{}, fmt.Errorf("%w: %02d-%02d", ErrInvalidMonthDay, int(month), day)
	}
	return MonthDay{Month: month, Day: day}, nil
}

// MustMonthDay is NewMonthDay that panics on invalid input. Intended for tests and literals.
func MustMonthDay(month time.Month, day int) *MonthDay {
	md, err := NewMonthDay(month, day)
	if err != nil {
		panic(err)
	}
	return &md
}

func (m MonthDay) String() string {
	return fmt.Sprintf(config.FormatMonthDay, int(m.Month), m.Day)
}

// IsLeapDay reports whether the value is February 29.
func (m MonthDay) IsLeapDay() bool {
	return m.Month == time.February && m.Day == 29
}

// In returns midnight of this month-day in the given year and location.
// February 29 resolves to February 28 in non-leap years.
func (m MonthDay) In(year int, loc *time.Location) time.Time {
	day := m.Day
	if m.IsLeapDay() && !isLeapYear(year) {
		day = 28
	}
	return time.Date(year, m.Month, day, 0, 0, 0, 0, loc)
}

func (m MonthDay) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MonthDay) UnmarshalText(text []byte) error {
	parsed, err := ParseMonthDay(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the month-day as "MM-DD" text.
func (m MonthDay) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads an "MM-DD" text column.
func (m *MonthDay) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return m.UnmarshalText([]byte(v))
	case []byte:
		return m.UnmarshalText(v)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidMonthDay, src)
	}
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
