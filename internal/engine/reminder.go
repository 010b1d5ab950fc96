package engine

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/tartampluch/go-keepintouch/internal/config"
)

// ReminderType identifies what a reminder is about.
type ReminderType string

const (
	TypeCommunication ReminderType = "communication"
	TypeBirthdayWeek  ReminderType = "birthday_week"
	TypeBirthdayDay   ReminderType = "birthday_day"
)

// Status is the lifecycle state of a reminder. Sent and dismissed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDismissed Status = "dismissed"
)

// Reminder is one occurrence of a communication or birthday reminder.
// ScheduledFor is never updated in place: a new due date means a new reminder.
type Reminder struct {
	ID           string       `json:"id"`
	ContactID    string       `json:"contact_id" validate:"required"`
	Type         ReminderType `json:"type" validate:"oneof=communication birthday_week birthday_day"`
	ScheduledFor time.Time    `json:"scheduled_for"`
	Status       Status       `json:"status" validate:"oneof=pending sent dismissed"`
	Message      string       `json:"message" validate:"min=1,max=200"`
	CreatedAt    time.Time    `json:"created_at"`
	SentAt       *time.Time   `json:"sent_at,omitempty"`
	DismissedAt  *time.Time   `json:"dismissed_at,omitempty"`
}

// ContactReminder is a reminder joined with its contact, as listed to callers.
type ContactReminder struct {
	Contact  Contact  `json:"contact"`
	Reminder Reminder `json:"reminder"`
}

var reminderValidator = validator.New()

// Validate checks the reminder fields, including the 1-200 character message bound.
func (r Reminder) Validate() error {
	if err := reminderValidator.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// clampMessage trims whitespace and cuts the text to the maximum message length.
func clampMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) <= config.MessageMaxLen {
		return msg
	}
	runes := []rune(msg)
	return strings.TrimSpace(string(runes[:config.MessageMaxLen]))
}
