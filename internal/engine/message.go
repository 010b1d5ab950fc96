package engine

import (
	"fmt"
	"time"

	"github.com/tartampluch/go-keepintouch/internal/config"
)

// MessageFormatter renders the human-readable text of a reminder.
// The locale package provides the translated implementation.
type MessageFormatter interface {
	Communication(c Contact, daysOverdue int, neverContacted bool) string
	BirthdayWeek(c Contact, birthday time.Time) string
	BirthdayDay(c Contact) string
}

// FallbackMessages formats messages with the built-in English strings.
type FallbackMessages struct{}

func (FallbackMessages) Communication(c Contact, daysOverdue int, neverContacted bool) string {
	switch {
	case neverContacted:
		return fmt.Sprintf(config.FallbackMsgCommNever, c.DisplayName())
	case daysOverdue > 0:
		return fmt.Sprintf(config.FallbackMsgCommOverdue, c.DisplayName(), daysOverdue)
	default:
		return fmt.Sprintf(config.FallbackMsgCommunication, c.DisplayName())
	}
}

func (FallbackMessages) BirthdayWeek(c Contact, birthday time.Time) string {
	return fmt.Sprintf(config.FallbackMsgBirthdayWeek, c.DisplayName(), birthday.Format(config.FallbackDateFormat))
}

func (FallbackMessages) BirthdayDay(c Contact) string {
	return fmt.Sprintf(config.FallbackMsgBirthdayDay, c.DisplayName())
}
