// Package calendar renders pending reminders as an iCalendar feed so they show up
// in any calendar client subscribed to the server.
package calendar

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-ical"
	"github.com/tartampluch/go-keepintouch/internal/config"
	"github.com/tartampluch/go-keepintouch/internal/engine"
)

// Builder turns reminders into an ICS document.
type Builder struct {
	// Name is the calendar display name (X-WR-CALNAME). Defaults to config.ICalCalName.
	Name string
}

// Build encodes one event per reminder, each with a display alarm at its due time.
// Birthday reminders are all-day events; communication reminders are timed.
// An empty list yields a minimal valid calendar.
func (b Builder) Build(ctx context.Context, items []engine.ContactReminder, now time.Time) ([]byte, error) {
	if len(items) == 0 {
		return []byte(config.StubVCalendar), nil
	}

	cal := ical.NewCalendar()
	name := b.Name
	if name == "" {
		name = config.ICalCalName
	}
	cal.Props.SetText(config.PropVersion, config.ICalVersion)
	cal.Props.SetText(config.PropProdid, config.ICalProdid)
	cal.Props.SetText(config.PropXWRCalName, name)
	cal.Props.SetText(config.PropCalScale, config.ICalScale)
	cal.Props.SetText(config.PropMethod, config.ICalMethod)

	refreshProp := ical.NewProp(config.PropRefresh)
	refreshProp.SetDuration(config.DefaultICalRefresh)
	cal.Props.Set(refreshProp)

	dtStamp := ical.NewProp(config.PropDTStamp)
	dtStamp.SetDateTime(now.UTC())

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		event := newEvent(item)
		event.Props.Set(dtStamp)
		cal.Children = append(cal.Children, event.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrICalEncode, err)
	}

	slog.DebugContext(ctx, config.MsgCacheUpdated,
		config.LogKeyComponent, config.CompCalendar,
		config.LogKeyCount, len(items),
		config.LogKeySizeBytes, buf.Len())
	return buf.Bytes(), nil
}

func newEvent(item engine.ContactReminder) *ical.Event {
	r := item.Reminder

	event := ical.NewEvent()
	event.Props.SetText(config.PropUID, fmt.Sprintf(config.FormatUID, r.ID, config.ICalDomain))
	event.Props.SetText(config.PropSummary, r.Message)
	event.Props.SetText(config.PropCategories, string(r.Type))

	dtStart := ical.NewProp(config.PropDTStart)
	if r.Type == engine.TypeCommunication {
		dtStart.SetDateTime(r.ScheduledFor.UTC())
	} else {
		dtStart.SetDate(r.ScheduledFor)
	}
	event.Props.Set(dtStart)

	addAlarm(event, config.ICalTrigger, r.Message)
	return event
}

// addAlarm appends a DISPLAY alarm to the event.
func addAlarm(event *ical.Event, trigger, description string) {
	alarm := ical.NewComponent(config.ICalComponent)
	alarm.Props.SetText(config.PropAction, config.ICalAction)
	alarm.Props.SetText(config.PropDescription, description)

	// Set the value directly so no VALUE=TEXT parameter is emitted.
	triggerProp := ical.NewProp(config.PropTrigger)
	triggerProp.Value = trigger
	alarm.Props.Set(triggerProp)

	event.Children = append(event.Children, alarm)
}
