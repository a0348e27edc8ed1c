package feed

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"taskcal/internal/model"
)

// feedTTL is the refresh interval advertised to calendar clients.
const feedTTL = "P1D"

// Options carries renderer configuration that would otherwise be ambient
// global state.
type Options struct {
	// ProductID is stamped as the calendar PRODID (the publisher name).
	ProductID string
	// CalendarName, if set, is emitted as X-WR-CALNAME.
	CalendarName string
}

// Render serializes the selected entries into an iCalendar document for the
// given subscriber. It is a pure function of (entries, subscriber, options)
// and performs no I/O; callers may retry freely.
//
// Per entry it emits an all-day end event (UID "E-<id>") on the effective
// date, and, when the subscriber opted in, an all-day start event
// (UID "S-<id>") on the definition's start date. UIDs derive only from the
// definition ID and variant so clients track the same logical event across
// pulls even as its date moves.
func Render(entries []Entry, sub model.Subscriber, opts Options) (string, error) {
	// Validate up front so a bad entry cannot leave a half-built document.
	for _, e := range entries {
		if e.Definition.TargetDate.IsZero() {
			return "", fmt.Errorf("task definition %d: %w", e.Definition.ID, ErrMissingTargetDate)
		}
	}

	cal := ical.NewCalendar()
	cal.SetProductId(opts.ProductID)
	cal.SetMethod(ical.MethodPublish)
	if opts.CalendarName != "" {
		cal.SetXWRCalName(opts.CalendarName)
	}
	// No single refresh directive is honored by all clients, so emit the
	// vendor property and the RFC 7986 one with the same duration.
	cal.SetXPublishedTTL(feedTTL)
	// golang-ical's PropertyRefreshInterval constant already includes
	// ";VALUE=DURATION", so no explicit WithValue parameter is needed.
	cal.SetRefreshInterval(feedTTL)

	for _, e := range entries {
		if sub.IncludeStartDates && !e.Definition.StartDate.IsZero() {
			addAllDayEvent(cal, sub, "S", e, e.Definition.StartDate, "Start: "+eventName(e))
		}
		addAllDayEvent(cal, sub, "E", e, effectiveDate(e), endSummary(sub, e))
	}

	return cal.Serialize(), nil
}

// eventName builds the base summary "<unit code>: <abbreviation>: <name>".
func eventName(e Entry) string {
	return fmt.Sprintf("%s: %s: %s", e.Unit.Code, e.Definition.Abbreviation, e.Definition.Name)
}

// endSummary prefixes "End: " only when a start event exists to
// disambiguate against.
func endSummary(sub model.Subscriber, e Entry) string {
	if sub.IncludeStartDates {
		return "End: " + eventName(e)
	}
	return eventName(e)
}

// effectiveDate shifts the target date by one week per granted extension,
// taken from the first preloaded task when one exists.
func effectiveDate(e Entry) time.Time {
	if len(e.Tasks) == 0 {
		return e.Definition.TargetDate
	}
	return e.Definition.TargetDate.AddDate(0, 0, 7*e.Tasks[0].Extensions)
}

func addAllDayEvent(cal *ical.Calendar, sub model.Subscriber, prefix string, e Entry, date time.Time, summary string) {
	ev := cal.AddEvent(fmt.Sprintf("%s-%d", prefix, e.Definition.ID))
	ev.SetSummary(summary)
	ev.SetStatus(ical.ObjectStatusConfirmed)
	// A one-day, date-only event: both boundaries on the same calendar date.
	ev.SetAllDayStartAt(date)
	ev.SetAllDayEndAt(date)
	// DTSTAMP derived from the event date keeps repeated renders over
	// unchanged inputs byte-identical.
	ev.SetDtStampTime(date.UTC())

	if sub.HasReminder() {
		alarm := ev.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(reminderTrigger(sub))
		alarm.SetDescription(summary)
	}
}

// reminderTrigger encodes the subscriber's reminder offset as a negative
// RFC 5545 duration (weeks/days/hours/minutes before the event date).
func reminderTrigger(sub model.Subscriber) string {
	switch sub.ReminderUnit {
	case model.ReminderWeeks:
		return fmt.Sprintf("-P%dW", sub.ReminderTime)
	case model.ReminderDays:
		return fmt.Sprintf("-P%dD", sub.ReminderTime)
	case model.ReminderHours:
		return fmt.Sprintf("-PT%dH", sub.ReminderTime)
	case model.ReminderMinutes:
		return fmt.Sprintf("-PT%dM", sub.ReminderTime)
	}
	return ""
}
