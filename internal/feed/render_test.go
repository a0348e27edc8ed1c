package feed

import (
	"errors"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"taskcal/internal/model"
)

var testOpts = Options{
	ProductID:    "-//Taskcal//Taskcal//EN",
	CalendarName: "Taskcal",
}

func assignmentEntry() Entry {
	return Entry{
		Definition: model.TaskDefinition{
			ID:           42,
			UnitID:       1,
			Abbreviation: "A1",
			Name:         "Assignment 1",
			TargetGrade:  1,
			StartDate:    date(2024, time.March, 1),
			TargetDate:   date(2024, time.May, 10),
		},
		Unit: model.Unit{
			ID:     1,
			Code:   "COS10001",
			Active: true,
		},
		Project: model.Project{ID: 100, UserID: 7, UnitID: 1, TargetGrade: 2},
	}
}

func TestRenderEmptyFeed(t *testing.T) {
	out, err := Render(nil, model.Subscriber{}, testOpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An empty feed must still be a parseable calendar with metadata.
	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("empty feed is not parseable: %v", err)
	}
	if n := len(cal.Events()); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}

	requiredFields := []string{
		"BEGIN:VCALENDAR",
		"PRODID:-//Taskcal//Taskcal//EN",
		"METHOD:PUBLISH",
		"X-PUBLISHED-TTL:P1D",
		"REFRESH-INTERVAL;VALUE=DURATION:P1D",
		"END:VCALENDAR",
	}
	for _, field := range requiredFields {
		if !strings.Contains(out, field) {
			t.Errorf("empty feed missing required field: %s", field)
		}
	}
}

func TestRenderStartAndEndEvents(t *testing.T) {
	sub := model.Subscriber{
		UserID:            7,
		IncludeStartDates: true,
		ReminderTime:      2,
		ReminderUnit:      model.ReminderHours,
	}

	out, err := Render([]Entry{assignmentEntry()}, sub, testOpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	requiredFields := []string{
		"UID:S-42",
		"UID:E-42",
		"SUMMARY:Start: COS10001: A1: Assignment 1",
		"SUMMARY:End: COS10001: A1: Assignment 1",
		"DTSTART;VALUE=DATE:20240301",
		"DTEND;VALUE=DATE:20240301",
		"DTSTART;VALUE=DATE:20240510",
		"DTEND;VALUE=DATE:20240510",
		"STATUS:CONFIRMED",
		"ACTION:DISPLAY",
		"TRIGGER:-PT2H",
		"DESCRIPTION:Start: COS10001: A1: Assignment 1",
		"DESCRIPTION:End: COS10001: A1: Assignment 1",
	}
	for _, field := range requiredFields {
		if !strings.Contains(out, field) {
			t.Errorf("output missing: %s", field)
		}
	}

	// Both events carry their own alarm.
	if n := strings.Count(out, "BEGIN:VALARM"); n != 2 {
		t.Errorf("expected 2 alarms, got %d", n)
	}
}

func TestRenderWithoutStartDates(t *testing.T) {
	sub := model.Subscriber{UserID: 7, IncludeStartDates: false}

	out, err := Render([]Entry{assignmentEntry()}, sub, testOpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(out, "UID:S-") {
		t.Error("start events must not appear when start dates are disabled")
	}
	// Without a start event there is nothing to disambiguate against, so
	// the end summary drops its prefix.
	if strings.Contains(out, "SUMMARY:End:") {
		t.Error("end summary should omit the End: prefix")
	}
	if !strings.Contains(out, "SUMMARY:COS10001: A1: Assignment 1") {
		t.Error("missing bare end summary")
	}
}

func TestRenderWithoutReminder(t *testing.T) {
	sub := model.Subscriber{UserID: 7, IncludeStartDates: true}

	out, err := Render([]Entry{assignmentEntry()}, sub, testOpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "BEGIN:VALARM") {
		t.Error("no alarms expected without a reminder preference")
	}
}

func TestRenderExtensionShiftsEndDate(t *testing.T) {
	e := assignmentEntry()
	e.Tasks = []model.Task{
		{ID: 1, TaskDefinitionID: 42, ProjectID: 100, Extensions: 2},
	}

	out, err := Render([]Entry{e}, model.Subscriber{UserID: 7}, testOpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 2024-05-10 + 2 weeks.
	if !strings.Contains(out, "DTSTART;VALUE=DATE:20240524") {
		t.Errorf("end event not shifted by extensions:\n%s", out)
	}
	if strings.Contains(out, "DTSTART;VALUE=DATE:20240510") {
		t.Error("unshifted end event still present")
	}
}

func TestRenderFirstTaskWins(t *testing.T) {
	e := assignmentEntry()
	e.Tasks = []model.Task{
		{ID: 1, TaskDefinitionID: 42, ProjectID: 100, Extensions: 1},
		{ID: 2, TaskDefinitionID: 42, ProjectID: 100, Extensions: 3},
	}

	out, err := Render([]Entry{e}, model.Subscriber{UserID: 7}, testOpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only the first task's extension count applies: 2024-05-10 + 1 week.
	if !strings.Contains(out, "DTSTART;VALUE=DATE:20240517") {
		t.Errorf("expected the first task's extension count to win:\n%s", out)
	}
}

func TestRenderMissingTargetDate(t *testing.T) {
	e := assignmentEntry()
	e.Definition.TargetDate = time.Time{}

	out, err := Render([]Entry{e}, model.Subscriber{UserID: 7}, testOpts)
	if !errors.Is(err, ErrMissingTargetDate) {
		t.Fatalf("expected ErrMissingTargetDate, got %v", err)
	}
	if out != "" {
		t.Error("no partial document expected on failure")
	}
}

func TestRenderIdempotent(t *testing.T) {
	sub := model.Subscriber{
		UserID:            7,
		IncludeStartDates: true,
		ReminderTime:      5,
		ReminderUnit:      model.ReminderDays,
	}
	entries := []Entry{assignmentEntry()}

	first, err := Render(entries, sub, testOpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Render(entries, sub, testOpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("repeated renders over unchanged inputs must be byte-identical")
	}
}

func TestReminderTrigger(t *testing.T) {
	tests := []struct {
		time int
		unit string
		want string
	}{
		{1, model.ReminderWeeks, "-P1W"},
		{5, model.ReminderDays, "-P5D"},
		{2, model.ReminderHours, "-PT2H"},
		{30, model.ReminderMinutes, "-PT30M"},
	}

	for _, tt := range tests {
		sub := model.Subscriber{ReminderTime: tt.time, ReminderUnit: tt.unit}
		if got := reminderTrigger(sub); got != tt.want {
			t.Errorf("reminderTrigger(%d%s) = %q, want %q", tt.time, tt.unit, got, tt.want)
		}
	}
}
