package model

import "time"

// Reminder offset units accepted in subscriber preferences. These map
// directly onto RFC 5545 duration designators.
const (
	ReminderWeeks   = "W"
	ReminderDays    = "D"
	ReminderHours   = "H"
	ReminderMinutes = "M"
)

// ValidReminderUnit reports whether u is one of the accepted offset units.
func ValidReminderUnit(u string) bool {
	switch u {
	case ReminderWeeks, ReminderDays, ReminderHours, ReminderMinutes:
		return true
	}
	return false
}

// Unit is a course offering with an enrollment window. Task definitions
// belong to a unit and are only visible on a feed while the unit is active
// and the current time falls inside [StartDate, EndDate].
type Unit struct {
	ID        int64
	Code      string
	Active    bool
	StartDate time.Time
	EndDate   time.Time
}

// Project is one user's enrollment in a unit. TargetGrade caps which task
// definitions of the unit appear on that user's feed.
type Project struct {
	ID          int64
	UserID      int64
	UnitID      int64
	TargetGrade int
}

// TaskDefinition is the schedule template for a gradable task within a unit.
// A zero TargetDate means the definition has no target date on record.
type TaskDefinition struct {
	ID           int64
	UnitID       int64
	Abbreviation string
	Name         string
	TargetGrade  int
	StartDate    time.Time
	TargetDate   time.Time
}

// Task is a single attempt at a task definition under a specific project.
// Extensions counts granted one-week extensions to the effective due date.
type Task struct {
	ID               int64
	TaskDefinitionID int64
	ProjectID        int64
	Extensions       int
}

// Subscriber is a webcal feed owner. GUID is the opaque access token
// embedded in the feed URL. ReminderTime and ReminderUnit are all-or-nothing:
// a zero time with an empty unit means no reminder is configured.
type Subscriber struct {
	ID                int64
	UserID            int64
	GUID              string
	Enabled           bool
	IncludeStartDates bool
	ReminderTime      int
	ReminderUnit      string
	UnitExclusions    []int64
}

// HasReminder reports whether a complete reminder preference is configured.
func (s Subscriber) HasReminder() bool {
	return s.ReminderTime > 0 && ValidReminderUnit(s.ReminderUnit)
}

// ExcludesUnit reports whether the subscriber opted out of the given unit.
func (s Subscriber) ExcludesUnit(unitID int64) bool {
	for _, id := range s.UnitExclusions {
		if id == unitID {
			return true
		}
	}
	return false
}
