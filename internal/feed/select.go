package feed

import (
	"sort"
	"time"

	"taskcal/internal/model"
)

// Entry is one task definition with its context preloaded by the data
// layer: the owning unit, the subscriber's project in that unit, and the
// subscriber's own tasks for the definition. Tasks must already be
// restricted to the same project and sorted by ascending task ID; the
// renderer takes the extension count from the first one.
type Entry struct {
	Definition model.TaskDefinition
	Unit       model.Unit
	Project    model.Project
	Tasks      []model.Task
}

// SelectTaskDefinitions returns the entries that should appear on the
// subscriber's feed at the given instant. now must be captured once per
// generation call so the window check is consistent across entries.
//
// An entry survives when all of the following hold:
//   - the project belongs to the subscriber's user
//   - the unit is active and not excluded by the subscriber
//   - now falls within the unit's [StartDate, EndDate], inclusive
//   - the definition's target grade does not exceed the project's target grade
//
// The result is sorted by task-definition ID so repeated generations over
// unchanged data produce byte-stable output.
func SelectTaskDefinitions(entries []Entry, sub model.Subscriber, now time.Time) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Project.UserID != sub.UserID {
			continue
		}
		if !e.Unit.Active {
			continue
		}
		if sub.ExcludesUnit(e.Unit.ID) {
			continue
		}
		if now.Before(e.Unit.StartDate) || now.After(e.Unit.EndDate) {
			continue
		}
		if e.Definition.TargetGrade > e.Project.TargetGrade {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition.ID < out[j].Definition.ID
	})
	return out
}
