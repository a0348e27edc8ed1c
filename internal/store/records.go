package store

import (
	"fmt"
	"sort"
	"time"

	"taskcal/internal/model"
)

// datasetFile is the on-disk JSON shape. Dates are "2006-01-02" strings in
// the store's configured timezone; an empty target_date means the
// definition has none on record.
type datasetFile struct {
	Subscribers     []subscriberRecord     `json:"subscribers"`
	Units           []unitRecord           `json:"units"`
	Projects        []projectRecord        `json:"projects"`
	TaskDefinitions []taskDefinitionRecord `json:"task_definitions"`
	Tasks           []taskRecord           `json:"tasks"`
}

type subscriberRecord struct {
	ID                int64   `json:"id"`
	UserID            int64   `json:"user_id"`
	GUID              string  `json:"guid"`
	Enabled           bool    `json:"enabled"`
	IncludeStartDates bool    `json:"include_start_dates"`
	ReminderTime      int     `json:"reminder_time,omitempty"`
	ReminderUnit      string  `json:"reminder_unit,omitempty"`
	UnitExclusions    []int64 `json:"unit_exclusions,omitempty"`
}

type unitRecord struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Active    bool   `json:"active"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type projectRecord struct {
	ID          int64 `json:"id"`
	UserID      int64 `json:"user_id"`
	UnitID      int64 `json:"unit_id"`
	TargetGrade int   `json:"target_grade"`
}

type taskDefinitionRecord struct {
	ID           int64  `json:"id"`
	UnitID       int64  `json:"unit_id"`
	Abbreviation string `json:"abbreviation"`
	Name         string `json:"name"`
	TargetGrade  int    `json:"target_grade"`
	StartDate    string `json:"start_date,omitempty"`
	TargetDate   string `json:"target_date,omitempty"`
}

type taskRecord struct {
	ID               int64 `json:"id"`
	TaskDefinitionID int64 `json:"task_definition_id"`
	ProjectID        int64 `json:"project_id"`
	Extensions       int   `json:"extensions"`
}

// build converts file records into the indexed in-memory dataset.
func (df *datasetFile) build(loc *time.Location) (*dataset, error) {
	data := &dataset{
		subscribers:    make(map[string]*model.Subscriber, len(df.Subscribers)),
		units:          make(map[int64]model.Unit, len(df.Units)),
		projectsByUser: make(map[int64][]model.Project),
		defsByUnit:     make(map[int64][]model.TaskDefinition),
		tasksByDef:     make(map[int64][]model.Task),
	}

	for _, r := range df.Subscribers {
		if r.GUID == "" {
			return nil, fmt.Errorf("subscriber %d has no guid", r.ID)
		}
		data.subscribers[r.GUID] = &model.Subscriber{
			ID:                r.ID,
			UserID:            r.UserID,
			GUID:              r.GUID,
			Enabled:           r.Enabled,
			IncludeStartDates: r.IncludeStartDates,
			ReminderTime:      r.ReminderTime,
			ReminderUnit:      r.ReminderUnit,
			UnitExclusions:    append([]int64(nil), r.UnitExclusions...),
		}
	}

	for _, r := range df.Units {
		start, err := parseDate(r.StartDate, loc)
		if err != nil {
			return nil, fmt.Errorf("unit %d start_date: %w", r.ID, err)
		}
		end, err := parseDate(r.EndDate, loc)
		if err != nil {
			return nil, fmt.Errorf("unit %d end_date: %w", r.ID, err)
		}
		// Window end is inclusive of the whole end date.
		end = end.AddDate(0, 0, 1).Add(-time.Second)
		data.units[r.ID] = model.Unit{
			ID:        r.ID,
			Code:      r.Code,
			Active:    r.Active,
			StartDate: start,
			EndDate:   end,
		}
	}

	for _, r := range df.Projects {
		data.projectsByUser[r.UserID] = append(data.projectsByUser[r.UserID], model.Project{
			ID:          r.ID,
			UserID:      r.UserID,
			UnitID:      r.UnitID,
			TargetGrade: r.TargetGrade,
		})
	}

	for _, r := range df.TaskDefinitions {
		start, err := parseOptionalDate(r.StartDate, loc)
		if err != nil {
			return nil, fmt.Errorf("task definition %d start_date: %w", r.ID, err)
		}
		target, err := parseOptionalDate(r.TargetDate, loc)
		if err != nil {
			return nil, fmt.Errorf("task definition %d target_date: %w", r.ID, err)
		}
		data.defsByUnit[r.UnitID] = append(data.defsByUnit[r.UnitID], model.TaskDefinition{
			ID:           r.ID,
			UnitID:       r.UnitID,
			Abbreviation: r.Abbreviation,
			Name:         r.Name,
			TargetGrade:  r.TargetGrade,
			StartDate:    start,
			TargetDate:   target,
		})
	}

	for _, r := range df.Tasks {
		data.tasksByDef[r.TaskDefinitionID] = append(data.tasksByDef[r.TaskDefinitionID], model.Task{
			ID:               r.ID,
			TaskDefinitionID: r.TaskDefinitionID,
			ProjectID:        r.ProjectID,
			Extensions:       r.Extensions,
		})
	}

	// Deterministic iteration: definitions by ID within a unit, tasks by ID
	// within a definition ("first task wins" for extensions).
	for unitID := range data.defsByUnit {
		defs := data.defsByUnit[unitID]
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	}
	for defID := range data.tasksByDef {
		tasks := data.tasksByDef[defID]
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	}
	for userID := range data.projectsByUser {
		projects := data.projectsByUser[userID]
		sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	}

	return data, nil
}

// fileRecords converts the in-memory dataset back into on-disk records,
// sorted by ID so persisted files diff cleanly.
func (d *dataset) fileRecords() datasetFile {
	var df datasetFile

	for _, sub := range d.subscribers {
		df.Subscribers = append(df.Subscribers, subscriberRecord{
			ID:                sub.ID,
			UserID:            sub.UserID,
			GUID:              sub.GUID,
			Enabled:           sub.Enabled,
			IncludeStartDates: sub.IncludeStartDates,
			ReminderTime:      sub.ReminderTime,
			ReminderUnit:      sub.ReminderUnit,
			UnitExclusions:    append([]int64(nil), sub.UnitExclusions...),
		})
	}
	sort.Slice(df.Subscribers, func(i, j int) bool { return df.Subscribers[i].ID < df.Subscribers[j].ID })

	for _, u := range d.units {
		df.Units = append(df.Units, unitRecord{
			ID:        u.ID,
			Code:      u.Code,
			Active:    u.Active,
			StartDate: u.StartDate.Format(dateLayout),
			EndDate:   u.EndDate.Format(dateLayout),
		})
	}
	sort.Slice(df.Units, func(i, j int) bool { return df.Units[i].ID < df.Units[j].ID })

	for _, projects := range d.projectsByUser {
		for _, p := range projects {
			df.Projects = append(df.Projects, projectRecord{
				ID:          p.ID,
				UserID:      p.UserID,
				UnitID:      p.UnitID,
				TargetGrade: p.TargetGrade,
			})
		}
	}
	sort.Slice(df.Projects, func(i, j int) bool { return df.Projects[i].ID < df.Projects[j].ID })

	for _, defs := range d.defsByUnit {
		for _, def := range defs {
			df.TaskDefinitions = append(df.TaskDefinitions, taskDefinitionRecord{
				ID:           def.ID,
				UnitID:       def.UnitID,
				Abbreviation: def.Abbreviation,
				Name:         def.Name,
				TargetGrade:  def.TargetGrade,
				StartDate:    formatOptionalDate(def.StartDate),
				TargetDate:   formatOptionalDate(def.TargetDate),
			})
		}
	}
	sort.Slice(df.TaskDefinitions, func(i, j int) bool { return df.TaskDefinitions[i].ID < df.TaskDefinitions[j].ID })

	for _, tasks := range d.tasksByDef {
		for _, t := range tasks {
			df.Tasks = append(df.Tasks, taskRecord{
				ID:               t.ID,
				TaskDefinitionID: t.TaskDefinitionID,
				ProjectID:        t.ProjectID,
				Extensions:       t.Extensions,
			})
		}
	}
	sort.Slice(df.Tasks, func(i, j int) bool { return df.Tasks[i].ID < df.Tasks[j].ID })

	return df
}

func parseDate(v string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, v, loc)
}

func parseOptionalDate(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, v, loc)
}

func formatOptionalDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
