package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"taskcal/internal/feed"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

var (
	// ErrUnknownSubscriber is returned for lookups/updates with a token
	// that matches no subscriber.
	ErrUnknownSubscriber = errors.New("unknown subscriber")

	// ErrInvalidReminder is returned when a preference update supplies an
	// incomplete or malformed reminder (time and unit are all-or-nothing).
	ErrInvalidReminder = errors.New("reminder time and unit must be supplied together")
)

const dateLayout = "2006-01-02"

// Store is a JSON-file-backed view of the externally owned dataset. Reads
// dominate: feed generation only ever reads; the few writers (preference
// updates, token rotation) persist the whole dataset atomically.
type Store struct {
	path string
	loc  *time.Location

	mu   sync.RWMutex
	data *dataset
}

type dataset struct {
	subscribers    map[string]*model.Subscriber // keyed by GUID
	units          map[int64]model.Unit
	projectsByUser map[int64][]model.Project
	defsByUnit     map[int64][]model.TaskDefinition
	tasksByDef     map[int64][]model.Task
}

// Open loads the dataset file at path, interpreting dates in loc.
func Open(path string, loc *time.Location) (*Store, error) {
	if path == "" {
		return nil, errors.New("dataset path is empty")
	}
	if loc == nil {
		loc = time.Local
	}
	s := &Store{path: path, loc: loc}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the dataset file, replacing the in-memory view. Safe to
// call concurrently with readers.
func (s *Store) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var df datasetFile
	if err := json.Unmarshal(raw, &df); err != nil {
		return fmt.Errorf("parse dataset %s: %w", s.path, err)
	}

	data, err := df.build(s.loc)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()

	appLog.Info("dataset loaded",
		"path", s.path,
		"subscribers", len(data.subscribers),
		"units", len(data.units),
	)
	return nil
}

// SubscriberByToken looks up a subscriber by its feed access token.
func (s *Store) SubscriberByToken(guid string) (model.Subscriber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.data.subscribers[guid]
	if !ok {
		return model.Subscriber{}, false
	}
	return *sub, true
}

// EntriesFor assembles the preloaded feed entries for a subscriber: every
// task definition of every unit the subscriber's user is enrolled in, with
// the subscriber's own tasks attached. Tasks from other projects are
// dropped here so cross-project contamination never reaches the renderer;
// surviving tasks stay sorted by ascending task ID.
func (s *Store) EntriesFor(sub model.Subscriber) []feed.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]feed.Entry, 0)
	for _, project := range s.data.projectsByUser[sub.UserID] {
		unit, ok := s.data.units[project.UnitID]
		if !ok {
			continue
		}
		for _, def := range s.data.defsByUnit[unit.ID] {
			var tasks []model.Task
			for _, t := range s.data.tasksByDef[def.ID] {
				if t.ProjectID == project.ID {
					tasks = append(tasks, t)
				}
			}
			entries = append(entries, feed.Entry{
				Definition: def,
				Unit:       unit,
				Project:    project,
				Tasks:      tasks,
			})
		}
	}
	return entries
}

// Preferences is a partial preference update; nil fields are left unchanged.
// ReminderTime and ReminderUnit must be supplied together: a positive time
// with a valid unit sets the reminder, zero time with an empty unit clears
// it, anything else is rejected with ErrInvalidReminder.
type Preferences struct {
	Enabled           *bool
	IncludeStartDates *bool
	ReminderTime      *int
	ReminderUnit      *string
	UnitExclusions    *[]int64
}

// UpdatePreferences applies a preference update for the subscriber with the
// given token and persists the dataset. Returns the updated subscriber.
func (s *Store) UpdatePreferences(guid string, p Preferences) (model.Subscriber, error) {
	if err := validateReminder(p.ReminderTime, p.ReminderUnit); err != nil {
		return model.Subscriber{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.data.subscribers[guid]
	if !ok {
		return model.Subscriber{}, ErrUnknownSubscriber
	}

	if p.Enabled != nil {
		sub.Enabled = *p.Enabled
	}
	if p.IncludeStartDates != nil {
		sub.IncludeStartDates = *p.IncludeStartDates
	}
	if p.ReminderTime != nil {
		sub.ReminderTime = *p.ReminderTime
		sub.ReminderUnit = *p.ReminderUnit
	}
	if p.UnitExclusions != nil {
		sub.UnitExclusions = append([]int64(nil), (*p.UnitExclusions)...)
	}

	if err := s.persistLocked(); err != nil {
		return model.Subscriber{}, err
	}
	return *sub, nil
}

// RotateToken replaces the subscriber's access token with a fresh random
// one, invalidating the old feed URL. Returns the new token.
func (s *Store) RotateToken(guid string) (string, error) {
	newGUID, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.data.subscribers[guid]
	if !ok {
		return "", ErrUnknownSubscriber
	}

	delete(s.data.subscribers, guid)
	sub.GUID = newGUID
	s.data.subscribers[newGUID] = sub

	if err := s.persistLocked(); err != nil {
		return "", err
	}

	appLog.Info("feed token rotated", "subscriber_id", sub.ID)
	return newGUID, nil
}

func validateReminder(t *int, u *string) error {
	if (t == nil) != (u == nil) {
		return ErrInvalidReminder
	}
	if t == nil {
		return nil
	}
	// Clearing: zero time with empty unit.
	if *t == 0 && *u == "" {
		return nil
	}
	if *t <= 0 || !model.ValidReminderUnit(*u) {
		return ErrInvalidReminder
	}
	return nil
}

// newToken returns 32 hex chars of cryptographic randomness.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// persistLocked writes the dataset back to disk atomically (temp file in
// the same directory, then rename). Caller must hold the write lock.
func (s *Store) persistLocked() error {
	df := s.data.fileRecords()

	raw, err := json.MarshalIndent(&df, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".taskcal-dataset-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
