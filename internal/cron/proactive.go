package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// CalendarEvent is an upcoming event eligible for reminders.
type CalendarEvent struct {
	ID      string
	Summary string
	Start   time.Time
}

// Reminder is one due notification.
type Reminder struct {
	Key         string
	Event       CalendarEvent
	LeadMinutes int
}

// proactiveState is the persisted dedup map.
type proactiveState struct {
	CalendarReminders map[string]string `json:"calendar_reminders"`
}

const reminderRetention = 21 * 24 * time.Hour

// ProactiveStore deduplicates calendar reminders across scheduler ticks
// via proactive-state.json.
type ProactiveStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewProactiveStore(path string) *ProactiveStore {
	return &ProactiveStore{path: path, now: time.Now}
}

// DueReminders computes reminders whose (start - lead) falls within
// [now, now+window), skipping keys already recorded. Fired keys are
// persisted; records older than 21 days are pruned in the same write.
func (p *ProactiveStore) DueReminders(events []CalendarEvent, leadMinutes []int, window time.Duration) ([]Reminder, error) {
	if len(leadMinutes) == 0 {
		leadMinutes = []int{30, 10}
	}
	if window <= 0 {
		window = time.Minute
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := p.loadLocked()
	if err != nil {
		return nil, err
	}

	now := p.now()
	var due []Reminder
	for _, ev := range events {
		for _, lead := range leadMinutes {
			fireAt := ev.Start.Add(-time.Duration(lead) * time.Minute)
			if fireAt.Before(now) || !fireAt.Before(now.Add(window)) {
				continue
			}
			key := fmt.Sprintf("%s:%s:%d", ev.ID, ev.Start.UTC().Format(time.RFC3339), lead)
			if _, fired := state.CalendarReminders[key]; fired {
				continue
			}
			due = append(due, Reminder{Key: key, Event: ev, LeadMinutes: lead})
			state.CalendarReminders[key] = now.UTC().Format(time.RFC3339)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Key < due[j].Key })

	p.pruneLocked(state, now)
	if err := p.saveLocked(state); err != nil {
		return nil, err
	}
	return due, nil
}

func (p *ProactiveStore) loadLocked() (*proactiveState, error) {
	state := &proactiveState{CalendarReminders: map[string]string{}}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse proactive state: %w", err)
	}
	if state.CalendarReminders == nil {
		state.CalendarReminders = map[string]string{}
	}
	return state, nil
}

func (p *ProactiveStore) pruneLocked(state *proactiveState, now time.Time) {
	cutoff := now.Add(-reminderRetention)
	for key, notifiedAt := range state.CalendarReminders {
		ts, err := time.Parse(time.RFC3339, notifiedAt)
		if err != nil || ts.Before(cutoff) {
			delete(state.CalendarReminders, key)
		}
	}
}

func (p *ProactiveStore) saveLocked(state *proactiveState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "proactive-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	tmp.Close()
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
