package cron

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestProactiveStore(t *testing.T, now time.Time) *ProactiveStore {
	t.Helper()
	p := NewProactiveStore(filepath.Join(t.TempDir(), "proactive-state.json"))
	p.now = func() time.Time { return now }
	return p
}

func TestDueReminders(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	p := newTestProactiveStore(t, now)

	events := []CalendarEvent{
		{ID: "ev1", Summary: "standup", Start: now.Add(30 * time.Minute)},
		{ID: "ev2", Summary: "dentist", Start: now.Add(4 * time.Hour)},
	}

	// With leads of 30 and 10 minutes and a 5 minute window, only the
	// 30-minute lead of ev1 lands in [now, now+5m).
	due, err := p.DueReminders(events, []int{30, 10}, 5*time.Minute)
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d reminders, want 1: %+v", len(due), due)
	}
	if due[0].Event.ID != "ev1" || due[0].LeadMinutes != 30 {
		t.Errorf("reminder = %+v", due[0])
	}
}

func TestDueReminders_DedupAcrossTicks(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	p := newTestProactiveStore(t, now)

	events := []CalendarEvent{{ID: "ev1", Summary: "standup", Start: now.Add(20 * time.Minute)}}

	first, err := p.DueReminders(events, []int{30, 10}, 15*time.Minute)
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first tick: got %d reminders, want 1", len(first))
	}

	// Same tick inputs again: the key is recorded, nothing refires.
	second, err := p.DueReminders(events, []int{30, 10}, 15*time.Minute)
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second tick: got %d reminders, want 0", len(second))
	}
}

func TestDueReminders_PastLeadSkipped(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	p := newTestProactiveStore(t, now)

	// Event starts in 5 minutes; both lead times are already in the past.
	events := []CalendarEvent{{ID: "ev1", Summary: "standup", Start: now.Add(5 * time.Minute)}}
	due, err := p.DueReminders(events, []int{30, 10}, 5*time.Minute)
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("got %d reminders, want 0", len(due))
	}
}

func TestDueReminders_DefaultLeads(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	p := newTestProactiveStore(t, now)

	events := []CalendarEvent{{ID: "ev1", Summary: "standup", Start: now.Add(10 * time.Minute)}}
	due, err := p.DueReminders(events, nil, 5*time.Minute)
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(due) != 1 || due[0].LeadMinutes != 10 {
		t.Errorf("default leads: got %+v, want one 10-minute reminder", due)
	}
}

func TestDueReminders_PrunesOldEntries(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "proactive-state.json")

	old := now.Add(-30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	fresh := now.Add(-time.Hour).UTC().Format(time.RFC3339)
	seed := `{"calendar_reminders":{"stale:key:10":"` + old + `","fresh:key:10":"` + fresh + `"}}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewProactiveStore(path)
	p.now = func() time.Time { return now }

	if _, err := p.DueReminders(nil, nil, time.Minute); err != nil {
		t.Fatalf("DueReminders: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if strings.Contains(content, "stale:key:10") {
		t.Errorf("stale entry not pruned:\n%s", content)
	}
	if !strings.Contains(content, "fresh:key:10") {
		t.Errorf("fresh entry lost:\n%s", content)
	}
}
