package cron

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestJobStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		sc      Schedule
		wantErr bool
	}{
		{"every valid", Schedule{Kind: ScheduleEvery, EveryMS: 60000}, false},
		{"every zero interval", Schedule{Kind: ScheduleEvery}, true},
		{"cron valid", Schedule{Kind: ScheduleCron, CronExpr: "0 8 * * *"}, false},
		{"cron invalid", Schedule{Kind: ScheduleCron, CronExpr: "not a cron"}, true},
		{"at valid", Schedule{Kind: ScheduleAt, At: "2026-09-01T08:00:00Z"}, false},
		{"at invalid", Schedule{Kind: ScheduleAt, At: "tomorrow"}, true},
		{"unknown kind", Schedule{Kind: "hourly"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSchedule(tt.sc)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSchedule(%+v) error = %v, wantErr %v", tt.sc, err, tt.wantErr)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)

	t.Run("every", func(t *testing.T) {
		next, err := nextRun(Schedule{Kind: ScheduleEvery, EveryMS: 15 * 60 * 1000}, now)
		if err != nil {
			t.Fatal(err)
		}
		if want := now.Add(15 * time.Minute); !next.Equal(want) {
			t.Errorf("next = %v, want %v", next, want)
		}
	})

	t.Run("cron", func(t *testing.T) {
		next, err := nextRun(Schedule{Kind: ScheduleCron, CronExpr: "0 10 * * *"}, now)
		if err != nil {
			t.Fatal(err)
		}
		if next.Hour() != 10 || next.Minute() != 0 {
			t.Errorf("next = %v, want 10:00", next)
		}
		if !next.After(now) {
			t.Errorf("next %v not after now %v", next, now)
		}
	})

	t.Run("at", func(t *testing.T) {
		next, err := nextRun(Schedule{Kind: ScheduleAt, At: "2026-09-01T08:00:00Z"}, now)
		if err != nil {
			t.Fatal(err)
		}
		if next.Format(time.RFC3339) != "2026-09-01T08:00:00Z" {
			t.Errorf("next = %v", next)
		}
	})
}

func TestStoreAddListRemove(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newTestJobStore(t, now)

	job, err := s.Add(&Job{
		Name:     "morning-brief",
		Schedule: Schedule{Kind: ScheduleCron, CronExpr: "0 8 * * *"},
		Payload:  Payload{Kind: KindDirectMessage, Message: "brief me"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.ID == "" || !job.Enabled || job.NextRunAt == "" {
		t.Errorf("job not initialized: %+v", job)
	}

	if _, err := s.Add(&Job{Name: "", Schedule: Schedule{Kind: ScheduleEvery, EveryMS: 1000}}); err == nil {
		t.Error("empty name accepted")
	}

	jobs := s.List()
	if len(jobs) != 1 || jobs[0].Name != "morning-brief" {
		t.Errorf("List = %+v", jobs)
	}

	if err := s.Remove("morning-brief"); err != nil {
		t.Fatalf("Remove by name: %v", err)
	}
	if len(s.List()) != 0 {
		t.Error("job not removed")
	}
	if err := s.Remove("ghost"); err == nil {
		t.Error("removing unknown job succeeded")
	}
}

func TestStoreAddReplacesSameName(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newTestJobStore(t, now)

	s.Add(&Job{Name: "reminder", Schedule: Schedule{Kind: ScheduleEvery, EveryMS: 60000},
		Payload: Payload{Kind: KindDirectMessage, Message: "old"}})
	s.Add(&Job{Name: "reminder", Schedule: Schedule{Kind: ScheduleEvery, EveryMS: 120000},
		Payload: Payload{Kind: KindDirectMessage, Message: "new"}})

	jobs := s.List()
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Payload.Message != "new" {
		t.Errorf("payload = %q, want the replacement", jobs[0].Payload.Message)
	}
}

func TestStoreSetEnabled(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newTestJobStore(t, now)
	job, _ := s.Add(&Job{Name: "j", Schedule: Schedule{Kind: ScheduleEvery, EveryMS: 60000}})

	if err := s.SetEnabled(job.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if s.List()[0].Enabled {
		t.Error("job still enabled")
	}
	if err := s.SetEnabled("nope", true); err == nil {
		t.Error("unknown job accepted")
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "jobs.json")

	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return now }
	s.Add(&Job{Name: "persisted", Schedule: Schedule{Kind: ScheduleEvery, EveryMS: 60000}})

	s2, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	jobs := s2.List()
	if len(jobs) != 1 || jobs[0].Name != "persisted" {
		t.Errorf("reloaded jobs = %+v", jobs)
	}
}

func TestDueAndMarkRun(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newTestJobStore(t, now)

	job, _ := s.Add(&Job{Name: "tick", Schedule: Schedule{Kind: ScheduleEvery, EveryMS: 60000}})

	if got := s.due(now); len(got) != 0 {
		t.Errorf("job due immediately after add: %+v", got)
	}

	later := now.Add(2 * time.Minute)
	got := s.due(later)
	if len(got) != 1 || got[0].ID != job.ID {
		t.Fatalf("due = %+v", got)
	}

	if err := s.markRun(job, later, nil); err != nil {
		t.Fatalf("markRun: %v", err)
	}
	if job.FailureCount != 0 || job.LastRunAt == "" {
		t.Errorf("job after run = %+v", job)
	}
	if len(s.due(later)) != 0 {
		t.Error("job still due after markRun")
	}
}

func TestMarkRunDisablesOneShot(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newTestJobStore(t, now)

	job, _ := s.Add(&Job{Name: "once", Schedule: Schedule{Kind: ScheduleAt, At: now.Add(time.Minute).Format(time.RFC3339)}})
	if err := s.markRun(job, now.Add(time.Minute), nil); err != nil {
		t.Fatalf("markRun: %v", err)
	}
	if job.Enabled {
		t.Error("one-shot job still enabled after firing")
	}
	if job.NextRunAt != "" {
		t.Errorf("one-shot next run = %q", job.NextRunAt)
	}
}

func TestMarkRunTracksFailures(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s := newTestJobStore(t, now)

	job, _ := s.Add(&Job{Name: "flaky", Schedule: Schedule{Kind: ScheduleEvery, EveryMS: 60000}})
	s.markRun(job, now, errTest)
	s.markRun(job, now.Add(time.Minute), errTest)
	if job.FailureCount != 2 {
		t.Errorf("failure count = %d, want 2", job.FailureCount)
	}
	s.markRun(job, now.Add(2*time.Minute), nil)
	if job.FailureCount != 0 {
		t.Errorf("failure count not reset: %d", job.FailureCount)
	}
}

var errTest = errors.New("test failure")
