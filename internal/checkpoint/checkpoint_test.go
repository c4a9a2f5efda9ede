package checkpoint

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStartFinish(t *testing.T) {
	s := newTestStore(t)

	task, err := s.Start("chat", "telegram", "42", "100", "what is the weather")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if task.Status != StatusRunning {
		t.Errorf("status = %s, want running", task.Status)
	}
	if task.SessionKey != "telegram:42" {
		t.Errorf("session key = %s", task.SessionKey)
	}
	if len(task.Events) != 1 || task.Events[0].Event != "start" {
		t.Errorf("events = %v", task.Events)
	}

	s.AddEvent(task, "tool", "web_search")
	s.Finish(task, "sunny in Bandung", 3, nil)

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("got %d tasks", len(recent))
	}
	got := recent[0]
	if got.Status != StatusOK {
		t.Errorf("status = %s, want ok", got.Status)
	}
	if got.Metadata["iterations"] != "3" {
		t.Errorf("iterations = %q", got.Metadata["iterations"])
	}
	if got.OutputPreview != "sunny in Bandung" {
		t.Errorf("output preview = %q", got.OutputPreview)
	}
	var names []string
	for _, ev := range got.Events {
		names = append(names, ev.Event)
	}
	want := "start,tool,done"
	if strings.Join(names, ",") != want {
		t.Errorf("events = %v, want %s", names, want)
	}
}

func TestFinishWithError(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.Start("chat", "telegram", "42", "", "hi")
	s.Finish(task, "", 1, errors.New("provider unavailable"))

	recent, _ := s.Recent(1)
	if recent[0].Status != StatusError {
		t.Errorf("status = %s, want error", recent[0].Status)
	}
	if recent[0].Error != "provider unavailable" {
		t.Errorf("error = %q", recent[0].Error)
	}
}

func TestSingleRunningPerSession(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	first, err := s.Start("chat", "telegram", "42", "", "first")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A second run for the same session takes over the stale one.
	s.now = func() time.Time { return base.Add(time.Minute) }
	second, err := s.Start("chat", "telegram", "42", "", "second")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	running, err := s.Running()
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("got %d running tasks, want 1", len(running))
	}
	if running[0].TaskID != second.TaskID {
		t.Errorf("running task = %s, want %s", running[0].TaskID, second.TaskID)
	}

	all, _ := s.Recent(0)
	for _, task := range all {
		if task.TaskID != first.TaskID {
			continue
		}
		if task.Status != StatusResumed {
			t.Errorf("stale task status = %s, want resumed", task.Status)
		}
		if task.Metadata["resume_count"] != "1" {
			t.Errorf("resume_count = %q, want 1", task.Metadata["resume_count"])
		}
	}
}

func TestTakeoverLeavesOtherSessionsAlone(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	other, _ := s.Start("chat", "discord", "room", "", "unrelated")
	s.now = func() time.Time { return base.Add(time.Second) }
	s.Start("chat", "telegram", "42", "", "hi")

	running, _ := s.Running()
	ids := map[string]bool{}
	for _, task := range running {
		ids[task.TaskID] = true
	}
	if !ids[other.TaskID] {
		t.Error("unrelated running task was taken over")
	}
	if len(running) != 2 {
		t.Errorf("got %d running tasks, want 2", len(running))
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	var last *Task
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * time.Minute
		s.now = func() time.Time { return base.Add(offset) }
		task, _ := s.Start("chat", "telegram", string(rune('a'+i)), "", "msg")
		s.Finish(task, "done", 1, nil)
		last = task
	}

	recent, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d tasks, want 2", len(recent))
	}
	if recent[0].TaskID != last.TaskID {
		t.Errorf("newest task not first: %s", recent[0].TaskID)
	}
}

func TestPreviewTruncates(t *testing.T) {
	s := newTestStore(t)
	long := strings.Repeat("x", 500)
	task, _ := s.Start("chat", "telegram", "42", "", long)
	if len(task.InputPreview) != previewChars+len("...") {
		t.Errorf("preview length = %d", len(task.InputPreview))
	}
}
