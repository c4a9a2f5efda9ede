// Package checkpoint records agent run lifecycle on disk so that crashes
// and restarts are visible, and so a new run for a session can take over
// from a stale one.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
	StatusResumed = "resumed"
)

// Event is one timestamped lifecycle entry on a task.
type Event struct {
	At     string `json:"at"`
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// Task is the persisted record of one agent run.
type Task struct {
	TaskID        string            `json:"task_id"`
	Kind          string            `json:"kind"`
	SessionKey    string            `json:"session_key"`
	Channel       string            `json:"channel"`
	ChatID        string            `json:"chat_id"`
	SenderID      string            `json:"sender_id,omitempty"`
	Status        string            `json:"status"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
	FinishedAt    string            `json:"finished_at,omitempty"`
	InputPreview  string            `json:"input_preview,omitempty"`
	OutputPreview string            `json:"output_preview,omitempty"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Events        []Event           `json:"events,omitempty"`
}

// Store persists tasks as one JSON file each under the checkpoint dir.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

const previewChars = 200

// Start opens a new running task. Any prior running task for the same
// session is marked resumed first so at most one task per session is
// ever in the running state.
func (s *Store) Start(kind, channel, chatID, senderID, input string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sessionKey := channel + ":" + chatID

	if err := s.takeOverLocked(sessionKey, now); err != nil {
		slog.Warn("checkpoint takeover failed", "session", sessionKey, "error", err)
	}

	t := &Task{
		TaskID:       now.Format("20060102150405") + "-" + uuid.NewString()[:8],
		Kind:         kind,
		SessionKey:   sessionKey,
		Channel:      channel,
		ChatID:       chatID,
		SenderID:     senderID,
		Status:       StatusRunning,
		CreatedAt:    now.Format(time.RFC3339),
		UpdatedAt:    now.Format(time.RFC3339),
		InputPreview: preview(input),
		Metadata:     map[string]string{},
		Events:       []Event{{At: now.Format(time.RFC3339), Event: "start"}},
	}
	if err := s.writeLocked(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddEvent appends a lifecycle event and persists the task.
func (s *Store) AddEvent(t *Task, event, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Format(time.RFC3339)
	t.Events = append(t.Events, Event{At: now, Event: event, Detail: preview(detail)})
	t.UpdatedAt = now
	if err := s.writeLocked(t); err != nil {
		slog.Warn("checkpoint write failed", "task", t.TaskID, "error", err)
	}
}

// Finish closes a task with ok or error status.
func (s *Store) Finish(t *Task, output string, iterations int, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Format(time.RFC3339)
	t.UpdatedAt = now
	t.FinishedAt = now
	t.OutputPreview = preview(output)
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	t.Metadata["iterations"] = fmt.Sprintf("%d", iterations)
	if runErr != nil {
		t.Status = StatusError
		t.Error = runErr.Error()
		t.Events = append(t.Events, Event{At: now, Event: "error", Detail: preview(runErr.Error())})
	} else {
		t.Status = StatusOK
		t.Events = append(t.Events, Event{At: now, Event: "done"})
	}
	if err := s.writeLocked(t); err != nil {
		slog.Warn("checkpoint write failed", "task", t.TaskID, "error", err)
	}
}

// Recent returns the newest tasks, most recent first.
func (s *Store) Recent(limit int) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.loadAllLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID > tasks[j].TaskID })
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// Running returns all tasks currently in the running state.
func (s *Store) Running() ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.loadAllLocked()
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range tasks {
		if t.Status == StatusRunning {
			out = append(out, t)
		}
	}
	return out, nil
}

// takeOverLocked demotes any running task for the session to resumed and
// bumps its resume_count.
func (s *Store) takeOverLocked(sessionKey string, now time.Time) error {
	tasks, err := s.loadAllLocked()
	if err != nil {
		return err
	}
	ts := now.Format(time.RFC3339)
	for _, t := range tasks {
		if t.SessionKey != sessionKey || t.Status != StatusRunning {
			continue
		}
		t.Status = StatusResumed
		t.UpdatedAt = ts
		t.FinishedAt = ts
		if t.Metadata == nil {
			t.Metadata = map[string]string{}
		}
		n := 0
		fmt.Sscanf(t.Metadata["resume_count"], "%d", &n)
		t.Metadata["resume_count"] = fmt.Sprintf("%d", n+1)
		t.Events = append(t.Events, Event{At: ts, Event: "resume", Detail: "taken over by a newer run"})
		if err := s.writeLocked(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadAllLocked() ([]*Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			slog.Warn("skipping unreadable checkpoint", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

func (s *Store) writeLocked(t *Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, t.TaskID+".json")

	tmp, err := os.CreateTemp(s.dir, "task-*.tmp")
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
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= previewChars {
		return s
	}
	return s[:previewChars] + "..."
}
