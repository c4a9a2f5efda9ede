// Package cron schedules recurring and one-shot jobs that feed the agent
// proactively, plus calendar reminders with per-reminder dedup state.
package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// Schedule kinds.
const (
	ScheduleEvery = "every"
	ScheduleCron  = "cron"
	ScheduleAt    = "at"
)

// Payload kinds.
const (
	KindDirectMessage = "direct_message"
	KindSystemEvent   = "system_event"
	KindDigest        = "digest"
)

// Schedule is a tagged variant: every fixed interval, a cron expression,
// or a single absolute time.
type Schedule struct {
	Kind     string `json:"kind"`
	EveryMS  int64  `json:"everyMs,omitempty"`
	CronExpr string `json:"cronExpr,omitempty"`
	At       string `json:"at,omitempty"` // RFC3339
}

// Payload describes what the job injects when it fires.
type Payload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is one persisted cron entry.
type Job struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Schedule     Schedule `json:"schedule"`
	Payload      Payload  `json:"payload"`
	Deliver      bool     `json:"deliver"` // true: send to channel; false: self-ingest
	Channel      string   `json:"channel,omitempty"`
	ChatID       string   `json:"chatId,omitempty"`
	Enabled      bool     `json:"enabled"`
	LastRunAt    string   `json:"lastRunAt,omitempty"`
	NextRunAt    string   `json:"nextRunAt,omitempty"`
	FailureCount int      `json:"failureCount,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty"`
}

type jobsFile struct {
	Jobs []*Job `json:"jobs"`
}

// Store persists jobs in jobs.json, whole-file rewrite on every change.
type Store struct {
	path string
	mu   sync.Mutex
	jobs []*Job
	now  func() time.Time
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read jobs file: %w", err)
	}
	var f jobsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse jobs file: %w", err)
	}
	s.jobs = f.Jobs
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(jobsFile{Jobs: s.jobs}, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "jobs-*.tmp")
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
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Add validates, assigns an id, computes the first next_run_at, and
// persists the job. Job names are unique; adding with an existing name
// replaces that job.
func (s *Store) Add(job *Job) (*Job, error) {
	if strings.TrimSpace(job.Name) == "" {
		return nil, fmt.Errorf("job name required")
	}
	if err := validateSchedule(job.Schedule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job.ID = "job_" + uuid.NewString()[:8]
	job.CreatedAt = now.Format(time.RFC3339)
	job.Enabled = true
	next, err := nextRun(job.Schedule, now)
	if err != nil {
		return nil, err
	}
	job.NextRunAt = next.Format(time.RFC3339)

	for i, existing := range s.jobs {
		if existing.Name == job.Name {
			s.jobs[i] = job
			return job, s.saveLocked()
		}
	}
	s.jobs = append(s.jobs, job)
	return job, s.saveLocked()
}

// Remove deletes a job by id or name.
func (s *Store) Remove(idOrName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID == idOrName || job.Name == idOrName {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("job not found: %s", idOrName)
}

// SetEnabled toggles a job by id or name.
func (s *Store) SetEnabled(idOrName string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == idOrName || job.Name == idOrName {
			job.Enabled = enabled
			return s.saveLocked()
		}
	}
	return fmt.Errorf("job not found: %s", idOrName)
}

// List returns jobs sorted by name.
func (s *Store) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, len(s.jobs))
	copy(out, s.jobs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// due returns enabled jobs whose next_run_at has passed.
func (s *Store) due(now time.Time) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRunAt == "" {
			continue
		}
		next, err := time.Parse(time.RFC3339, job.NextRunAt)
		if err != nil {
			continue
		}
		if !next.After(now) {
			out = append(out, job)
		}
	}
	return out
}

// markRun records a run outcome and advances next_run_at. One-shot jobs
// are disabled after firing.
func (s *Store) markRun(job *Job, at time.Time, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.LastRunAt = at.Format(time.RFC3339)
	if runErr != nil {
		job.FailureCount++
	} else {
		job.FailureCount = 0
	}

	if job.Schedule.Kind == ScheduleAt {
		job.Enabled = false
		job.NextRunAt = ""
	} else {
		next, err := nextRun(job.Schedule, at)
		if err != nil {
			job.Enabled = false
		} else {
			job.NextRunAt = next.Format(time.RFC3339)
		}
	}
	return s.saveLocked()
}

func validateSchedule(sc Schedule) error {
	switch sc.Kind {
	case ScheduleEvery:
		if sc.EveryMS <= 0 {
			return fmt.Errorf("every schedule needs a positive interval")
		}
	case ScheduleCron:
		if !gronx.New().IsValid(sc.CronExpr) {
			return fmt.Errorf("invalid cron expression: %q", sc.CronExpr)
		}
	case ScheduleAt:
		if _, err := time.Parse(time.RFC3339, sc.At); err != nil {
			return fmt.Errorf("invalid at timestamp: %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %q", sc.Kind)
	}
	return nil
}

// nextRun computes the next fire time strictly after now.
func nextRun(sc Schedule, now time.Time) (time.Time, error) {
	switch sc.Kind {
	case ScheduleEvery:
		return now.Add(time.Duration(sc.EveryMS) * time.Millisecond), nil
	case ScheduleCron:
		return gronx.NextTickAfter(sc.CronExpr, now, false)
	case ScheduleAt:
		return time.Parse(time.RFC3339, sc.At)
	}
	return time.Time{}, fmt.Errorf("unknown schedule kind: %q", sc.Kind)
}
