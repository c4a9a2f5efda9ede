// Package metrics records runtime events as append-only JSONL and
// aggregates them into snapshots, Prometheus text, and alert summaries.
package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types.
const (
	EventLLMCall      = "llm_call"
	EventToolCall     = "tool_call"
	EventMemoryRecall = "memory_recall"
	EventCronRun      = "cron_run"
)

// Event is one metrics record. Fields beyond ts/type are populated per
// event type; zero values are omitted on the wire.
type Event struct {
	TS   string `json:"ts"`
	Type string `json:"type"`

	OK        bool    `json:"ok"`
	LatencyMS float64 `json:"latency_ms,omitempty"`

	// llm_call
	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`

	// tool_call
	Tool string `json:"tool,omitempty"`

	// memory_recall
	Query string `json:"query,omitempty"`
	Hits  int    `json:"hits,omitempty"`

	// cron_run
	JobID     string `json:"job_id,omitempty"`
	Proactive bool   `json:"proactive,omitempty"`

	Error string `json:"error,omitempty"`
}

// Store appends events to state/metrics/events.jsonl.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create metrics dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, "events.jsonl"), now: time.Now}, nil
}

// Record appends one event; the timestamp is set here.
func (s *Store) Record(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.TS = s.now().UTC().Format(time.RFC3339)
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// RecordLLM is a convenience wrapper for llm_call events.
func (s *Store) RecordLLM(provider, model string, latency time.Duration, inTokens, outTokens int, err error) {
	ev := Event{
		Type: EventLLMCall, Provider: provider, Model: model,
		LatencyMS: float64(latency.Milliseconds()),
		InputTokens: inTokens, OutputTokens: outTokens,
		OK: err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	_ = s.Record(ev)
}

// RecordTool is a convenience wrapper for tool_call events.
func (s *Store) RecordTool(tool string, latency time.Duration, err error) {
	ev := Event{Type: EventToolCall, Tool: tool, LatencyMS: float64(latency.Milliseconds()), OK: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	_ = s.Record(ev)
}

// RecordRecall is a convenience wrapper for memory_recall events.
func (s *Store) RecordRecall(query string, hits int, latency time.Duration) {
	_ = s.Record(Event{Type: EventMemoryRecall, Query: query, Hits: hits, LatencyMS: float64(latency.Milliseconds()), OK: true})
}

// RecordCron is a convenience wrapper for cron_run events.
func (s *Store) RecordCron(jobID string, proactive bool, err error) {
	ev := Event{Type: EventCronRun, JobID: jobID, Proactive: proactive, OK: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	_ = s.Record(ev)
}

// readSince loads events with ts >= cutoff. Unparseable lines are skipped.
func (s *Store) readSince(cutoff time.Time) ([]Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, ev.TS)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		out = append(out, ev)
	}
	return out, scanner.Err()
}
