// Package memory implements the persistent memory engine: a fact index
// with deduplication and supersession, user-editable Markdown surfaces
// (profile, relationships, projects, lessons, summaries), daily notes,
// and scored recall across all of them.
//
// All files live under one directory and are rewritten via temp file +
// atomic rename so concurrent readers never observe partial writes. A
// single process owns the directory; writes are serialized by the engine
// lock.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Well-known file names inside the memory directory.
const (
	FactsFile         = "FACTS.md"
	MemoryFile        = "MEMORY.md"
	ProfileFile       = "PROFILE.md"
	ProfileAliasFile  = "user_profile.md"
	LessonsFile       = "LESSONS.md"
	SummariesFile     = "SUMMARIES.md"
	RelationshipsFile = "RELATIONSHIPS.md"
	ProjectsFile      = "PROJECTS.md"
)

// Engine owns the memory directory. Safe for concurrent use.
type Engine struct {
	dir string
	mu  sync.Mutex

	// now is swappable in tests.
	now func() time.Time
}

// NewEngine creates the engine, ensuring the directory exists.
func NewEngine(dir string) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Engine{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Dir returns the memory directory path.
func (e *Engine) Dir() string { return e.dir }

func (e *Engine) path(name string) string { return filepath.Join(e.dir, name) }

// readFile returns the file contents, or "" when missing.
func (e *Engine) readFile(name string) string {
	data, err := os.ReadFile(e.path(name))
	if err != nil {
		return ""
	}
	return string(data)
}

// writeFileAtomic rewrites a memory file via temp file + rename.
func (e *Engine) writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(e.dir, ".mem-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, e.path(name)); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// appendFile appends a line block to a memory file, creating it on demand.
func (e *Engine) appendFile(name, block string) error {
	f, err := os.OpenFile(e.path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(block)
	return err
}

// AppendLesson records a lesson line with a timestamp.
func (e *Engine) AppendLesson(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := e.now().Format("2006-01-02 15:04")
	return e.appendFile(LessonsFile, fmt.Sprintf("- [%s] %s\n", ts, compactLine(text, 1200)))
}

// AppendSummary records a session summary block.
func (e *Engine) AppendSummary(sessionKey, summary string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := e.now().Format("2006-01-02 15:04")
	return e.appendFile(SummariesFile,
		fmt.Sprintf("\n## %s (%s)\n\n%s\n", ts, sessionKey, strings.TrimSpace(summary)))
}

// HasMemory reports whether the memory directory holds any content.
// The agent loop uses this for memory-truth enforcement.
func (e *Engine) HasMemory() bool {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// MemoryPaths lists the canonical file paths for user-facing responses.
func (e *Engine) MemoryPaths() []string {
	return []string{
		e.path(MemoryFile),
		e.path(FactsFile),
		e.path(ProfileFile),
		e.path(LessonsFile),
		e.path(SummariesFile),
	}
}

// compactLine flattens newlines and truncates to maxLen.
func compactLine(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
