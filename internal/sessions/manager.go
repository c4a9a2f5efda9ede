// Package sessions persists conversation history as line-delimited JSON,
// one file per session under sessions/{channel}_{chat_id}.jsonl. The agent
// loop is the only writer for a given session; the manager serializes
// concurrent access anyway.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gema-dev/gema/internal/providers"
)

// Key builds the canonical session key.
func Key(channel, chatID string) string {
	return channel + ":" + chatID
}

// SplitKey reverses Key. The chat id may itself contain colons.
func SplitKey(key string) (channel, chatID string) {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}

// Session holds one conversation's history plus a metadata map.
type Session struct {
	Key      string
	Messages []providers.Message
	Metadata map[string]string // e.g. "last_summary_turn"
	Updated  time.Time
}

// metaRecord is the on-disk metadata line, distinguished from message
// lines by its "meta" key.
type metaRecord struct {
	Meta map[string]string `json:"meta"`
}

// Manager handles session lifecycle and persistence.
type Manager struct {
	dir      string
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Manager{dir: dir, sessions: make(map[string]*Session)}, nil
}

// GetOrCreate loads a session from disk on first access.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}

	s := m.loadLocked(key)
	if s == nil {
		s = &Session{Key: key, Metadata: map[string]string{}, Updated: time.Now()}
	}
	m.sessions[key] = s
	return s
}

// History returns a copy of the message list.
func (m *Manager) History(key string) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	out := make([]providers.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Append adds messages to the session's history.
func (m *Manager) Append(key string, msgs ...providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{Key: key, Metadata: map[string]string{}}
		m.sessions[key] = s
	}
	s.Messages = append(s.Messages, msgs...)
	s.Updated = time.Now()
}

// GetMeta reads a metadata value.
func (m *Manager) GetMeta(key, name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.Metadata[name]
	}
	return ""
}

// SetMeta writes a metadata value.
func (m *Manager) SetMeta(key, name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{Key: key, Metadata: map[string]string{}}
		m.sessions[key] = s
	}
	s.Metadata[name] = value
	s.Updated = time.Now()
}

// AssistantTurns counts assistant messages in a session.
func (m *Manager) AssistantTurns(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return 0
	}
	n := 0
	for _, msg := range s.Messages {
		if msg.Role == "assistant" {
			n++
		}
	}
	return n
}

// Save persists a session as JSONL via temp file + atomic rename. The
// first line carries the metadata map; the rest are message records.
func (m *Manager) Save(key string) error {
	m.mu.RLock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	var sb strings.Builder
	metaLine, err := json.Marshal(metaRecord{Meta: s.Metadata})
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	sb.Write(metaLine)
	sb.WriteByte('\n')
	for _, msg := range s.Messages {
		line, err := json.Marshal(msg)
		if err != nil {
			m.mu.RUnlock()
			return err
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	m.mu.RUnlock()

	path := m.filePath(key)
	tmp, err := os.CreateTemp(m.dir, "session-*.tmp")
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

	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// Reset clears a session's history and metadata.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Messages = nil
		s.Metadata = map[string]string{}
		s.Updated = time.Now()
	}
}

// loadLocked reads a session file; nil when absent or unreadable.
func (m *Manager) loadLocked(key string) *Session {
	f, err := os.Open(m.filePath(key))
	if err != nil {
		return nil
	}
	defer f.Close()

	s := &Session{Key: key, Metadata: map[string]string{}, Updated: time.Now()}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var meta metaRecord
		if err := json.Unmarshal([]byte(line), &meta); err == nil && meta.Meta != nil {
			s.Metadata = meta.Meta
			continue
		}

		var msg providers.Message
		if err := json.Unmarshal([]byte(line), &msg); err == nil && msg.Role != "" {
			s.Messages = append(s.Messages, msg)
		}
	}
	return s
}

func (m *Manager) filePath(key string) string {
	channel, chatID := SplitKey(key)
	name := sanitizeFilename(channel) + "_" + sanitizeFilename(chatID) + ".jsonl"
	return filepath.Join(m.dir, name)
}

func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
