package sessions

import (
	"testing"

	"github.com/gema-dev/gema/internal/providers"
)

func TestKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		chatID  string
	}{
		{"plain", "telegram", "12345"},
		{"chat id with colons", "system", "telegram:12345"},
		{"cli", "cli", "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := Key(tt.channel, tt.chatID)
			ch, id := SplitKey(key)
			if ch != tt.channel || id != tt.chatID {
				t.Errorf("SplitKey(%q) = (%q, %q), want (%q, %q)", key, ch, id, tt.channel, tt.chatID)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	key := Key("telegram", "42")
	m.GetOrCreate(key)
	m.Append(key,
		providers.Message{Role: "user", Content: "hello"},
		providers.Message{Role: "assistant", Content: "hi there"},
	)
	m.SetMeta(key, "last_summary_turn", "1")
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Fresh manager forces a disk load.
	m2, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s := m2.GetOrCreate(key)
	if len(s.Messages) != 2 {
		t.Fatalf("reloaded %d messages, want 2", len(s.Messages))
	}
	if s.Messages[0].Role != "user" || s.Messages[0].Content != "hello" {
		t.Errorf("first message = %+v", s.Messages[0])
	}
	if got := m2.GetMeta(key, "last_summary_turn"); got != "1" {
		t.Errorf("meta = %q, want 1", got)
	}
}

func TestSaveAndReload_ToolCalls(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(dir)

	key := Key("discord", "room")
	m.GetOrCreate(key)
	m.Append(key,
		providers.Message{Role: "assistant", ToolCalls: []providers.ToolCall{{
			ID: "call_1", Name: "web_search", Arguments: map[string]interface{}{"query": "weather"},
		}}},
		providers.Message{Role: "tool", Content: "sunny", ToolCallID: "call_1", Name: "web_search"},
	)
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m2, _ := NewManager(dir)
	s := m2.GetOrCreate(key)
	if len(s.Messages) != 2 {
		t.Fatalf("reloaded %d messages, want 2", len(s.Messages))
	}
	if len(s.Messages[0].ToolCalls) != 1 || s.Messages[0].ToolCalls[0].Name != "web_search" {
		t.Errorf("tool calls not preserved: %+v", s.Messages[0])
	}
	if s.Messages[1].ToolCallID != "call_1" {
		t.Errorf("tool call id lost: %+v", s.Messages[1])
	}
}

func TestAssistantTurns(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	key := Key("cli", "local")
	m.GetOrCreate(key)

	if got := m.AssistantTurns(key); got != 0 {
		t.Errorf("empty session turns = %d", got)
	}
	m.Append(key,
		providers.Message{Role: "user", Content: "a"},
		providers.Message{Role: "assistant", Content: "b"},
		providers.Message{Role: "tool", Content: "c"},
		providers.Message{Role: "assistant", Content: "d"},
	)
	if got := m.AssistantTurns(key); got != 2 {
		t.Errorf("turns = %d, want 2", got)
	}
}

func TestReset(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	key := Key("slack", "C1")
	m.GetOrCreate(key)
	m.Append(key, providers.Message{Role: "user", Content: "hello"})
	m.SetMeta(key, "x", "y")

	m.Reset(key)
	if got := m.History(key); len(got) != 0 {
		t.Errorf("history after reset: %v", got)
	}
	if got := m.GetMeta(key, "x"); got != "" {
		t.Errorf("meta after reset: %q", got)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	key := Key("telegram", "1")
	m.GetOrCreate(key)
	m.Append(key, providers.Message{Role: "user", Content: "original"})

	h := m.History(key)
	h[0].Content = "mutated"
	if got := m.History(key)[0].Content; got != "original" {
		t.Errorf("history mutated through copy: %q", got)
	}
}

func TestFilePathSanitized(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	// Path separators and colons must not escape the sessions dir.
	key := Key("system", "telegram:../../etc/passwd")
	m.GetOrCreate(key)
	m.Append(key, providers.Message{Role: "user", Content: "x"})
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m2, _ := NewManager(m.dir)
	if s := m2.GetOrCreate(key); len(s.Messages) != 1 {
		t.Errorf("sanitized session did not round-trip: %d messages", len(s.Messages))
	}
}
