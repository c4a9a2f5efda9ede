package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/gema-dev/gema/internal/memory"
)

func newTestRememberTool(t *testing.T) (*RememberTool, *memory.Engine) {
	t.Helper()
	eng, err := memory.NewEngine(t.TempDir())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewRememberTool(eng), eng
}

func TestRememberToolExecute(t *testing.T) {
	t.Run("typed fact uses the type default confidence", func(t *testing.T) {
		tool, eng := newTestRememberTool(t)
		res := tool.Execute(context.Background(), map[string]interface{}{
			"text": "my favorite editor is vim",
			"type": "preference",
		})
		if res.IsError {
			t.Fatalf("execute failed: %s", res.ForLLM)
		}
		facts, err := eng.ActiveFacts()
		if err != nil || len(facts) != 1 {
			t.Fatalf("facts = %v, err = %v", facts, err)
		}
		if facts[0].Type != "preference" || facts[0].Confidence != 0.90 {
			t.Errorf("fact = type %q confidence %v", facts[0].Type, facts[0].Confidence)
		}
		if facts[0].Source != "chat" {
			t.Errorf("source = %q, want chat", facts[0].Source)
		}
	})

	t.Run("untyped fact falls back to general", func(t *testing.T) {
		tool, eng := newTestRememberTool(t)
		res := tool.Execute(context.Background(), map[string]interface{}{
			"text": "the office door code changed",
		})
		if res.IsError {
			t.Fatalf("execute failed: %s", res.ForLLM)
		}
		facts, err := eng.ActiveFacts()
		if err != nil || len(facts) != 1 {
			t.Fatalf("facts = %v, err = %v", facts, err)
		}
		if facts[0].Confidence != 0.75 {
			t.Errorf("confidence = %v, want default 0.75", facts[0].Confidence)
		}
	})

	t.Run("duplicate reported", func(t *testing.T) {
		tool, _ := newTestRememberTool(t)
		args := map[string]interface{}{"text": "my timezone is UTC", "type": "identity"}
		tool.Execute(context.Background(), args)
		res := tool.Execute(context.Background(), args)
		if res.IsError || !strings.Contains(res.ForLLM, "already known") {
			t.Errorf("duplicate result = %+v", res)
		}
	})

	t.Run("empty text rejected", func(t *testing.T) {
		tool, _ := newTestRememberTool(t)
		res := tool.Execute(context.Background(), map[string]interface{}{"text": "  "})
		if !res.IsError {
			t.Error("empty text accepted")
		}
	})
}
