package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gema-dev/gema/internal/bus"
	"github.com/gema-dev/gema/internal/config"
	"github.com/gema-dev/gema/internal/memory"
	"github.com/gema-dev/gema/internal/metrics"
	"github.com/gema-dev/gema/internal/providers"
	"github.com/gema-dev/gema/internal/sessions"
	"github.com/gema-dev/gema/internal/tools"
)

// scriptedProvider returns the same response for every call.
type scriptedProvider struct {
	resp *providers.ChatResponse
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return p.resp, nil
}
func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "test" }

func TestIterateLimitYieldsFallbackReply(t *testing.T) {
	dir := t.TempDir()
	eng, err := memory.NewEngine(filepath.Join(dir, "memory"))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	sess, err := sessions.NewManager(filepath.Join(dir, "sessions"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mets, err := metrics.NewStore(filepath.Join(dir, "metrics"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// A model that asks for a tool on every turn never reaches a final
	// answer within the iteration budget.
	l := NewLoop(Config{
		Provider: &scriptedProvider{resp: &providers.ChatResponse{
			ToolCalls: []providers.ToolCall{{ID: "c1", Name: "noop"}},
		}},
		Defaults: config.AgentDefaults{Model: "test-model", MaxToolIterations: 2},
		ToolsCfg: &config.ToolsConfig{},
		Sessions: sess,
		Memory:   eng,
		Registry: tools.NewRegistry(),
		Policy:   tools.NewPolicyEngine(&config.ToolsConfig{}),
		Metrics:  mets,
	})

	key := "telegram:42"
	msg := bus.InboundMessage{Channel: "telegram", ChatID: "42", SenderID: "42"}
	reply, iterations, toolsUsed, err := l.iterate(context.Background(), key, msg, "telegram", "do the thing", tools.Approval{}, nil)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if iterations != 2 {
		t.Errorf("iterations = %d, want 2", iterations)
	}
	if len(toolsUsed) != 2 {
		t.Errorf("toolsUsed = %v", toolsUsed)
	}
	if !strings.Contains(reply, "tool-call limit") {
		t.Errorf("no fallback reply on exhausted iterations: %q", reply)
	}

	hist := sess.History(key)
	if len(hist) == 0 {
		t.Fatal("no session history recorded")
	}
	last := hist[len(hist)-1]
	if last.Role != "assistant" || last.Content != reply {
		t.Errorf("last turn = %s %q, want the fallback reply", last.Role, last.Content)
	}
}
