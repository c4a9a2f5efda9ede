package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestSnapshotAggregation(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	s.RecordLLM("openai", "gpt-4o", 1200*time.Millisecond, 100, 40, nil)
	s.RecordLLM("openai", "gpt-4o", 800*time.Millisecond, 80, 30, nil)
	s.RecordLLM("openai", "gpt-4o", 2000*time.Millisecond, 0, 0, errors.New("timeout"))
	s.RecordTool("web_search", 400*time.Millisecond, nil)
	s.RecordTool("web_search", 300*time.Millisecond, nil)
	s.RecordTool("exec", 100*time.Millisecond, errors.New("denied"))
	s.RecordRecall("coffee", 2, 5*time.Millisecond)
	s.RecordRecall("unknown topic", 0, 4*time.Millisecond)
	s.RecordCron("job_abc", false, nil)
	s.RecordCron("calendar_watch", true, nil)

	snap, err := s.Snapshot(24)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	llm := snap.Categories[EventLLMCall]
	if llm.Count != 3 || llm.Success != 2 || llm.Failure != 1 {
		t.Errorf("llm stats = %+v", llm)
	}
	if llm.P95MS != 2000 {
		t.Errorf("llm p95 = %v, want 2000", llm.P95MS)
	}

	if snap.TokensIn != 180 || snap.TokensOut != 70 {
		t.Errorf("tokens = %d/%d, want 180/70", snap.TokensIn, snap.TokensOut)
	}
	if snap.RecallHitRate != 0.5 {
		t.Errorf("recall hit rate = %v, want 0.5", snap.RecallHitRate)
	}
	if snap.CronRuns != 2 || snap.CronProactive != 1 {
		t.Errorf("cron runs = %d proactive = %d", snap.CronRuns, snap.CronProactive)
	}

	if len(snap.TopTools) != 2 || snap.TopTools[0].Tool != "web_search" || snap.TopTools[0].Count != 2 {
		t.Errorf("top tools = %+v", snap.TopTools)
	}
}

func TestSnapshotWindowExcludesOldEvents(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	s.now = func() time.Time { return now.Add(-48 * time.Hour) }
	s.RecordTool("old_tool", time.Millisecond, nil)

	s.now = func() time.Time { return now }
	s.RecordTool("new_tool", time.Millisecond, nil)

	snap, err := s.Snapshot(24)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := snap.Categories[EventToolCall].Count; got != 1 {
		t.Errorf("tool count = %d, want 1", got)
	}
	if len(snap.TopTools) != 1 || snap.TopTools[0].Tool != "new_tool" {
		t.Errorf("top tools = %+v", snap.TopTools)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.95, 0},
		{"single", []float64{7}, 0.95, 7},
		{"p95 of 20", seq(1, 20), 0.95, 19},
		{"p50 of 4", []float64{10, 20, 30, 40}, 0.5, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.values, tt.p); got != tt.want {
				t.Errorf("percentile(%v, %v) = %v, want %v", tt.values, tt.p, got, tt.want)
			}
		})
	}
}

func seq(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, float64(i))
	}
	return out
}

func TestPrometheusOutput(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)
	s.RecordTool(`odd"tool`+"\n", 10*time.Millisecond, nil)
	s.RecordLLM("openai", "gpt-4o", time.Second, 10, 5, nil)

	snap, err := s.Snapshot(24)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	text := snap.Prometheus()

	for _, want := range []string{
		"g_agent_llm_count 1",
		"g_agent_tool_count 1",
		"g_agent_llm_tokens_in 10",
		"g_agent_recall_hit_rate 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	// Label values are escaped per the text exposition format.
	if !strings.Contains(text, `tool="odd\"tool\n"`) {
		t.Errorf("label not escaped:\n%s", text)
	}
	if strings.Contains(text, "\n\n") {
		t.Errorf("blank lines in output:\n%s", text)
	}
}

func TestAlerts(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	t.Run("all ok", func(t *testing.T) {
		s := newTestStore(t, now)
		for i := 0; i < 10; i++ {
			s.RecordLLM("openai", "gpt-4o", time.Second, 1, 1, nil)
		}
		snap, _ := s.Snapshot(24)
		sum := snap.Alerts(DefaultThresholds())
		if sum.Overall != "ok" {
			t.Errorf("overall = %s, want ok", sum.Overall)
		}
	})

	t.Run("low success rate warns", func(t *testing.T) {
		s := newTestStore(t, now)
		s.RecordLLM("openai", "gpt-4o", time.Second, 1, 1, nil)
		s.RecordLLM("openai", "gpt-4o", time.Second, 0, 0, errors.New("boom"))
		snap, _ := s.Snapshot(24)
		sum := snap.Alerts(DefaultThresholds())
		if sum.Overall != "warn" {
			t.Errorf("overall = %s, want warn", sum.Overall)
		}
		var found bool
		for _, c := range sum.Checks {
			if c.Name == "llm_call_success_rate" && c.Status == "warn" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected llm_call_success_rate warn in %+v", sum.Checks)
		}
	})

	t.Run("no events is na", func(t *testing.T) {
		s := newTestStore(t, now)
		snap, _ := s.Snapshot(24)
		sum := snap.Alerts(DefaultThresholds())
		if sum.Overall != "na" {
			t.Errorf("overall = %s, want na", sum.Overall)
		}
	})

	t.Run("slow p95 warns", func(t *testing.T) {
		s := newTestStore(t, now)
		s.RecordTool("browser", 120*time.Second, nil)
		snap, _ := s.Snapshot(24)
		sum := snap.Alerts(DefaultThresholds())
		var found bool
		for _, c := range sum.Checks {
			if c.Name == "tool_call_p95_ms" && c.Status == "warn" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected tool_call_p95_ms warn in %+v", sum.Checks)
		}
	})
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	s.now = func() time.Time { return now.Add(-100 * time.Hour) }
	s.RecordTool("ancient", time.Millisecond, nil)
	s.now = func() time.Time { return now }
	for i := 0; i < 5; i++ {
		s.RecordTool("recent", time.Millisecond, nil)
	}

	t.Run("dry run leaves file untouched", func(t *testing.T) {
		res, err := s.Prune(48, 0, true)
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if res.Total != 6 || res.Kept != 5 || res.Removed != 1 || !res.DryRun {
			t.Errorf("result = %+v", res)
		}
		events, _ := s.readSince(time.Time{})
		if len(events) != 6 {
			t.Errorf("dry run modified the file: %d events", len(events))
		}
	})

	t.Run("retention prune", func(t *testing.T) {
		res, err := s.Prune(48, 0, false)
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if res.Removed != 1 {
			t.Errorf("result = %+v", res)
		}
		events, _ := s.readSince(time.Time{})
		if len(events) != 5 {
			t.Errorf("got %d events after prune, want 5", len(events))
		}
	})

	t.Run("cap prune", func(t *testing.T) {
		res, err := s.Prune(0, 2, false)
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if res.Kept != 2 {
			t.Errorf("result = %+v", res)
		}
		events, _ := s.readSince(time.Time{})
		if len(events) != 2 {
			t.Errorf("got %d events after cap prune, want 2", len(events))
		}
	})
}
