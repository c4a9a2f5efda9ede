package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"stopwords dropped", "what is the weather in Bandung", []string{"weather", "bandung"}},
		{"single chars dropped", "a b c golang", []string{"golang"}},
		{"punctuation split", "coffee, tea & water!", []string{"coffee", "tea", "water"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRecall_RanksProfileAboveDaily(t *testing.T) {
	e := newTestEngine(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	profile := "## Basics\n\n- favorite coffee: flat white\n"
	if err := os.WriteFile(filepath.Join(e.Dir(), ProfileFile), []byte(profile), 0o644); err != nil {
		t.Fatal(err)
	}
	daily := "# 2026-04-10\n\n## 08:00\n- [telegram] user: ordered a flat white coffee this morning\n"
	if err := os.WriteFile(filepath.Join(e.Dir(), now.Format("2006-01-02")+".md"), []byte(daily), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := e.Recall("coffee", RecallOptions{})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(items) < 2 {
		t.Fatalf("got %d items, want at least 2", len(items))
	}
	if items[0].Source != SourceProfile {
		t.Errorf("top hit source = %s, want %s", items[0].Source, SourceProfile)
	}
}

func TestRecall_NoQueryTerms(t *testing.T) {
	e := newTestEngine(t)
	items, err := e.Recall("is the a", RecallOptions{})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if items != nil {
		t.Errorf("stopword-only query returned %v, want nil", items)
	}
}

func TestRecall_DeduplicatesByNormalizedText(t *testing.T) {
	e := newTestEngine(t)

	e.RememberFact("User trains for a marathon", "project", "", 0)
	lessons := "- User trains for a MARATHON\n"
	if err := os.WriteFile(filepath.Join(e.Dir(), LessonsFile), []byte(lessons), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := e.Recall("marathon training", RecallOptions{})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("got %d items, want 1 after dedup: %+v", len(items), items)
	}
}

func TestRecall_ScopesLimitSurfaces(t *testing.T) {
	e := newTestEngine(t)

	e.RememberFact("User plays badminton on Tuesdays", "general", "", 0)
	lessons := "- badminton reminders should go out Monday evening\n"
	if err := os.WriteFile(filepath.Join(e.Dir(), LessonsFile), []byte(lessons), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := e.Recall("badminton", RecallOptions{Scopes: []string{SourceLessons}})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	for _, item := range items {
		if item.Source != SourceLessons {
			t.Errorf("scoped recall returned source %s", item.Source)
		}
	}
	if len(items) != 1 {
		t.Errorf("got %d lesson hits, want 1", len(items))
	}
}

func TestRecall_MaxItems(t *testing.T) {
	e := newTestEngine(t)
	for _, text := range []string{
		"badminton racket needs restringing",
		"badminton court is booked Tuesdays",
		"badminton partner is Dito",
		"badminton shoes were bought in March",
	} {
		e.RememberFact(text, "general", "", 0)
	}

	items, err := e.Recall("badminton", RecallOptions{MaxItems: 2})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestRecall_ExplainBreakdown(t *testing.T) {
	e := newTestEngine(t)
	e.RememberFact("User works at a fintech startup", "identity", "", 0)

	items, err := e.Recall("fintech", RecallOptions{Explain: true})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items", len(items))
	}
	b := items[0].Breakdown
	if b == nil {
		t.Fatal("breakdown missing with Explain set")
	}
	sum := b.Overlap + b.OverlapRatio + b.Jaccard + b.Confidence + b.Recency + b.SourceBonus
	if diff := sum - items[0].Score; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("breakdown sum %v != score %v", sum, items[0].Score)
	}
}
