package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestUpsertProfileField_Idempotent(t *testing.T) {
	e := newTestEngine(t)

	if err := e.UpsertProfileField("Basics", "timezone", "Asia/Jakarta"); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := e.UpsertProfileField("Basics", "timezone", "Europe/Berlin"); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	content := e.readFile(ProfileFile)
	if got := strings.Count(content, "- timezone:"); got != 1 {
		t.Errorf("found %d timezone lines, want 1:\n%s", got, content)
	}
	if !strings.Contains(content, "- timezone: Europe/Berlin") {
		t.Errorf("value not updated:\n%s", content)
	}

	fields := e.ProfileFields()
	if fields["Basics"]["timezone"] != "Europe/Berlin" {
		t.Errorf("ProfileFields = %v", fields)
	}
}

func TestUpsertProfileField_MultipleSections(t *testing.T) {
	e := newTestEngine(t)

	e.UpsertProfileField("Basics", "name", "Sari")
	e.UpsertProfileField("Work", "role", "backend engineer")
	e.UpsertProfileField("Basics", "city", "Bandung")

	fields := e.ProfileFields()
	if fields["Basics"]["name"] != "Sari" || fields["Basics"]["city"] != "Bandung" {
		t.Errorf("Basics section = %v", fields["Basics"])
	}
	if fields["Work"]["role"] != "backend engineer" {
		t.Errorf("Work section = %v", fields["Work"])
	}
}

func TestUpsertProfileField_KeepsProse(t *testing.T) {
	e := newTestEngine(t)

	doc := "# Profile\n\nFree-form notes about the user.\n\n## Basics\n\n- name: Sari\n\nMore prose after the bullet.\n"
	if err := os.WriteFile(filepath.Join(e.Dir(), ProfileFile), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := e.UpsertProfileField("Basics", "name", "Sari Dewi"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	content := e.readFile(ProfileFile)
	if !strings.Contains(content, "Free-form notes about the user.") {
		t.Errorf("prose before section lost:\n%s", content)
	}
	if !strings.Contains(content, "- name: Sari Dewi") {
		t.Errorf("value not replaced:\n%s", content)
	}
}

func TestUpsertProfileField_Validation(t *testing.T) {
	e := newTestEngine(t)
	if err := e.UpsertProfileField("", "key", "v"); err == nil {
		t.Error("empty section accepted")
	}
	if err := e.UpsertProfileField("Basics", "  ", "v"); err == nil {
		t.Error("empty key accepted")
	}
}

func TestUpsertProfileField_AliasInSync(t *testing.T) {
	e := newTestEngine(t)
	if err := e.UpsertProfileField("Basics", "name", "Sari"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	alias := filepath.Join(e.Dir(), ProfileAliasFile)
	data, err := os.ReadFile(alias)
	if err != nil {
		t.Fatalf("alias unreadable: %v", err)
	}
	if !strings.Contains(string(data), "- name: Sari") {
		t.Errorf("alias content stale:\n%s", data)
	}
}

func TestAppendDaily_GroupsByMinute(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2026, 5, 2, 14, 30, 10, 0, time.UTC)
	e.now = func() time.Time { return base }

	e.AppendDaily("telegram", "user", "first message")
	e.AppendDaily("telegram", "assistant", "first reply")

	e.now = func() time.Time { return base.Add(2 * time.Minute) }
	e.AppendDaily("telegram", "user", "later message")

	content := e.readFile("2026-05-02.md")
	if got := strings.Count(content, "## 14:30"); got != 1 {
		t.Errorf("found %d 14:30 headers, want 1:\n%s", got, content)
	}
	if got := strings.Count(content, "## 14:32"); got != 1 {
		t.Errorf("found %d 14:32 headers, want 1:\n%s", got, content)
	}
	if !strings.HasPrefix(content, "# 2026-05-02\n") {
		t.Errorf("missing date title:\n%s", content)
	}
	if !strings.Contains(content, "- [telegram] assistant: first reply") {
		t.Errorf("entry missing:\n%s", content)
	}
}

func TestBuildContext(t *testing.T) {
	e := newTestEngine(t)
	e.UpsertProfileField("Basics", "name", "Sari")
	e.RememberFact("User runs every Sunday morning", "general", "", 0)
	e.AppendLesson("Short confirmations work better than long explanations")

	ctx := e.BuildContext(8000)
	for _, want := range []string{
		"## User Profile",
		"- name: Sari",
		"## Known Facts",
		"User runs every Sunday morning",
		"## Lessons",
		"Short confirmations work better",
	} {
		if !strings.Contains(ctx, want) {
			t.Errorf("context missing %q:\n%s", want, ctx)
		}
	}
}

func TestBuildContext_Truncates(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 50; i++ {
		e.RememberFact(strings.Repeat("x", 80)+" fact number "+strings.Repeat("y", i+1), "general", "", 0)
	}

	ctx := e.BuildContext(500)
	if len(ctx) > 500+len("\n[memory context truncated]") {
		t.Errorf("context length %d exceeds budget", len(ctx))
	}
	if !strings.Contains(ctx, "[memory context truncated]") {
		t.Error("truncation marker missing")
	}
}
