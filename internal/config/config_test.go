package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("GEMA_HOME", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.Defaults.MaxToolIterations != 20 {
		t.Errorf("max iterations = %d", cfg.Agents.Defaults.MaxToolIterations)
	}
	if !cfg.Tools.RestrictToWorkspace {
		t.Error("restrictToWorkspace default lost")
	}
	if cfg.Agents.Defaults.Workspace == "" {
		t.Error("workspace not derived from data dir")
	}
	if got := cfg.Proactive.CalendarWatchLeadMinutes; len(got) != 2 || got[0] != 30 {
		t.Errorf("lead minutes = %v", got)
	}
}

func TestLoadJSON5Tolerant(t *testing.T) {
	t.Setenv("GEMA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.json")

	// Comments and trailing commas are accepted.
	doc := `{
  // personal setup
  "agents": {
    "defaults": {
      "model": "claude-sonnet-4-5",
      "maxTokens": 4096,
    },
  },
  "channels": {
    "telegram": {"enabled": true, "token": "tg-token", "allowFrom": [12345, "alice"]},
  },
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.Defaults.MaxTokens != 4096 {
		t.Errorf("maxTokens = %d", cfg.Agents.Defaults.MaxTokens)
	}
	allow := cfg.Channels.Telegram.AllowFrom
	if len(allow) != 2 || allow[0] != "12345" || allow[1] != "alice" {
		t.Errorf("allowFrom = %v, want numeric ids coerced to strings", allow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GEMA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{"channels": {"telegram": {"token": "from-file"}}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GEMA_TELEGRAM_TOKEN", "from-env")
	t.Setenv("GEMA_OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMA_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channels.Telegram.Token != "from-env" {
		t.Errorf("token = %q, env must win over file", cfg.Channels.Telegram.Token)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram not auto-enabled by env credential")
	}
	if cfg.Providers["openai"].APIKey != "sk-test" {
		t.Errorf("providers = %v", cfg.Providers)
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestDataDir(t *testing.T) {
	home, _ := os.UserHomeDir()

	t.Setenv("GEMA_HOME", "")
	if got := DataDir(); got != filepath.Join(home, ".gema") {
		t.Errorf("default data dir = %q", got)
	}

	t.Setenv("GEMA_HOME", "/tmp/gema-alt")
	if got := DataDir(); got != "/tmp/gema-alt" {
		t.Errorf("absolute override = %q", got)
	}

	t.Setenv("GEMA_HOME", "gema-rel")
	if got := DataDir(); got != filepath.Join(home, "gema-rel") {
		t.Errorf("relative override = %q", got)
	}
}

func TestMaskedCopy(t *testing.T) {
	t.Setenv("GEMA_HOME", t.TempDir())
	cfg := Default()
	cfg.Channels.Telegram.Token = "tg-secret"
	cfg.Integrations.SMTP.Password = "smtp-secret"
	cfg.Integrations.SMTP.Host = "mail.example.com"
	cfg.Providers = map[string]ProviderConfig{"openai": {APIKey: "sk-live"}}

	masked := cfg.MaskedCopy()
	if masked.Channels.Telegram.Token != "***" {
		t.Errorf("telegram token = %q", masked.Channels.Telegram.Token)
	}
	if masked.Integrations.SMTP.Password != "***" {
		t.Errorf("smtp password = %q", masked.Integrations.SMTP.Password)
	}
	if masked.Providers["openai"].APIKey != "***" {
		t.Errorf("provider key = %q", masked.Providers["openai"].APIKey)
	}
	// Non-secret fields survive unmasked; the original is untouched.
	if masked.Integrations.SMTP.Host != "mail.example.com" {
		t.Errorf("host = %q", masked.Integrations.SMTP.Host)
	}
	if cfg.Channels.Telegram.Token != "tg-secret" {
		t.Error("MaskedCopy mutated the original")
	}

	data, err := json.Marshal(masked)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"tg-secret", "smtp-secret", "sk-live"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("masked JSON leaks %q", secret)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in   string
		want string
	}{
		{"~/notes", home + "/notes"},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	var f FlexibleStringSlice
	if err := json.Unmarshal([]byte(`[123, "abc", 45.0]`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"123", "abc", "45"}
	if len(f) != len(want) {
		t.Fatalf("got %v", f)
	}
	for i := range want {
		if f[i] != want[i] {
			t.Errorf("f[%d] = %q, want %q", i, f[i], want[i])
		}
	}
}

func TestReplaceFrom(t *testing.T) {
	t.Setenv("GEMA_HOME", t.TempDir())
	cfg := Default()
	next := Default()
	next.Agents.Defaults.Model = "gpt-4o"
	next.Gateway.Port = 9999

	cfg.ReplaceFrom(next)
	if cfg.Agents.Defaults.Model != "gpt-4o" || cfg.Gateway.Port != 9999 {
		t.Errorf("config not replaced: %+v", cfg.Agents.Defaults)
	}
}
