package tools

import (
	"testing"

	"github.com/gema-dev/gema/internal/config"
)

func TestResolvePrecedence(t *testing.T) {
	cfg := &config.ToolsConfig{
		Policy: map[string]string{
			"telegram:100:exec": "allow",
			"telegram:*:exec":   "ask",
			"telegram:browser":  "deny",
			"exec":              "deny",
			"*":                 "allow",
		},
	}
	pe := NewPolicyEngine(cfg)

	tests := []struct {
		name     string
		channel  string
		senderID string
		tool     string
		want     string
	}{
		{"exact sender rule wins", "telegram", "100", "exec", DecisionAllow},
		{"wildcard sender rule", "telegram", "200", "exec", DecisionAsk},
		{"channel tool rule", "telegram", "100", "browser", DecisionDeny},
		{"bare tool rule", "discord", "100", "exec", DecisionDeny},
		{"catch-all", "discord", "100", "web_search", DecisionAllow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pe.Resolve(tt.channel, tt.senderID, tt.tool)
			if got != tt.want {
				t.Errorf("Resolve(%s, %s, %s) = %s, want %s", tt.channel, tt.senderID, tt.tool, got, tt.want)
			}
		})
	}
}

func TestResolveToolWildcards(t *testing.T) {
	cfg := &config.ToolsConfig{
		Policy: map[string]string{
			"telegram:123:*": "deny",
			"telegram:*:*":   "ask",
			"*":              "allow",
		},
	}
	pe := NewPolicyEngine(cfg)

	tests := []struct {
		name     string
		channel  string
		senderID string
		tool     string
		want     string
	}{
		{"sender wildcard-tool rule", "telegram", "123", "web_search", DecisionDeny},
		{"channel wildcard-tool rule", "telegram", "456", "web_search", DecisionAsk},
		{"other channel falls to catch-all", "discord", "123", "web_search", DecisionAllow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pe.Resolve(tt.channel, tt.senderID, tt.tool)
			if got != tt.want {
				t.Errorf("Resolve(%s, %s, %s) = %s, want %s", tt.channel, tt.senderID, tt.tool, got, tt.want)
			}
		})
	}

	t.Run("literal tool beats same-tier wildcard", func(t *testing.T) {
		pe := NewPolicyEngine(&config.ToolsConfig{
			Policy: map[string]string{
				"telegram:123:exec": "allow",
				"telegram:123:*":    "deny",
			},
		})
		if got := pe.Resolve("telegram", "123", "exec"); got != DecisionAllow {
			t.Errorf("literal rule lost to wildcard: %s", got)
		}
	})

	t.Run("channel wildcard tier", func(t *testing.T) {
		pe := NewPolicyEngine(&config.ToolsConfig{
			Policy: map[string]string{
				"telegram:*": "ask",
				"*":          "allow",
			},
		})
		if got := pe.Resolve("telegram", "9", "browser"); got != DecisionAsk {
			t.Errorf("channel wildcard skipped: %s", got)
		}
	})
}

func TestResolveConfirmMode(t *testing.T) {
	cfg := &config.ToolsConfig{
		ApprovalMode: "confirm",
		RiskyTools:   []string{"exec", "write_file"},
	}
	pe := NewPolicyEngine(cfg)

	if got := pe.Resolve("telegram", "1", "exec"); got != DecisionAsk {
		t.Errorf("risky tool = %s, want ask", got)
	}
	if got := pe.Resolve("telegram", "1", "read_file"); got != DecisionAllow {
		t.Errorf("safe tool = %s, want allow", got)
	}
}

func TestResolveInvalidDecisionSkipped(t *testing.T) {
	cfg := &config.ToolsConfig{
		Policy: map[string]string{
			"exec": "maybe",
			"*":    "deny",
		},
	}
	pe := NewPolicyEngine(cfg)
	if got := pe.Resolve("cli", "1", "exec"); got != DecisionDeny {
		t.Errorf("invalid rule value not skipped: %s", got)
	}
}

func TestParseApproval(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantAll   bool
		wantTools []string
	}{
		{"single tool", "approve exec", false, []string{"exec"}},
		{"case insensitive", "Approve EXEC", false, []string{"exec"}},
		{"comma list", "approve exec, browser", false, []string{"exec", "browser"}},
		{"all", "approve all", true, nil},
		{"embedded in prose", "sure, approve exec and go ahead", false, []string{"exec"}},
		{"no approval", "please run the report", false, nil},
		{"empty", "", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseApproval(tt.text)
			if got.All != tt.wantAll {
				t.Errorf("All = %v, want %v", got.All, tt.wantAll)
			}
			for _, tool := range tt.wantTools {
				if !got.Approves(tool) {
					t.Errorf("approval does not cover %q: %+v", tool, got)
				}
			}
			if tt.wantAll && !got.Approves("anything") {
				t.Error("approve all does not cover arbitrary tools")
			}
		})
	}
}

func TestSessionApproveAll(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{})
	key := "telegram:42"

	if pe.AllGranted(key) {
		t.Error("fresh session already granted")
	}
	pe.GrantAll(key)
	if !pe.AllGranted(key) {
		t.Error("grant not recorded")
	}
	if pe.AllGranted("telegram:other") {
		t.Error("grant leaked across sessions")
	}
	pe.ClearSession(key)
	if pe.AllGranted(key) {
		t.Error("grant survived clear")
	}
}
