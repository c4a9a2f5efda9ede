package tools

import (
	"regexp"
	"strings"
	"sync"

	"github.com/gema-dev/gema/internal/config"
)

// Policy decisions.
const (
	DecisionAllow = "allow"
	DecisionAsk   = "ask"
	DecisionDeny  = "deny"
)

// PolicyEngine resolves per-call tool decisions from the configured rule
// map, keyed from most to least specific:
//
//	{channel}:{sender_id}:{tool}
//	{channel}:{sender_id}:*
//	{channel}:*:{tool}
//	{channel}:*:*
//	{channel}:{tool}
//	{channel}:*
//	{tool}
//	*
//
// In confirm approval mode a risky tool with no matching rule defaults
// to ask. Session-wide "approve all" overrides are tracked here.
type PolicyEngine struct {
	cfg *config.ToolsConfig

	mu         sync.Mutex
	approveAll map[string]bool // session key -> approve-all granted
}

func NewPolicyEngine(cfg *config.ToolsConfig) *PolicyEngine {
	return &PolicyEngine{cfg: cfg, approveAll: make(map[string]bool)}
}

// Resolve returns the decision for one tool call.
func (pe *PolicyEngine) Resolve(channel, senderID, tool string) string {
	if pe.cfg == nil {
		return DecisionAllow
	}
	// Each specificity tier is consulted with the literal tool first,
	// then its *-tool form, before falling to the next tier.
	keys := []string{
		channel + ":" + senderID + ":" + tool,
		channel + ":" + senderID + ":*",
		channel + ":*:" + tool,
		channel + ":*:*",
		channel + ":" + tool,
		channel + ":*",
		tool,
		"*",
	}
	for _, key := range keys {
		if decision, ok := pe.cfg.Policy[key]; ok {
			switch decision {
			case DecisionAllow, DecisionAsk, DecisionDeny:
				return decision
			}
		}
	}
	if pe.cfg.ApprovalMode == "confirm" && pe.isRisky(tool) {
		return DecisionAsk
	}
	return DecisionAllow
}

func (pe *PolicyEngine) isRisky(tool string) bool {
	for _, name := range pe.cfg.RiskyTools {
		if name == tool {
			return true
		}
	}
	return false
}

var approveRe = regexp.MustCompile(`(?i)\bapprove\s+([a-z0-9_,\s]+)`)

// Approval holds what the user's current message grants.
type Approval struct {
	All   bool
	Tools map[string]bool
}

// ParseApproval extracts approval intent from message text: "approve
// <tool>", comma-separated tool lists, or "approve all".
func ParseApproval(text string) Approval {
	out := Approval{Tools: map[string]bool{}}
	m := approveRe.FindStringSubmatch(text)
	if m == nil {
		return out
	}
	for _, part := range strings.Split(m[1], ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		// The list may trail into regular prose; keep the first word only.
		if idx := strings.IndexByte(name, ' '); idx > 0 {
			name = name[:idx]
		}
		if name == "" {
			continue
		}
		if name == "all" {
			out.All = true
			continue
		}
		out.Tools[name] = true
	}
	return out
}

// Approves reports whether the parsed approval covers a tool.
func (a Approval) Approves(tool string) bool {
	return a.All || a.Tools[tool]
}

// GrantAll marks a session as approve-all for the rest of its lifetime.
func (pe *PolicyEngine) GrantAll(sessionKey string) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.approveAll[sessionKey] = true
}

// AllGranted reports whether a session carries an approve-all override.
func (pe *PolicyEngine) AllGranted(sessionKey string) bool {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return pe.approveAll[sessionKey]
}

// ClearSession drops a session's approve-all override, e.g. on reset.
func (pe *PolicyEngine) ClearSession(sessionKey string) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	delete(pe.approveAll, sessionKey)
}
