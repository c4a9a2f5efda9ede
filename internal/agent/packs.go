package agent

import (
	"regexp"
	"strconv"
	"strings"
)

// Pack is a named workflow template expanded server-side into a full
// prompt. Users trigger one with "/pack <name> [notes] [--voice|--silent]"
// or "run pack <name>".
type Pack struct {
	Name      string
	Objective string
	Steps     []string
}

var builtinPacks = map[string]Pack{
	"daily-brief": {
		Name:      "daily-brief",
		Objective: "Produce the user's morning brief.",
		Steps: []string{
			"Recall recent facts and open items from memory.",
			"Check today's calendar events if the google tool is available.",
			"List unread email subjects if available.",
			"Summarize everything in under 10 lines, most urgent first.",
		},
	},
	"inbox-zero": {
		Name:      "inbox-zero",
		Objective: "Triage the user's inbox.",
		Steps: []string{
			"List recent email threads with the google tool.",
			"Group them: needs reply, needs action, can archive.",
			"Draft one-line suggested replies for the 'needs reply' group.",
		},
	},
	"research": {
		Name:      "research",
		Objective: "Research the given topic and report findings.",
		Steps: []string{
			"Search the web for the topic from multiple angles.",
			"Fetch and read the most relevant sources.",
			"Write a short report: key findings, disagreements, sources.",
		},
	},
	"review-day": {
		Name:      "review-day",
		Objective: "Review today's activity and capture lessons.",
		Steps: []string{
			"Read today's daily note via recall.",
			"Identify anything worth remembering long-term and persist it.",
			"Reply with a 3-line end-of-day summary.",
		},
	},
}

var packRe = regexp.MustCompile(`(?i)^(?:/pack\s+|run\s+pack\s+)([a-z0-9-]+)\s*(.*)$`)

// Delivery flags a pack invocation may carry.
var packFlags = []string{"--voice", "--image", "--sticker", "--silent"}

// DetectPack matches pack-invocation syntax in a user message. It returns
// the pack and any trailing free text (flags stripped into the synthesis).
func DetectPack(content string) (Pack, string, bool) {
	m := packRe.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return Pack{}, "", false
	}
	pack, ok := builtinPacks[strings.ToLower(m[1])]
	if !ok {
		return Pack{}, "", false
	}
	return pack, strings.TrimSpace(m[2]), true
}

// Synthesize expands the pack into the prompt the model actually sees.
func (p Pack) Synthesize(extra string) string {
	var flags []string
	for _, f := range packFlags {
		if strings.Contains(extra, f) {
			flags = append(flags, strings.TrimPrefix(f, "--"))
			extra = strings.ReplaceAll(extra, f, "")
		}
	}
	extra = strings.TrimSpace(extra)

	var sb strings.Builder
	sb.WriteString("Run the \"" + p.Name + "\" workflow.\n\nObjective: " + p.Objective + "\n\nSteps:\n")
	for i, step := range p.Steps {
		sb.WriteString(strconv.Itoa(i+1) + ". " + step + "\n")
	}
	if extra != "" {
		sb.WriteString("\nAdditional instructions: " + extra + "\n")
	}
	for _, f := range flags {
		switch f {
		case "silent":
			sb.WriteString("\nDeliver silently: do the work, reply NO_REPLY unless something needs attention.\n")
		default:
			sb.WriteString("\nPreferred delivery: " + f + ".\n")
		}
	}
	return strings.TrimSpace(sb.String())
}
