package memory

import (
	"strings"
)

// BuildContext assembles the memory block injected into the system prompt:
// profile fields, active facts, and recent lessons, truncated to maxChars.
func (e *Engine) BuildContext(maxChars int) string {
	if maxChars <= 0 {
		maxChars = 8000
	}

	var sb strings.Builder

	if fields := e.ProfileFields(); len(fields) > 0 {
		sb.WriteString("## User Profile\n")
		for section, kv := range fields {
			sb.WriteString("### " + section + "\n")
			for k, v := range kv {
				sb.WriteString("- " + k + ": " + v + "\n")
			}
		}
		sb.WriteString("\n")
	}

	if facts, err := e.ActiveFacts(); err == nil && len(facts) > 0 {
		sb.WriteString("## Known Facts\n")
		for _, f := range facts {
			sb.WriteString("- " + f.Text + "\n")
			if sb.Len() > maxChars {
				break
			}
		}
		sb.WriteString("\n")
	}

	if lessons := bulletLines(e.readFile(LessonsFile)); len(lessons) > 0 {
		sb.WriteString("## Lessons\n")
		start := 0
		if len(lessons) > 10 {
			start = len(lessons) - 10
		}
		for _, l := range lessons[start:] {
			sb.WriteString("- " + l + "\n")
		}
	}

	out := sb.String()
	if len(out) > maxChars {
		out = out[:maxChars] + "\n[memory context truncated]"
	}
	return strings.TrimSpace(out)
}
