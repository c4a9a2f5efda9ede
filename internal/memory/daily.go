package memory

import (
	"fmt"
	"strings"
)

const maxDailyEntryChars = 1200

// AppendDaily logs one timestamped entry to today's note. Entries are
// grouped under "## HH:MM" sub-headers; a new header is opened whenever
// the minute changes.
func (e *Engine) AppendDaily(channel, actor, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	name := now.Format("2006-01-02") + ".md"
	header := "## " + now.Format("15:04")
	entry := fmt.Sprintf("- [%s] %s: %s\n", channel, actor, compactLine(text, maxDailyEntryChars))

	content := e.readFile(name)
	if content == "" {
		content = "# " + now.Format("2006-01-02") + "\n"
	}

	if lastHeader(content) != header {
		content = strings.TrimRight(content, "\n") + "\n\n" + header + "\n"
	}
	content += entry

	return e.writeFileAtomic(name, []byte(content))
}

// lastHeader returns the last "## ..." line of the document.
func lastHeader(content string) string {
	last := ""
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			last = trimmed
		}
	}
	return last
}
