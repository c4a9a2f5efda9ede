package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateICSTool writes a single-event iCalendar file that the user can
// import into any calendar app.
type CreateICSTool struct {
	dir string
}

func NewCreateICSTool(dir string) *CreateICSTool {
	return &CreateICSTool{dir: dir}
}

func (t *CreateICSTool) Name() string { return "create_ics" }

func (t *CreateICSTool) Description() string {
	return "Create a local .ics calendar file for one event and return its path."
}

func (t *CreateICSTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Event title.",
			},
			"start": map[string]interface{}{
				"type":        "string",
				"description": "Event start, RFC3339.",
			},
			"duration_minutes": map[string]interface{}{
				"type":        "number",
				"description": "Event length in minutes (default 60).",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Optional event description.",
			},
			"location": map[string]interface{}{
				"type":        "string",
				"description": "Optional event location.",
			},
		},
		"required": []string{"summary", "start"},
	}
}

func (t *CreateICSTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	summary, _ := args["summary"].(string)
	startRaw, _ := args["start"].(string)
	if summary == "" || startRaw == "" {
		return ErrorResult("summary and start are required")
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid start time: %v", err))
	}

	minutes := 60.0
	if m, ok := args["duration_minutes"].(float64); ok && m > 0 {
		minutes = m
	}
	end := start.Add(time.Duration(minutes) * time.Minute)
	description, _ := args["description"].(string)
	location, _ := args["location"].(string)

	var sb strings.Builder
	sb.WriteString("BEGIN:VCALENDAR\r\n")
	sb.WriteString("VERSION:2.0\r\n")
	sb.WriteString("PRODID:-//gema//EN\r\n")
	sb.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&sb, "UID:%s\r\n", uuid.NewString())
	fmt.Fprintf(&sb, "DTSTAMP:%s\r\n", time.Now().UTC().Format("20060102T150405Z"))
	fmt.Fprintf(&sb, "DTSTART:%s\r\n", start.UTC().Format("20060102T150405Z"))
	fmt.Fprintf(&sb, "DTEND:%s\r\n", end.UTC().Format("20060102T150405Z"))
	fmt.Fprintf(&sb, "SUMMARY:%s\r\n", escapeICS(summary))
	if description != "" {
		fmt.Fprintf(&sb, "DESCRIPTION:%s\r\n", escapeICS(description))
	}
	if location != "" {
		fmt.Fprintf(&sb, "LOCATION:%s\r\n", escapeICS(location))
	}
	sb.WriteString("END:VEVENT\r\n")
	sb.WriteString("END:VCALENDAR\r\n")

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("create dir: %v", err))
	}
	path := filepath.Join(t.dir, fmt.Sprintf("event-%s.ics", start.Format("20060102-1504")))
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write ics: %v", err))
	}
	return NewResult("calendar file created: " + path)
}

// escapeICS escapes text per RFC 5545.
func escapeICS(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
