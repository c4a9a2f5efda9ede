package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gema-dev/gema/internal/memory"
)

// RecallRecorder receives recall outcomes for metrics.
type RecallRecorder interface {
	RecordRecall(query string, hits int, latency time.Duration)
}

// --- remember ---

type RememberTool struct {
	engine *memory.Engine
}

func NewRememberTool(engine *memory.Engine) *RememberTool {
	return &RememberTool{engine: engine}
}

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Store a durable fact about the user. Duplicates refresh the existing fact; a new value for a known attribute supersedes the old one."
}

func (t *RememberTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "The fact, phrased as a standalone sentence.",
			},
			"type": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"identity", "preference", "relationship", "project", "lesson"},
				"description": "Fact category; affects default confidence.",
			},
		},
		"required": []string{"text"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	text, _ := args["text"].(string)
	factType, _ := args["type"].(string)
	if strings.TrimSpace(text) == "" {
		return ErrorResult("text is required")
	}

	res := t.engine.RememberFact(text, factType, "chat", 0)
	if !res.OK {
		return ErrorResult(fmt.Sprintf("remember failed: %s", res.Error))
	}
	switch res.Status {
	case "duplicate":
		return SilentResult("already known; refreshed last_seen")
	case "superseded":
		return SilentResult(fmt.Sprintf("stored; superseded %d earlier fact(s)", len(res.SupersededIDs)))
	default:
		return SilentResult("stored as " + res.FactID)
	}
}

// --- recall ---

type RecallTool struct {
	engine   *memory.Engine
	recorder RecallRecorder
}

func NewRecallTool(engine *memory.Engine, recorder RecallRecorder) *RecallTool {
	return &RecallTool{engine: engine, recorder: recorder}
}

func (t *RecallTool) Name() string { return "recall" }

func (t *RecallTool) Description() string {
	return "Search long-term memory: profile, facts, lessons, projects, summaries, and recent daily notes."
}

func (t *RecallTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for.",
			},
			"max_items": map[string]interface{}{
				"type":        "number",
				"description": "Maximum results (default 6).",
			},
		},
		"required": []string{"query"},
	}
}

func (t *RecallTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}
	maxItems := 0
	if n, ok := args["max_items"].(float64); ok {
		maxItems = int(n)
	}

	start := time.Now()
	items, err := t.engine.Recall(query, memory.RecallOptions{MaxItems: maxItems})
	if err != nil {
		return ErrorResult(fmt.Sprintf("recall failed: %v", err))
	}
	if t.recorder != nil {
		t.recorder.RecordRecall(query, len(items), time.Since(start))
	}

	if len(items) == 0 {
		return NewResult("no matching memories")
	}
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "- [%s] %s\n", item.Source, item.Text)
	}
	return NewResult(sb.String())
}

// --- update_profile ---

type UpdateProfileTool struct {
	engine *memory.Engine
}

func NewUpdateProfileTool(engine *memory.Engine) *UpdateProfileTool {
	return &UpdateProfileTool{engine: engine}
}

func (t *UpdateProfileTool) Name() string { return "update_profile" }

func (t *UpdateProfileTool) Description() string {
	return "Set a field in the user profile, e.g. section 'Basics', key 'name'. Repeated updates keep one line per key."
}

func (t *UpdateProfileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"section": map[string]interface{}{
				"type":        "string",
				"description": "Profile section heading.",
			},
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Field name within the section.",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Field value.",
			},
		},
		"required": []string{"section", "key", "value"},
	}
}

func (t *UpdateProfileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	section, _ := args["section"].(string)
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)
	if err := t.engine.UpsertProfileField(section, key, value); err != nil {
		return ErrorResult(fmt.Sprintf("profile update failed: %v", err))
	}
	return SilentResult(fmt.Sprintf("profile updated: %s / %s", section, key))
}

// --- log_feedback ---

type LogFeedbackTool struct {
	engine *memory.Engine
}

func NewLogFeedbackTool(engine *memory.Engine) *LogFeedbackTool {
	return &LogFeedbackTool{engine: engine}
}

func (t *LogFeedbackTool) Name() string { return "log_feedback" }

func (t *LogFeedbackTool) Description() string {
	return "Record a lesson learned from user feedback so future behavior improves."
}

func (t *LogFeedbackTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"lesson": map[string]interface{}{
				"type":        "string",
				"description": "The lesson, phrased as guidance.",
			},
		},
		"required": []string{"lesson"},
	}
}

func (t *LogFeedbackTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	lesson, _ := args["lesson"].(string)
	if strings.TrimSpace(lesson) == "" {
		return ErrorResult("lesson is required")
	}
	if err := t.engine.AppendLesson(lesson); err != nil {
		return ErrorResult(fmt.Sprintf("log_feedback failed: %v", err))
	}
	return SilentResult("lesson recorded")
}
