package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/gema-dev/gema/internal/cron"
)

// CronTool manages scheduled jobs from within a conversation.
type CronTool struct {
	store *cron.Store
}

func NewCronTool(store *cron.Store) *CronTool {
	return &CronTool{store: store}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Manage scheduled jobs: list, add, remove, enable, disable. Schedules are a fixed interval, a cron expression, or a one-shot timestamp."
}

func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"list", "add", "remove", "enable", "disable"},
				"description": "Operation to perform.",
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Job name (unique). Required for add/remove/enable/disable.",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message the job injects when it fires. Required for add.",
			},
			"schedule_kind": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"every", "cron", "at"},
				"description": "Schedule type for add.",
			},
			"every_minutes": map[string]interface{}{
				"type":        "number",
				"description": "Interval in minutes for the every schedule.",
			},
			"cron_expr": map[string]interface{}{
				"type":        "string",
				"description": "Standard cron expression for the cron schedule.",
			},
			"at": map[string]interface{}{
				"type":        "string",
				"description": "RFC3339 timestamp for the one-shot at schedule.",
			},
			"deliver": map[string]interface{}{
				"type":        "boolean",
				"description": "When true the reply is delivered to the current chat; otherwise the message is processed internally.",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	name, _ := args["name"].(string)

	switch action {
	case "list":
		return t.list()
	case "add":
		return t.add(ctx, args)
	case "remove":
		if err := t.store.Remove(name); err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult("job removed: " + name)
	case "enable", "disable":
		if err := t.store.SetEnabled(name, action == "enable"); err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult(fmt.Sprintf("job %sd: %s", action, name))
	default:
		return ErrorResult(fmt.Sprintf("unknown cron action: %s", action))
	}
}

func (t *CronTool) list() *Result {
	jobs := t.store.List()
	if len(jobs) == 0 {
		return NewResult("no scheduled jobs")
	}
	var sb strings.Builder
	for _, job := range jobs {
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "- %s [%s] %s next=%s failures=%d\n",
			job.Name, state, describeSchedule(job.Schedule), job.NextRunAt, job.FailureCount)
	}
	return NewResult(sb.String())
}

func (t *CronTool) add(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["name"].(string)
	message, _ := args["message"].(string)
	kind, _ := args["schedule_kind"].(string)
	if name == "" || message == "" || kind == "" {
		return ErrorResult("add requires name, message, and schedule_kind")
	}

	sc := cron.Schedule{Kind: kind}
	switch kind {
	case cron.ScheduleEvery:
		minutes, _ := args["every_minutes"].(float64)
		sc.EveryMS = int64(minutes * 60 * 1000)
	case cron.ScheduleCron:
		sc.CronExpr, _ = args["cron_expr"].(string)
	case cron.ScheduleAt:
		sc.At, _ = args["at"].(string)
	}

	deliver, _ := args["deliver"].(bool)
	job := &cron.Job{
		Name:     name,
		Schedule: sc,
		Payload:  cron.Payload{Kind: cron.KindDirectMessage, Message: message},
		Deliver:  deliver,
		Channel:  ToolChannelFromCtx(ctx),
		ChatID:   ToolChatIDFromCtx(ctx),
	}
	added, err := t.store.Add(job)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(fmt.Sprintf("job added: %s (next run %s)", added.Name, added.NextRunAt))
}

func describeSchedule(sc cron.Schedule) string {
	switch sc.Kind {
	case cron.ScheduleEvery:
		return fmt.Sprintf("every %dms", sc.EveryMS)
	case cron.ScheduleCron:
		return "cron " + sc.CronExpr
	case cron.ScheduleAt:
		return "at " + sc.At
	}
	return "unknown"
}
