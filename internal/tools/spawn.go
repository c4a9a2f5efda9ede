package tools

import (
	"context"
	"fmt"
	"strings"
)

// SubagentRunner executes a one-shot task in an isolated agent context.
// The agent loop provides the implementation; the indirection avoids an
// import cycle between tools and agent.
type SubagentRunner interface {
	RunSubagent(ctx context.Context, task string) (string, error)
}

// SpawnTool delegates a self-contained task to a subagent. Subagents get
// a restricted tool set and no conversation history.
type SpawnTool struct {
	runner SubagentRunner
}

func NewSpawnTool(runner SubagentRunner) *SpawnTool {
	return &SpawnTool{runner: runner}
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Delegate a self-contained task to a subagent and return its final answer. Use for research or multi-step work that does not need the conversation context."
}

func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Complete task description for the subagent.",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	task, _ := args["task"].(string)
	if strings.TrimSpace(task) == "" {
		return ErrorResult("task is required")
	}
	if t.runner == nil {
		return ErrorResult("subagent runner unavailable")
	}
	answer, err := t.runner.RunSubagent(ctx, task)
	if err != nil {
		return ErrorResult(fmt.Sprintf("subagent failed: %v", err))
	}
	return NewResult(answer)
}
