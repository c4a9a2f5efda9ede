package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxExecOutput = 64 * 1024

// ExecTool runs shell commands with a bounded timeout, optionally
// confined to the workspace directory.
type ExecTool struct {
	workspace string
	timeout   time.Duration
}

func NewExecTool(workspace string, timeoutSeconds int) *ExecTool {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 120
	}
	return &ExecTool{workspace: workspace, timeout: time.Duration(timeoutSeconds) * time.Second}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace and return combined stdout/stderr. The command is killed after the configured timeout."
}

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.workspace

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if len(output) > maxExecOutput {
		output = output[:maxExecOutput] + "\n[output truncated]"
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", t.timeout, output))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output))
	}
	if output == "" {
		return NewResult("(no output)")
	}
	return NewResult(output)
}
