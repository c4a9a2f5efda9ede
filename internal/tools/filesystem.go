package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxReadBytes = 256 * 1024

// fsBase carries the shared workspace-restriction logic.
type fsBase struct {
	workspace string
	restrict  bool
}

// resolvePath expands the argument against the workspace and, when
// restriction is on, rejects paths escaping it.
func (b fsBase) resolvePath(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.workspace, path)
	}
	path = filepath.Clean(path)

	if b.restrict {
		ws := filepath.Clean(b.workspace)
		if path != ws && !strings.HasPrefix(path, ws+string(filepath.Separator)) {
			return "", fmt.Errorf("path outside workspace: %s", raw)
		}
	}
	return path, nil
}

// --- read_file ---

type ReadFileTool struct{ fsBase }

func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{fsBase{workspace: workspace, restrict: restrict}}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a text file from the workspace. Returns up to 256KB of content."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, _ := args["path"].(string)
	path, err := t.resolvePath(raw)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read failed: %v", err))
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		return NewResult(string(data) + "\n[truncated at 256KB]")
	}
	return NewResult(string(data))
}

// --- write_file ---

type WriteFileTool struct{ fsBase }

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{fsBase{workspace: workspace, restrict: restrict}}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating parent directories as needed. Overwrites existing content."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full file content to write.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, _ := args["path"].(string)
	content, _ := args["content"].(string)
	path, err := t.resolvePath(raw)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("create directory: %v", err))
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write failed: %v", err))
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), raw))
}

// --- edit_file ---

type EditFileTool struct{ fsBase }

func NewEditFileTool(workspace string, restrict bool) *EditFileTool {
	return &EditFileTool{fsBase{workspace: workspace, restrict: restrict}}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace an exact text fragment in a file. The fragment must occur exactly once."
}

func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace.",
			},
			"old_text": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace. Must appear exactly once.",
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text.",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if oldText == "" {
		return ErrorResult("old_text is required")
	}

	path, err := t.resolvePath(raw)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read failed: %v", err))
	}
	content := string(data)

	switch n := strings.Count(content, oldText); n {
	case 0:
		return ErrorResult("old_text not found in file")
	case 1:
	default:
		return ErrorResult(fmt.Sprintf("old_text occurs %d times; make it unique", n))
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write failed: %v", err))
	}
	return NewResult("edit applied to " + raw)
}

// --- list_files ---

type ListFilesTool struct{ fsBase }

func NewListFilesTool(workspace string, restrict bool) *ListFilesTool {
	return &ListFilesTool{fsBase{workspace: workspace, restrict: restrict}}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List directory entries with sizes. Directories are suffixed with a slash."
}

func (t *ListFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path, absolute or relative to the workspace. Defaults to the workspace root.",
			},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, _ := args["path"].(string)
	if raw == "" {
		raw = "."
	}
	path, err := t.resolvePath(raw)
	if err != nil {
		return ErrorResult(err.Error())
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list failed: %v", err))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			names = append(names, name+"/")
			continue
		}
		if info, err := entry.Info(); err == nil {
			names = append(names, fmt.Sprintf("%s (%d bytes)", name, info.Size()))
		} else {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return NewResult("(empty directory)")
	}
	return NewResult(strings.Join(names, "\n"))
}
