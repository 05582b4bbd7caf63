package agentexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/h4mn/skybridge/pkg/logger"
)

// Tool is one host-process operation the agent may invoke, matching the
// {Name, Description, Parameters, Execute} shape picoclaw's pkg/tools
// uses for its tool-call contract.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// sandboxedPath resolves rawPath and rejects it unless it falls under
// root — the per-execution equivalent of picoclaw's process-global
// fsAllowedDir, scoped to exactly the worktree named in spec.md §4.4
// point 3 ("the subprocess's allowed filesystem region is exactly that
// subtree") instead of one directory shared by every execution.
func sandboxedPath(root, rawPath string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(root, rawPath))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid worktree root: %w", err)
	}
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied: path %q is outside worktree %q", abs, rootAbs)
	}
	return abs, nil
}

// ReadFileTool reads a file from within the execution's worktree.
type ReadFileTool struct{ Root string }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file in the worktree" }
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string", "description": "Path relative to the worktree root"}},
		"required":   []string{"path"},
	}
}
func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", fmt.Errorf("path is required")
	}
	safe, err := sandboxedPath(t.Root, path)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(safe)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(content), nil
}

// WriteFileTool writes a file within the execution's worktree.
type WriteFileTool struct{ Root string }

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file in the worktree" }
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Path relative to the worktree root"},
			"content": map[string]interface{}{"type": "string", "description": "Content to write"},
		},
		"required": []string{"path", "content"},
	}
}
func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", fmt.Errorf("path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return "", fmt.Errorf("content is required")
	}
	safe, err := sandboxedPath(t.Root, path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(safe), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(safe, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return "file written", nil
}

// ListDirTool lists a directory within the execution's worktree.
type ListDirTool struct{ Root string }

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List files and directories in a worktree path" }
func (t *ListDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string", "description": "Path relative to the worktree root"}},
	}
}
func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		path = "."
	}
	safe, err := sandboxedPath(t.Root, path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(safe)
	if err != nil {
		return "", fmt.Errorf("failed to read directory: %w", err)
	}
	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			sb.WriteString("DIR:  " + entry.Name() + "\n")
		} else {
			sb.WriteString("FILE: " + entry.Name() + "\n")
		}
	}
	return sb.String(), nil
}

// ProgressTool lets the agent push a human-readable progress notification
// without that notification being a filesystem or git side effect —
// spec.md §4.4's "publish a progress update" custom tool.
type ProgressTool struct {
	OnProgress func(message string)
}

func (t *ProgressTool) Name() string        { return "report_progress" }
func (t *ProgressTool) Description() string { return "Report a short progress update to observers" }
func (t *ProgressTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"message": map[string]interface{}{"type": "string"}},
		"required":   []string{"message"},
	}
}
func (t *ProgressTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	message, _ := args["message"].(string)
	if t.OnProgress != nil {
		t.OnProgress(message)
	}
	return "ok", nil
}

// LogTool lets the agent emit a structured log line under its own
// category, distinct from the orchestrator's own logging.
type LogTool struct{ JobID string }

func (t *LogTool) Name() string        { return "log" }
func (t *LogTool) Description() string { return "Emit a log line from the agent" }
func (t *LogTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"level":   map[string]interface{}{"type": "string", "enum": []string{"debug", "info", "warn", "error"}},
			"message": map[string]interface{}{"type": "string"},
		},
		"required": []string{"message"},
	}
}
func (t *LogTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	message, _ := args["message"].(string)
	level, _ := args["level"].(string)
	fields := map[string]interface{}{"job_id": t.JobID}
	switch level {
	case "debug":
		logger.DebugCF("agent", message, fields)
	case "warn":
		logger.WarnCF("agent", message, fields)
	case "error":
		logger.ErrorCF("agent", message, fields)
	default:
		logger.InfoCF("agent", message, fields)
	}
	return "ok", nil
}

// CheckpointTool lets the agent record a named checkpoint, for resuming a
// multi-step skill's narrative in a later message without re-deriving it
// from the raw message stream.
type CheckpointTool struct {
	checkpoints []string
}

func (t *CheckpointTool) Name() string        { return "record_checkpoint" }
func (t *CheckpointTool) Description() string { return "Record a named checkpoint in the current task" }
func (t *CheckpointTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}},
		"required":   []string{"name"},
	}
}
func (t *CheckpointTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	name, _ := args["name"].(string)
	t.checkpoints = append(t.checkpoints, name)
	return "ok", nil
}

// Checkpoints returns every checkpoint recorded so far, oldest first.
func (t *CheckpointTool) Checkpoints() []string { return append([]string(nil), t.checkpoints...) }

// StandardTools returns the fixed, enumerated tool set spec.md §4.4
// grants every execution: sandboxed file access plus the three
// host-process-only operations.
func StandardTools(root, jobID string, onProgress func(string)) []Tool {
	return []Tool{
		&ReadFileTool{Root: root},
		&WriteFileTool{Root: root},
		&ListDirTool{Root: root},
		&ProgressTool{OnProgress: onProgress},
		&LogTool{JobID: jobID},
		&CheckpointTool{},
	}
}
