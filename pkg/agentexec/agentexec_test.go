package agentexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/h4mn/skybridge/pkg/snapshot"
)

func TestAgentExecution_OutcomeClassification(t *testing.T) {
	base := &AgentExecution{State: StateTimedOut}
	if base.Outcome() != OutcomeTimeout {
		t.Errorf("timed out -> %q, want %q", base.Outcome(), OutcomeTimeout)
	}

	crashed := &AgentExecution{State: StateFailed, Result: nil}
	if crashed.Outcome() != OutcomeCrashedBeforeResult {
		t.Errorf("failed/no result -> %q, want %q", crashed.Outcome(), OutcomeCrashedBeforeResult)
	}

	malformed := &AgentExecution{State: StateFailed, Result: &AgentResult{}}
	if malformed.Outcome() != OutcomeMalformedResult {
		t.Errorf("failed/with result -> %q, want %q", malformed.Outcome(), OutcomeMalformedResult)
	}

	noChanges := &AgentExecution{State: StateComplete, Diff: &snapshot.Diff{}}
	if noChanges.Outcome() != OutcomeSuccessNoChanges {
		t.Errorf("complete/empty diff -> %q, want %q", noChanges.Outcome(), OutcomeSuccessNoChanges)
	}

	withChanges := &AgentExecution{State: StateComplete, Diff: &snapshot.Diff{
		Changes: []snapshot.FileChange{{Op: snapshot.OpCreate, Path: "a.go"}},
	}}
	if withChanges.Outcome() != OutcomeSuccessWithChanges {
		t.Errorf("complete/nonempty diff -> %q, want %q", withChanges.Outcome(), OutcomeSuccessWithChanges)
	}
}

func TestAgentExecution_Duration(t *testing.T) {
	e := &AgentExecution{}
	if e.Duration() != 0 {
		t.Fatalf("duration on unstarted execution = %v, want 0", e.Duration())
	}
	start := time.Now()
	e.StartedAt = start
	e.CompletedAt = start.Add(3 * time.Second)
	if e.Duration() != 3*time.Second {
		t.Fatalf("duration = %v, want 3s", e.Duration())
	}
}

func TestPromptTemplate_RenderSubstitutesPlaceholdersAndSkillOverride(t *testing.T) {
	tmpl := &PromptTemplate{
		System: "default prompt for {{worktree_path}}",
		SkillPrompts: map[string]string{
			"bugfix": "fix bugs in {{worktree_path}} for issue {{issue_number}}",
		},
	}
	vars := map[string]string{"worktree_path": "/tmp/wt", "issue_number": "42"}

	defaultRendered := tmpl.Render("docs", vars)
	if defaultRendered != "default prompt for /tmp/wt" {
		t.Errorf("default render = %q", defaultRendered)
	}

	bugfixRendered := tmpl.Render("bugfix", vars)
	if bugfixRendered != "fix bugs in /tmp/wt for issue 42" {
		t.Errorf("bugfix render = %q", bugfixRendered)
	}
}

func TestSandboxedPath_RejectsEscapeFromWorktree(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "in.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	readTool := &ReadFileTool{Root: root}
	if _, err := readTool.Execute(context.Background(), map[string]interface{}{"path": "in.txt"}); err != nil {
		t.Fatalf("reading in-sandbox file: %v", err)
	}
	if _, err := readTool.Execute(context.Background(), map[string]interface{}{"path": "../../etc/passwd"}); err == nil {
		t.Fatalf("expected path traversal outside worktree to be rejected")
	}
}

func TestWriteFileTool_CreatesIntermediateDirectories(t *testing.T) {
	root := t.TempDir()
	writeTool := &WriteFileTool{Root: root}
	if _, err := writeTool.Execute(context.Background(), map[string]interface{}{"path": "nested/dir/out.txt", "content": "hi"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "nested/dir/out.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("content = %q, want hi", data)
	}
}

func TestProgressTool_InvokesCallback(t *testing.T) {
	var seen string
	tool := &ProgressTool{OnProgress: func(m string) { seen = m }}
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"message": "halfway done"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != "halfway done" {
		t.Fatalf("callback message = %q, want %q", seen, "halfway done")
	}
}

func TestCheckpointTool_AccumulatesInOrder(t *testing.T) {
	tool := &CheckpointTool{}
	tool.Execute(context.Background(), map[string]interface{}{"name": "plan"})
	tool.Execute(context.Background(), map[string]interface{}{"name": "implement"})
	got := tool.Checkpoints()
	if len(got) != 2 || got[0] != "plan" || got[1] != "implement" {
		t.Fatalf("checkpoints = %v, want [plan implement]", got)
	}
}
