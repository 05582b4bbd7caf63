package snapshot

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/h4mn/skybridge/pkg/skyerr"
)

// VerifySpec names the optional syntax-check and test commands the
// orchestrator runs inside a worktree after an agent's changes land,
// before they are committed and pushed.
type VerifySpec struct {
	SyntaxCheck       string `json:"syntax_check,omitempty"`
	TestCommand       string `json:"test_command,omitempty"`
	RollbackOnFailure bool   `json:"rollback_on_failure"`
}

// VerifyResult captures the outcome of running a VerifySpec.
type VerifyResult struct {
	SyntaxPassed *bool         `json:"syntax_passed,omitempty"`
	SyntaxOutput string        `json:"syntax_output,omitempty"`
	TestsPassed  *bool         `json:"tests_passed,omitempty"`
	TestOutput   string        `json:"test_output,omitempty"`
	Duration     time.Duration `json:"duration_ms"`
}

// Passed reports whether every configured stage passed (stages that were
// never configured are vacuously passing).
func (r *VerifyResult) Passed() bool {
	if r.SyntaxPassed != nil && !*r.SyntaxPassed {
		return false
	}
	if r.TestsPassed != nil && !*r.TestsPassed {
		return false
	}
	return true
}

const (
	syntaxCheckTimeout = 60 * time.Second
	testCommandTimeout = 300 * time.Second
	maxOutputBytes     = 8192
)

// Run executes spec's syntax check then test command inside workspaceRoot
// via `sh -c`, stopping at the first failing stage.
func Run(ctx context.Context, spec *VerifySpec, workspaceRoot string) (*VerifyResult, error) {
	result := &VerifyResult{}
	if spec == nil {
		return result, nil
	}
	start := time.Now()

	if spec.SyntaxCheck != "" {
		passed, output, err := runCommand(ctx, workspaceRoot, spec.SyntaxCheck, syntaxCheckTimeout)
		result.SyntaxPassed = &passed
		result.SyntaxOutput = truncate(output, 4096)
		if err != nil && !passed {
			result.Duration = time.Since(start)
			return result, skyerr.Wrap(skyerr.KindInvalid, "snapshot.Run", "syntax check failed", err)
		}
	}

	if spec.TestCommand != "" {
		passed, output, err := runCommand(ctx, workspaceRoot, spec.TestCommand, testCommandTimeout)
		result.TestsPassed = &passed
		result.TestOutput = truncate(output, maxOutputBytes)
		if err != nil && !passed {
			result.Duration = time.Since(start)
			return result, skyerr.Wrap(skyerr.KindInvalid, "snapshot.Run", "test command failed", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func runCommand(ctx context.Context, dir, command string, timeout time.Duration) (bool, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return false, out.String(), skyerr.New(skyerr.KindTimeout, "runCommand", "command timed out: "+command)
	}
	if err != nil {
		return false, out.String(), err
	}
	return true, out.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}
