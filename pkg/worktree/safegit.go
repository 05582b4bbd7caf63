// Package worktree manages the lifecycle of per-job git worktrees and
// gates every git invocation through a safety guard, grounded on
// original_source's safe_git_tool.py and worktree_manager.py.
package worktree

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/h4mn/skybridge/pkg/skyerr"
)

// blockedPatterns reject destructive git invocations outright, before a
// subprocess is ever spawned. Word-boundary-ish matching catches
// `git reset --hard`, `git   reset  --hard HEAD~1`, `git clean -fd`, and
// `git restore --staged .` regardless of surrounding flags.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bgit\s+reset\s+.*--hard\b`),
	regexp.MustCompile(`(?i)\bgit\s+clean\b`),
	regexp.MustCompile(`(?i)\bgit\s+restore\b`),
}

// checkoutPattern recognizes `git checkout [-b|-B|--new-branch] [<arg>]` so
// branch creation can be restricted to the webhook/ and webhook-test/
// prefixes while plain checkouts of an existing branch are rejected
// outright (a worktree has no business switching to a branch other than
// the one it was created with).
var checkoutPattern = regexp.MustCompile(`(?i)\bgit\s+checkout(?:\s+(-b|-B|--new-branch))?\s*(.*)?$`)

// AllowedBranchPrefixes lists the only branch name prefixes a new branch
// may be created with from inside a worktree's safe-git gate.
var AllowedBranchPrefixes = []string{"webhook/", "webhook-test/"}

// Result is the outcome of a guarded git invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SafeGit tokenizes and runs a git command after passing it through the
// guardrails above. command is the full command line including the
// leading "git" — e.g. "git worktree add ../x -b webhook/foo dev".
//
// Commands never go through a shell: the command line is tokenized with a
// shlex-equivalent splitter and executed via exec.CommandContext(name,
// args...), so shell metacharacters in, say, an issue title that leaked
// into a generated command are inert.
func SafeGit(ctx context.Context, command, cwd string, timeout time.Duration) (*Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, skyerr.New(skyerr.KindInvalid, "SafeGit", "empty command")
	}
	if cwd == "" {
		return nil, skyerr.New(skyerr.KindInvalid, "SafeGit", "empty cwd")
	}

	for _, pat := range blockedPatterns {
		if pat.MatchString(command) {
			return nil, skyerr.New(skyerr.KindGuardrail, "SafeGit", "blocked destructive git command: "+command)
		}
	}

	if m := checkoutPattern.FindStringSubmatch(command); m != nil {
		newBranchFlag := m[1]
		arg := strings.TrimSpace(m[2])
		if newBranchFlag != "" {
			if arg == "" {
				return nil, skyerr.New(skyerr.KindGuardrail, "SafeGit", "checkout -b requires a branch name")
			}
			if !hasAllowedPrefix(arg) {
				return nil, skyerr.New(skyerr.KindGuardrail, "SafeGit",
					"new branch name must start with one of "+strings.Join(AllowedBranchPrefixes, ", ")+": "+arg)
			}
		} else if arg != "" {
			return nil, skyerr.New(skyerr.KindGuardrail, "SafeGit",
				"checkout of an existing branch is blocked from a worktree; use 'git checkout -b webhook/<name>' to branch instead")
		}
	}

	args, err := shlexSplit(command)
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindInvalid, "SafeGit", "tokenize command", err)
	}
	if len(args) == 0 || args[0] != "git" {
		return nil, skyerr.New(skyerr.KindInvalid, "SafeGit", "command must start with 'git': "+command)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return res, skyerr.New(skyerr.KindTimeout, "SafeGit", "git command timed out: "+command)
	}
	if runErr != nil && res.ExitCode == 0 {
		// Process never started (binary missing, permissions, ...).
		return res, skyerr.Wrap(skyerr.KindUnavailable, "SafeGit", "failed to run git", runErr)
	}
	if res.ExitCode != 0 {
		return res, skyerr.New(skyerr.KindUnavailable, "SafeGit", "git exited "+strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

func hasAllowedPrefix(branch string) bool {
	for _, p := range AllowedBranchPrefixes {
		if strings.HasPrefix(branch, p) {
			return true
		}
	}
	return false
}

// shlexSplit tokenizes a command line the way a POSIX shell would for word
// splitting and quoting, without invoking a shell. It supports single and
// double quotes and backslash escapes, which covers every command this
// package ever constructs.
func shlexSplit(s string) ([]string, error) {
	var (
		tokens []string
		cur    strings.Builder
		inTok  bool
		quote  rune
	)
	flush := func() {
		if inTok {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inTok = false
		}
	}
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else if c == '\\' && quote == '"' && i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
			} else {
				cur.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inTok = true
		case c == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			inTok = true
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteRune(c)
			inTok = true
		}
	}
	if quote != 0 {
		return nil, skyerr.New(skyerr.KindInvalid, "shlexSplit", "unterminated quote")
	}
	flush()
	return tokens, nil
}
