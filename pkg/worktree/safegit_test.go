package worktree

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/h4mn/skybridge/pkg/skyerr"
)

func TestSafeGit_BlocksDestructiveCommands(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{"reset hard", "git reset --hard HEAD~1"},
		{"reset hard extra spaces", "git   reset   --hard"},
		{"clean", "git clean -fd"},
		{"restore", "git restore --staged ."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SafeGit(context.Background(), tt.command, t.TempDir(), time.Second)
			if err == nil {
				t.Fatalf("expected guardrail rejection for %q, got nil error", tt.command)
			}
			if !strings.Contains(err.Error(), "blocked") {
				t.Fatalf("error = %v, want a blocked-command error", err)
			}
		})
	}
}

func TestSafeGit_BranchNameGuardrail(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wantErr bool
	}{
		{"allowed webhook prefix", "git checkout -b webhook/github/issue/1/abcd1234", false},
		{"allowed webhook-test prefix", "git checkout -b webhook-test/foo", false},
		{"disallowed prefix", "git checkout -b feature/foo", true},
		{"checkout existing branch blocked", "git checkout main", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SafeGit(context.Background(), tt.command, t.TempDir(), time.Second)
			// These all fail for other reasons too (no git repo in tmpdir),
			// but a guardrail rejection happens before exec and carries
			// skyerr.KindGuardrail, which tells it apart from a git failure.
			gotGuardrail := skyerr.Is(err, skyerr.KindGuardrail)
			if tt.wantErr && !gotGuardrail {
				t.Fatalf("command %q: expected a guardrail error, got %v", tt.command, err)
			}
		})
	}
}

func TestShlexSplit(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`git commit -m "fix: handle nil"`, []string{"git", "commit", "-m", "fix: handle nil"}},
		{`git worktree add ../x -b webhook/foo dev`, []string{"git", "worktree", "add", "../x", "-b", "webhook/foo", "dev"}},
		{`git commit -m 'it'\''s fine'`, []string{"git", "commit", "-m", "it's fine"}},
	}
	for _, tt := range tests {
		got, err := shlexSplit(tt.in)
		if err != nil {
			t.Fatalf("shlexSplit(%q): %v", tt.in, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("shlexSplit(%q) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("shlexSplit(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestNamesFor_DeterministicAndUnique(t *testing.T) {
	a := NamesFor("/base", "github", 42, "abcdef1234567890")
	b := NamesFor("/base", "github", 42, "abcdef1234567890")
	if a.Path != b.Path || a.Branch != b.Branch {
		t.Fatalf("NamesFor is not deterministic for identical inputs")
	}
	c := NamesFor("/base", "github", 42, "11112222333344")
	if a.Path == c.Path || a.Branch == c.Branch {
		t.Fatalf("NamesFor collided for two different job ids on the same issue")
	}
	if !strings.HasPrefix(a.Branch, "webhook/") {
		t.Fatalf("branch %q does not carry the webhook/ prefix the safe-git guard requires", a.Branch)
	}
}
