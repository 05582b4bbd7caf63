package orchestrator

import (
	"strings"
	"testing"

	"github.com/h4mn/skybridge/pkg/snapshot"
)

func TestDetectCommitType_MatchesKnownLabelsAndDefaultsToChore(t *testing.T) {
	cases := []struct {
		labels []string
		want   string
	}{
		{[]string{"bug"}, "fix"},
		{[]string{"Enhancement"}, "feat"},
		{[]string{"documentation"}, "docs"},
		{[]string{"unrelated-label"}, "chore"},
		{nil, "chore"},
	}
	for _, tt := range cases {
		if got := detectCommitType(tt.labels); got != tt.want {
			t.Errorf("detectCommitType(%v) = %q, want %q", tt.labels, got, tt.want)
		}
	}
}

func TestGenerateCommitMessage_FollowsConventionalCommitsShape(t *testing.T) {
	diff := &snapshot.Diff{Changes: []snapshot.FileChange{
		{Op: snapshot.OpCreate, Path: "a.go"},
		{Op: snapshot.OpModify, Path: "b.go"},
	}}
	msg := generateCommitMessage(42, "Issue #42: Fix the flaky login test", []string{"bug"}, diff)

	if !strings.HasPrefix(msg, "fix: ") {
		t.Fatalf("message = %q, want fix: prefix", msg)
	}
	if strings.Contains(msg, "Issue #42") || strings.Contains(msg, "#42:") {
		t.Fatalf("message still contains issue-number noise from the title: %q", msg)
	}
	if !strings.Contains(msg, "Fixes #42") {
		t.Fatalf("message missing issue reference: %q", msg)
	}
	if !strings.Contains(msg, "1 created, 1 modified, 0 deleted") {
		t.Fatalf("message missing diff stat: %q", msg)
	}
}

func TestGenerateCommitMessage_TruncatesLongTitleAndCapsTotalLength(t *testing.T) {
	longTitle := strings.Repeat("a very long issue title indeed ", 10)
	diff := &snapshot.Diff{}
	msg := generateCommitMessage(1, longTitle, nil, diff)
	if len(msg) > maxCommitMessageLen {
		t.Fatalf("message length %d exceeds cap %d", len(msg), maxCommitMessageLen)
	}
	if !strings.HasPrefix(msg, "chore: ") {
		t.Fatalf("message = %q, want chore: prefix for unlabelled issue", msg)
	}
}
