package orchestrator

import (
	"fmt"
	"strings"

	"github.com/h4mn/skybridge/pkg/snapshot"
)

// commitTypes maps a GitHub label to a Conventional Commits type, grounded
// on original_source's commit_message_generator.py COMMIT_TYPES table.
var commitTypes = map[string]string{
	"bug":           "fix",
	"fix":           "fix",
	"enhancement":   "feat",
	"feature":       "feat",
	"documentation": "docs",
	"refactor":      "refactor",
	"test":          "test",
	"chore":         "chore",
	"ci":            "ci",
	"perf":          "perf",
	"style":         "style",
}

const maxCommitMessageLen = 500

// detectCommitType picks the first label with a known mapping, defaulting
// to "chore" when nothing matches — same precedence original_source uses.
func detectCommitType(labels []string) string {
	for _, l := range labels {
		if t, ok := commitTypes[strings.ToLower(l)]; ok {
			return t
		}
	}
	return "chore"
}

// generateCommitMessage builds a deterministic Conventional Commits
// message from the issue's labels/title and the diff's stat line. This is
// the fallback path original_source falls back to when its advisory
// agent call returns nothing — here it is the only path, since spec.md's
// heuristic is specified as the generator, not a fallback of one.
func generateCommitMessage(issueNumber int, issueTitle string, labels []string, diff *snapshot.Diff) string {
	commitType := detectCommitType(labels)

	title := strings.TrimSpace(issueTitle)
	title = strings.ReplaceAll(title, fmt.Sprintf("Issue #%d", issueNumber), "")
	title = strings.ReplaceAll(title, fmt.Sprintf("#%d", issueNumber), "")
	title = strings.TrimSpace(title)
	if title != "" {
		title = strings.ToLower(title[:1]) + title[1:]
	}
	if len(title) > 72 {
		title = title[:69] + "..."
	}

	stat := diff.Stat()
	body := fmt.Sprintf("Files changed: %d created, %d modified, %d deleted.", stat.Created, stat.Modified, stat.Deleted)

	msg := fmt.Sprintf("%s: %s\n\n%s\n\nFixes #%d", commitType, title, body, issueNumber)
	if len(msg) > maxCommitMessageLen {
		msg = msg[:maxCommitMessageLen]
	}
	return msg
}
