package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// Manager creates and tears down one git worktree per job, grounded on
// original_source's WorktreeManager: git worktree add/remove shelled out
// with a bounded timeout, never python subprocess shortcuts.
type Manager struct {
	repoPath   string
	basePath   string
	baseBranch string
	timeout    time.Duration

	mu   sync.Mutex
	seen map[string]int // suffix disambiguation for same-issue collisions within a run
}

// NewManager creates a worktree manager rooted at basePath, branching new
// worktrees off baseBranch inside the git repository at repoPath.
func NewManager(repoPath, basePath, baseBranch string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		repoPath:   repoPath,
		basePath:   basePath,
		baseBranch: baseBranch,
		timeout:    timeout,
		seen:       make(map[string]int),
	}
}

// Names is the deterministic (path, branch) pair for a job. The job id is
// embedded in both so two jobs can never collide, even for the same
// source+issue pair racing each other.
type Names struct {
	Path   string
	Branch string
}

// NamesFor computes the deterministic worktree path and branch name for a
// job. jobID should be short and filesystem-safe (the job's EntityID hex
// string already is).
func NamesFor(basePath, source string, issueNumber int, jobID string) Names {
	suffix := jobID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	dirName := fmt.Sprintf("skybridge-%s-%d-%s", source, issueNumber, suffix)
	branch := fmt.Sprintf("webhook/%s/issue/%d/%s", source, issueNumber, suffix)
	return Names{
		Path:   filepath.Join(basePath, dirName),
		Branch: branch,
	}
}

// Create runs `git worktree add <path> -b <branch> <baseBranch>` from the
// repository root and returns the resulting Names.
func (m *Manager) Create(ctx context.Context, source string, issueNumber int, jobID string) (Names, error) {
	names := NamesFor(m.basePath, source, issueNumber, jobID)

	if err := os.MkdirAll(m.basePath, 0o755); err != nil {
		return names, skyerr.Wrap(skyerr.KindUnavailable, "Manager.Create", "create worktree base dir", err)
	}

	cmd := fmt.Sprintf("git worktree add %s -b %s %s", quoteArg(names.Path), quoteArg(names.Branch), quoteArg(m.baseBranch))
	if _, err := SafeGit(ctx, cmd, m.repoPath, m.timeout); err != nil {
		logger.ErrorCF("worktree", "create failed", map[string]interface{}{
			"source": source, "issue": issueNumber, "error": err.Error(),
		})
		return names, err
	}
	logger.InfoCF("worktree", "created", map[string]interface{}{
		"path": names.Path, "branch": names.Branch,
	})
	return names, nil
}

// Remove runs `git worktree remove <path>` from the repository root.
// Callers should treat failure as a CleanupFailed condition on the job
// rather than retry the whole job: the agent's work already landed.
func (m *Manager) Remove(ctx context.Context, path string) error {
	cmd := fmt.Sprintf("git worktree remove %s", quoteArg(path))
	if _, err := SafeGit(ctx, cmd, m.repoPath, m.timeout); err != nil {
		logger.ErrorCF("worktree", "remove failed", map[string]interface{}{"path": path, "error": err.Error()})
		return err
	}
	logger.InfoCF("worktree", "removed", map[string]interface{}{"path": path})
	return nil
}

// Entry describes one line of `git worktree list --porcelain`.
type Entry struct {
	Path     string
	Head     string
	Branch   string
	Detached bool
}

// List runs `git worktree list --porcelain` and parses its output.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	res, err := SafeGit(ctx, "git worktree list --porcelain", m.repoPath, m.timeout)
	if err != nil {
		return nil, err
	}
	return parsePorcelain(res.Stdout), nil
}

func parsePorcelain(out string) []Entry {
	var entries []Entry
	var cur *Entry
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur != nil {
				entries = append(entries, *cur)
				cur = nil
			}
		case strings.HasPrefix(line, "worktree "):
			if cur != nil {
				entries = append(entries, *cur)
			}
			cur = &Entry{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			if cur != nil {
				cur.Head = strings.TrimPrefix(line, "HEAD ")
			}
		case strings.HasPrefix(line, "branch "):
			if cur != nil {
				cur.Branch = strings.TrimPrefix(line, "branch ")
			}
		case line == "detached":
			if cur != nil {
				cur.Detached = true
			}
		}
	}
	if cur != nil {
		entries = append(entries, *cur)
	}
	return entries
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t'\"\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// uniqueSuffix disambiguates within a single process run when two jobs
// land on the same source+issue (e.g. a relabel arriving while the
// original job is still in flight). Unused by NamesFor directly since the
// job id already guarantees uniqueness, but kept available for callers
// that want a short human-readable counter instead.
func (m *Manager) uniqueSuffix(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key]++
	return m.seen[key]
}
