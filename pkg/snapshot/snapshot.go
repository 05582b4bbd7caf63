// Package snapshot captures the file-content state of a worktree before and
// after an agent run, computes the Diff between two snapshots, and can
// replay that Diff onto a tree or run a post-apply verification command.
// Grounded on original_source's runtime/observability/snapshot package
// (models.py's Snapshot/SnapshotStats/Diff/DiffSummary shapes and
// workspace.py's fileops-subject convention) — the teacher repo itself
// carries no snapshot/diff concept, only the agent-authored structured
// patches in its codex package, which this diverges from: codex's diff is
// *authored* by an LLM against a declared schema, ours is *computed* by
// walking the filesystem, since the agent here edits the worktree directly
// with its own tools rather than emitting JSON patches.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// Subject classifies what domain a snapshot observes, mirroring
// original_source's SnapshotSubject enum (fileops | tasks | health |
// custom). Skybridge only ever fingerprints a worktree's files.
type Subject string

const SubjectFileops Subject = "fileops"

// FileRecord is one file's identity inside a snapshot.
type FileRecord struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"` // sha256 hex digest of the file's content
}

// Stats aggregates a snapshot's file tree, mirroring original_source's
// SnapshotStats.
type Stats struct {
	TotalFiles int   `json:"total_files"`
	TotalDirs  int   `json:"total_dirs"`
	TotalSize  int64 `json:"total_size"`
}

// Snapshot is a content-addressed fingerprint of every regular file under
// a root at a point in time. It intentionally does not retain file
// content — only enough identity (path, size, hash) to detect
// create/modify/delete/move between two snapshots of the same tree.
type Snapshot struct {
	Root       string           `json:"-"`
	SnapshotID string           `json:"snapshot_id"`
	TakenAt    domain.Timestamp `json:"timestamp"`
	Subject    Subject          `json:"subject"`
	Target     string           `json:"target"`
	Stats      Stats            `json:"stats"`
	Files      []FileRecord     `json:"files"`
	GitHash    string           `json:"git_hash,omitempty"`
	GitBranch  string           `json:"git_branch,omitempty"`

	byPath map[string]FileRecord // lazily built; see ensureIndex
}

// ignoredDirs are never walked — .git churns on every git command and
// would make every snapshot look dirty even when the agent touched
// nothing.
var ignoredDirs = map[string]bool{
	".git": true,
}

// Take walks root and fingerprints every regular file into a Snapshot.
func Take(root string) (*Snapshot, error) {
	snap := &Snapshot{
		Root:       root,
		SnapshotID: domain.NewID().String(),
		TakenAt:    domain.Now(),
		Subject:    SubjectFileops,
		Target:     root,
		byPath:     make(map[string]FileRecord),
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			if path != root {
				snap.Stats.TotalDirs++
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		rec := FileRecord{Path: rel, Size: info.Size(), Hash: hex.EncodeToString(sum[:])}
		snap.Files = append(snap.Files, rec)
		snap.byPath[rel] = rec
		snap.Stats.TotalFiles++
		snap.Stats.TotalSize += rec.Size
		return nil
	})
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "snapshot.Take", "walk worktree", err)
	}
	sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].Path < snap.Files[j].Path })
	snap.GitHash, snap.GitBranch = gitIdentity(root)
	return snap, nil
}

// gitIdentity best-effort reads the worktree's current commit and branch.
// A root that isn't a git checkout (or a git binary that isn't on PATH)
// just leaves both fields empty — git identity is optional metadata, not
// a precondition for snapshotting.
func gitIdentity(root string) (hash, branch string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return runGit(ctx, root, "rev-parse", "HEAD"), runGit(ctx, root, "rev-parse", "--abbrev-ref", "HEAD")
}

func runGit(ctx context.Context, dir string, args ...string) string {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Paths returns the snapshot's file paths sorted for deterministic
// iteration and comparison output.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}

// ensureIndex builds the path->record index on demand, so a Snapshot
// that was deserialized from storage (where byPath is never populated)
// still supports lookup.
func (s *Snapshot) ensureIndex() map[string]FileRecord {
	if s.byPath == nil {
		s.byPath = make(map[string]FileRecord, len(s.Files))
		for _, f := range s.Files {
			s.byPath[f.Path] = f
		}
	}
	return s.byPath
}

// Equal reports whether two snapshots describe identical file content.
// Round-trip law: Take(root) right after Take(root) with no intervening
// write must always compare Equal.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if len(s.Files) != len(other.Files) {
		return false
	}
	otherIndex := other.ensureIndex()
	for _, f := range s.ensureIndex() {
		rec, ok := otherIndex[f.Path]
		if !ok || rec.Hash != f.Hash {
			return false
		}
	}
	return true
}
