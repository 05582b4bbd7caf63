package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// Operation classifies a single file-level change between two snapshots,
// mirroring original_source's DiffChange enum (added/removed/modified/
// moved).
type Operation string

const (
	OpCreate Operation = "added"
	OpModify Operation = "modified"
	OpDelete Operation = "removed"
	OpMove   Operation = "moved"
)

// FileChange is one file's delta between a before and after Snapshot,
// mirroring original_source's DiffItem.
type FileChange struct {
	Op        Operation `json:"op"`
	Path      string    `json:"path"`
	OldPath   string    `json:"old_path,omitempty"` // set only for OpMove
	SizeDelta int64     `json:"size_delta"`         // after size minus before size (negative for OpDelete)
}

// DiffSummary aggregates a Diff's changes, mirroring original_source's
// DiffSummary.
type DiffSummary struct {
	Added     int   `json:"added"`
	Removed   int   `json:"removed"`
	Modified  int   `json:"modified"`
	Moved     int   `json:"moved"`
	SizeDelta int64 `json:"size_delta"`
}

// Diff is the ordered set of file changes between two snapshots of the
// same root, plus enough identity to attribute it to a job.
type Diff struct {
	JobID      domain.EntityID  `json:"job_id"`
	ComputedAt domain.Timestamp `json:"computed_at"`
	Summary    DiffSummary      `json:"summary"`
	Changes    []FileChange     `json:"changes"`
}

// Compute derives the Diff between before and after. Paths are compared by
// content hash: present in after but not before is a create, present in
// both with a different hash is a modify, present in before but not after
// is a delete. A delete and a create that share identical file content are
// reclassified as a single move — a renamed or relocated file has the
// same hash at a different path.
func Compute(jobID domain.EntityID, before, after *Snapshot) *Diff {
	before.ensureIndex()
	after.ensureIndex()

	d := &Diff{JobID: jobID, ComputedAt: domain.Now()}

	var created, deleted []FileRecord
	for _, path := range after.Paths() {
		afterRec := after.byPath[path]
		if beforeRec, existed := before.byPath[path]; !existed {
			created = append(created, afterRec)
		} else if beforeRec.Hash != afterRec.Hash {
			d.Changes = append(d.Changes, FileChange{Op: OpModify, Path: path, SizeDelta: afterRec.Size - beforeRec.Size})
		}
	}
	for _, path := range before.Paths() {
		if _, stillExists := after.byPath[path]; !stillExists {
			deleted = append(deleted, before.byPath[path])
		}
	}

	deletedByHash := make(map[string]int, len(deleted))
	for i, rec := range deleted {
		deletedByHash[rec.Hash] = i
	}
	consumed := make(map[int]bool, len(deleted))
	for _, rec := range created {
		if i, ok := deletedByHash[rec.Hash]; ok && !consumed[i] {
			consumed[i] = true
			d.Changes = append(d.Changes, FileChange{
				Op: OpMove, Path: rec.Path, OldPath: deleted[i].Path,
				SizeDelta: rec.Size - deleted[i].Size,
			})
			continue
		}
		d.Changes = append(d.Changes, FileChange{Op: OpCreate, Path: rec.Path, SizeDelta: rec.Size})
	}
	for i, rec := range deleted {
		if consumed[i] {
			continue
		}
		d.Changes = append(d.Changes, FileChange{Op: OpDelete, Path: rec.Path, SizeDelta: -rec.Size})
	}

	d.Summary = summarize(d.Changes)
	return d
}

func summarize(changes []FileChange) DiffSummary {
	var s DiffSummary
	for _, c := range changes {
		switch c.Op {
		case OpCreate:
			s.Added++
		case OpModify:
			s.Modified++
		case OpDelete:
			s.Removed++
		case OpMove:
			s.Moved++
		}
		s.SizeDelta += c.SizeDelta
	}
	return s
}

// Empty reports whether the diff touches no files — the success-no-changes
// outcome in the agent execution failure taxonomy.
func (d *Diff) Empty() bool { return len(d.Changes) == 0 }

// Stat summarizes a diff the way `git diff --stat` would, for commit
// message generation and event payloads.
type Stat struct {
	Created  int
	Modified int
	Deleted  int
}

func (d *Diff) Stat() Stat {
	var s Stat
	for _, c := range d.Changes {
		switch c.Op {
		case OpCreate:
			s.Created++
		case OpModify:
			s.Modified++
		case OpDelete:
			s.Deleted++
		}
	}
	return s
}

// CopyTo replays the file content present in srcRoot onto dstRoot for
// every change in the diff, reconstructing `after` from `before` plus the
// diff — the round-trip law Apply(Compute(A,B), A) == B depends on.
func (d *Diff) CopyTo(srcRoot, dstRoot string) error {
	for _, change := range d.Changes {
		if strings.Contains(change.Path, "..") || strings.Contains(change.OldPath, "..") {
			return skyerr.New(skyerr.KindGuardrail, "Diff.CopyTo", "path traversal in diff: "+change.Path)
		}
		dst := filepath.Join(dstRoot, change.Path)
		switch change.Op {
		case OpCreate, OpModify, OpMove:
			src := filepath.Join(srcRoot, change.Path)
			data, err := os.ReadFile(src)
			if err != nil {
				return skyerr.Wrap(skyerr.KindUnavailable, "Diff.CopyTo", fmt.Sprintf("read %s", change.Path), err)
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return skyerr.Wrap(skyerr.KindUnavailable, "Diff.CopyTo", "mkdir destination", err)
			}
			if err := os.WriteFile(dst, data, 0o644); err != nil {
				return skyerr.Wrap(skyerr.KindUnavailable, "Diff.CopyTo", fmt.Sprintf("write %s", change.Path), err)
			}
			if change.Op == OpMove && change.OldPath != "" {
				old := filepath.Join(dstRoot, change.OldPath)
				if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
					return skyerr.Wrap(skyerr.KindUnavailable, "Diff.CopyTo", fmt.Sprintf("remove moved-from %s", change.OldPath), err)
				}
			}
		case OpDelete:
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				return skyerr.Wrap(skyerr.KindUnavailable, "Diff.CopyTo", fmt.Sprintf("remove %s", change.Path), err)
			}
		}
	}
	return nil
}
