package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/h4mn/skybridge/pkg/domain"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSnapshot_RoundTripIdempotence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "pkg/util.go", "package pkg\n")

	first, err := Take(root)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	second, err := Take(root)
	if err != nil {
		t.Fatalf("Take (2): %v", err)
	}
	if !first.Equal(second) {
		t.Fatalf("two snapshots of an untouched tree are not equal")
	}

	diff := Compute(domain.NewID(), first, second)
	if !diff.Empty() {
		t.Fatalf("diff between identical snapshots is not empty: %+v", diff.Changes)
	}
}

func TestCompute_DetectsCreateModifyDelete(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", "package main\n")
	writeFile(t, root, "remove.go", "package main // doomed\n")
	before, err := Take(root)
	if err != nil {
		t.Fatalf("Take before: %v", err)
	}

	writeFile(t, root, "keep.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "new.go", "package main // brand new\n")
	if err := os.Remove(filepath.Join(root, "remove.go")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	after, err := Take(root)
	if err != nil {
		t.Fatalf("Take after: %v", err)
	}

	diff := Compute(domain.NewID(), before, after)
	ops := map[string]Operation{}
	for _, c := range diff.Changes {
		ops[c.Path] = c.Op
	}
	if ops["keep.go"] != OpModify {
		t.Errorf("keep.go op = %q, want modify", ops["keep.go"])
	}
	if ops["new.go"] != OpCreate {
		t.Errorf("new.go op = %q, want create", ops["new.go"])
	}
	if ops["remove.go"] != OpDelete {
		t.Errorf("remove.go op = %q, want delete", ops["remove.go"])
	}
	if diff.Summary.Added != 1 || diff.Summary.Modified != 1 || diff.Summary.Removed != 1 || diff.Summary.Moved != 0 {
		t.Errorf("summary = %+v, want 1 added/1 modified/1 removed/0 moved", diff.Summary)
	}
}

func TestCompute_DetectsMoveByIdenticalContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "old/name.go", "package moved\n")
	before, err := Take(root)
	if err != nil {
		t.Fatalf("Take before: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(root, "new"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Rename(filepath.Join(root, "old/name.go"), filepath.Join(root, "new/name.go")); err != nil {
		t.Fatalf("rename: %v", err)
	}

	after, err := Take(root)
	if err != nil {
		t.Fatalf("Take after: %v", err)
	}

	diff := Compute(domain.NewID(), before, after)
	if len(diff.Changes) != 1 {
		t.Fatalf("changes = %+v, want exactly one move", diff.Changes)
	}
	change := diff.Changes[0]
	if change.Op != OpMove || change.Path != "new/name.go" || change.OldPath != "old/name.go" {
		t.Fatalf("change = %+v, want a move from old/name.go to new/name.go", change)
	}
	if diff.Summary.Moved != 1 {
		t.Fatalf("summary.Moved = %d, want 1", diff.Summary.Moved)
	}
}

func TestDiff_CopyToReconstructsAfterFromBefore(t *testing.T) {
	before := t.TempDir()
	writeFile(t, before, "a.txt", "v1")
	writeFile(t, before, "b.txt", "unchanged")
	beforeSnap, err := Take(before)
	if err != nil {
		t.Fatalf("Take before: %v", err)
	}

	after := t.TempDir()
	writeFile(t, after, "a.txt", "v2")
	writeFile(t, after, "b.txt", "unchanged")
	writeFile(t, after, "c.txt", "new")
	afterSnap, err := Take(after)
	if err != nil {
		t.Fatalf("Take after: %v", err)
	}

	diff := Compute(domain.NewID(), beforeSnap, afterSnap)

	dst := t.TempDir()
	writeFile(t, dst, "a.txt", "v1")
	writeFile(t, dst, "b.txt", "unchanged")
	if err := diff.CopyTo(after, dst); err != nil {
		t.Fatalf("CopyTo: %v", err)
	}

	dstSnap, err := Take(dst)
	if err != nil {
		t.Fatalf("Take dst: %v", err)
	}
	if !dstSnap.Equal(afterSnap) {
		t.Fatalf("reconstructed tree does not match after snapshot")
	}
}
