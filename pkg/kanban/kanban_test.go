package kanban

import (
	"path/filepath"
	"testing"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "kanban.db")
	b, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestListForAgentType_KnownAndUnknown(t *testing.T) {
	cases := map[string]string{
		"analyze-issue": "Brainstorm",
		"resolve-issue": "Em Andamento",
		"review-issue":  "Em Revisão",
		"publish-issue": "Publicar",
		"unmapped-type": DefaultList,
	}
	for agentType, want := range cases {
		if got := ListForAgentType(agentType); got != want {
			t.Errorf("ListForAgentType(%q) = %q, want %q", agentType, got, want)
		}
	}
}

func TestEnsureCard_CreatesOnceAndIsIdempotent(t *testing.T) {
	b := newTestBoard(t)

	first, err := b.EnsureCard(42, "https://github.com/x/y/issues/42", "fix login bug")
	if err != nil {
		t.Fatalf("EnsureCard: %v", err)
	}
	if first.ListName != DefaultList {
		t.Fatalf("list = %q, want %q", first.ListName, DefaultList)
	}

	second, err := b.EnsureCard(42, "https://github.com/x/y/issues/42", "fix login bug")
	if err != nil {
		t.Fatalf("EnsureCard (2): %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("EnsureCard created a duplicate card for the same issue: %s vs %s", first.ID, second.ID)
	}
}

func TestStartProcessing_ReservesPositionZeroAndShiftsOthers(t *testing.T) {
	b := newTestBoard(t)

	first, err := b.StartProcessing(1, "", "bug A", "resolve-issue", "job-1")
	if err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	if first.Position != 0 || !first.BeingProcessed {
		t.Fatalf("first card = %+v, want position 0 and being_processed", first)
	}

	second, err := b.StartProcessing(2, "", "bug B", "resolve-issue", "job-2")
	if err != nil {
		t.Fatalf("StartProcessing (2): %v", err)
	}
	if second.Position != 0 {
		t.Fatalf("second card position = %d, want 0 (reserved)", second.Position)
	}

	reloadedFirst, err := b.GetCard(first.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if reloadedFirst.Position != 1 {
		t.Fatalf("first card shifted position = %d, want 1", reloadedFirst.Position)
	}
}

func TestStartProcessing_MovesExistingCardFromDefaultList(t *testing.T) {
	b := newTestBoard(t)

	card, err := b.EnsureCard(5, "", "investigate")
	if err != nil {
		t.Fatalf("EnsureCard: %v", err)
	}
	if card.ListName != DefaultList {
		t.Fatalf("list = %q, want %q", card.ListName, DefaultList)
	}

	moved, err := b.StartProcessing(5, "", "investigate", "analyze-issue", "job-9")
	if err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	if moved.ID != card.ID {
		t.Fatalf("StartProcessing created a second card instead of moving the existing one")
	}
	if moved.ListName != "Brainstorm" {
		t.Fatalf("list = %q, want Brainstorm", moved.ListName)
	}
}

func TestFinishProcessing_ClearsFlagsOnSuccessAndFailure(t *testing.T) {
	b := newTestBoard(t)

	card, err := b.StartProcessing(3, "", "bug C", "resolve-issue", "job-3")
	if err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	if err := b.FinishProcessing("job-3", true, "merged"); err != nil {
		t.Fatalf("FinishProcessing: %v", err)
	}

	reloaded, err := b.GetCard(card.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if reloaded.BeingProcessed {
		t.Fatalf("being_processed still true after FinishProcessing(success)")
	}
	if reloaded.ProcessingJobID != nil {
		t.Fatalf("processing_job_id still set after FinishProcessing: %v", *reloaded.ProcessingJobID)
	}
}

func TestFinishProcessing_UnknownJobIsNotFound(t *testing.T) {
	b := newTestBoard(t)
	err := b.FinishProcessing("no-such-job", false, "crashed")
	if err == nil {
		t.Fatalf("expected error for unknown job id")
	}
}

func TestUpdateLabels_RecomputesTags(t *testing.T) {
	b := newTestBoard(t)
	card, err := b.EnsureCard(8, "", "needs labels")
	if err != nil {
		t.Fatalf("EnsureCard: %v", err)
	}
	if err := b.UpdateLabels(8, []string{"bug", "priority-high"}); err != nil {
		t.Fatalf("UpdateLabels: %v", err)
	}
	reloaded, err := b.GetCard(card.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if len(reloaded.Labels) != 2 || reloaded.Labels[0] != "bug" {
		t.Fatalf("labels = %v, want [bug priority-high]", reloaded.Labels)
	}
}

func TestGetCardByIssueNumber_ReturnsNilWithoutErrorWhenMissing(t *testing.T) {
	b := newTestBoard(t)
	card, err := b.GetCardByIssueNumber(999)
	if err != nil {
		t.Fatalf("GetCardByIssueNumber: %v", err)
	}
	if card != nil {
		t.Fatalf("expected nil card, got %+v", card)
	}
}

func TestStats_CountsCardsPerList(t *testing.T) {
	b := newTestBoard(t)
	if _, err := b.EnsureCard(10, "", "a"); err != nil {
		t.Fatalf("EnsureCard: %v", err)
	}
	if _, err := b.StartProcessing(11, "", "b", "review-issue", "job-11"); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}

	stats, err := b.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("total = %d, want 2", stats.Total)
	}
	if stats.ByList["Em Revisão"] != 1 {
		t.Fatalf("Em Revisão count = %d, want 1", stats.ByList["Em Revisão"])
	}
	if stats.ByList[DefaultList] != 1 {
		t.Fatalf("%s count = %d, want 1", DefaultList, stats.ByList[DefaultList])
	}
}
