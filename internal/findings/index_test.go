package findings

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	backend, err := NewLocalBackend(filepath.Join(t.TempDir(), "findings.bin"), LocalHashEmbedder(256), nil)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return NewIndex(backend)
}

func TestIsDuplicateQuestionDetectsNearIdenticalText(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.RecordQuestion(ctx, "ses_a", "b1", "q1", "Which services should get a healthcheck endpoint?"); err != nil {
		t.Fatalf("RecordQuestion: %v", err)
	}

	if !ix.IsDuplicateQuestion(ctx, "b1", "Which services should get a healthcheck endpoint?") {
		t.Fatal("expected identical text to be flagged as duplicate")
	}
}

func TestIsDuplicateQuestionIgnoresOtherBranches(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.RecordQuestion(ctx, "ses_a", "b1", "q1", "Which services should get a healthcheck endpoint?"); err != nil {
		t.Fatalf("RecordQuestion: %v", err)
	}

	if ix.IsDuplicateQuestion(ctx, "b2", "Which services should get a healthcheck endpoint?") {
		t.Fatal("expected duplicate check to be scoped to its own branch")
	}
}

func TestSearchRelatedFindingsReturnsRecordedFindings(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.RecordFinding(ctx, "ses_a", "b1", "Response format", "The API responds with JSON."); err != nil {
		t.Fatalf("RecordFinding: %v", err)
	}
	if err := ix.RecordFinding(ctx, "ses_a", "b2", "Deployment target", "Deploys to a single VM."); err != nil {
		t.Fatalf("RecordFinding: %v", err)
	}

	hits, err := ix.SearchRelatedFindings(ctx, "Response format", 5)
	if err != nil {
		t.Fatalf("SearchRelatedFindings: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one related finding")
	}
	found := false
	for _, h := range hits {
		if h.SessionID == "ses_a" && h.Finding == "The API responds with JSON." {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recorded finding among hits, got %+v", hits)
	}
}
