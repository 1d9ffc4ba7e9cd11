package branchstate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/brainstormd/brainstormd/internal/branchstate/index"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(Config{Dir: t.TempDir()})
}

func seedFiveBranches() []BranchSeed {
	var seeds []BranchSeed
	for i := 1; i <= 5; i++ {
		seeds = append(seeds, BranchSeed{ID: fmt.Sprintf("branch%d", i), Scope: fmt.Sprintf("scope %d", i)})
	}
	return seeds
}

func TestCreateSessionRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("ses_a", "req", seedFiveBranches()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession("ses_a", "req", seedFiveBranches()); err != ErrSessionAlreadyExists {
		t.Fatalf("expected ErrSessionAlreadyExists, got %v", err)
	}
}

func TestBranchOrderIsPermutationOfBranches(t *testing.T) {
	s := newTestStore(t)
	seeds := seedFiveBranches()
	if err := s.CreateSession("ses_a", "req", seeds); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	st, ok := s.GetSession("ses_a")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if len(st.BranchOrder) != len(st.Branches) {
		t.Fatalf("branch_order length %d != branches length %d", len(st.BranchOrder), len(st.Branches))
	}
	for _, id := range st.BranchOrder {
		if _, ok := st.Branches[id]; !ok {
			t.Fatalf("branch_order contains unknown id %q", id)
		}
	}
}

func TestRecordAnswerIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("ses_a", "req", []BranchSeed{{ID: "b1", Scope: "s1"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AddQuestionToBranch("ses_a", "b1", QuestionSeed{ID: "q1", Type: "ask_text", Text: "?"}); err != nil {
		t.Fatalf("AddQuestionToBranch: %v", err)
	}

	if err := s.RecordAnswer("ses_a", "q1", map[string]any{"text": "first"}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if err := s.RecordAnswer("ses_a", "q1", map[string]any{"text": "second"}); err != nil {
		t.Fatalf("RecordAnswer (repeat): %v", err)
	}

	st, _ := s.GetSession("ses_a")
	q := st.Branches["b1"].Questions[0]
	if q.AnsweredAt == nil {
		t.Fatal("expected answered_at to be set")
	}
	got := q.Answer.(map[string]any)["text"]
	if got != "first" {
		t.Fatalf("expected first recorded answer to stick, got %v", got)
	}
}

func TestRecordAnswerUnknownQuestionIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("ses_a", "req", []BranchSeed{{ID: "b1", Scope: "s1"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.RecordAnswer("ses_a", "does-not-exist", "answer"); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}

func TestCompleteBranchIsFinal(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("ses_a", "req", []BranchSeed{{ID: "b1", Scope: "s1"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AddQuestionToBranch("ses_a", "b1", QuestionSeed{ID: "q1", Type: "ask_text", Text: "?"}); err != nil {
		t.Fatalf("AddQuestionToBranch: %v", err)
	}
	if err := s.CompleteBranch("ses_a", "b1", "the finding"); err != nil {
		t.Fatalf("CompleteBranch: %v", err)
	}

	if err := s.CompleteBranch("ses_a", "b1", "a different finding"); err != ErrBranchAlreadyDone {
		t.Fatalf("expected ErrBranchAlreadyDone, got %v", err)
	}
	if err := s.AddQuestionToBranch("ses_a", "b1", QuestionSeed{ID: "q2", Type: "ask_text", Text: "?"}); err != ErrBranchAlreadyDone {
		t.Fatalf("expected ErrBranchAlreadyDone on mutation of done branch, got %v", err)
	}

	st, _ := s.GetSession("ses_a")
	if st.Branches["b1"].Finding != "the finding" {
		t.Fatalf("expected finding to remain stable, got %q", st.Branches["b1"].Finding)
	}
	if len(st.Branches["b1"].Questions) != 1 {
		t.Fatalf("expected question list unchanged, got %d", len(st.Branches["b1"].Questions))
	}
}

func TestGetNextExploringBranchSkipsDone(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("ses_a", "req", []BranchSeed{{ID: "b1", Scope: "s1"}, {ID: "b2", Scope: "s2"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CompleteBranch("ses_a", "b1", "f1"); err != nil {
		t.Fatalf("CompleteBranch: %v", err)
	}

	b, ok := s.GetNextExploringBranch("ses_a")
	if !ok || b.ID != "b2" {
		t.Fatalf("expected b2 as next exploring branch, got %+v ok=%v", b, ok)
	}

	if err := s.CompleteBranch("ses_a", "b2", "f2"); err != nil {
		t.Fatalf("CompleteBranch: %v", err)
	}
	if _, ok := s.GetNextExploringBranch("ses_a"); ok {
		t.Fatal("expected no exploring branch once all are done")
	}
	if !s.IsSessionComplete("ses_a") {
		t.Fatal("expected session to be complete")
	}
}

// TestConcurrentRecordAnswerAcrossBranches is the literal "no lost writes"
// scenario from the testable properties: five concurrent RecordAnswer calls
// against five distinct branches must all be persisted.
func TestConcurrentRecordAnswerAcrossBranches(t *testing.T) {
	s := newTestStore(t)
	seeds := seedFiveBranches()
	if err := s.CreateSession("ses_a", "req", seeds); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for _, b := range seeds {
		qid := "q_concurrent_" + b.ID
		if err := s.AddQuestionToBranch("ses_a", b.ID, QuestionSeed{ID: qid, Type: "ask_text", Text: "?"}); err != nil {
			t.Fatalf("AddQuestionToBranch(%s): %v", b.ID, err)
		}
	}

	var wg sync.WaitGroup
	for i, b := range seeds {
		wg.Add(1)
		go func(i int, branchID string) {
			defer wg.Done()
			qid := "q_concurrent_" + branchID
			answer := map[string]any{"text": fmt.Sprintf("Answer %d", i+1)}
			if err := s.RecordAnswer("ses_a", qid, answer); err != nil {
				t.Errorf("RecordAnswer(%s): %v", qid, err)
			}
		}(i, b.ID)
	}
	wg.Wait()

	st, ok := s.GetSession("ses_a")
	if !ok {
		t.Fatal("expected session to exist")
	}
	for i, b := range seeds {
		q := st.Branches[b.ID].Questions[0]
		if q.AnsweredAt == nil {
			t.Fatalf("branch %s: expected answered_at set", b.ID)
		}
		want := fmt.Sprintf("Answer %d", i+1)
		got := q.Answer.(map[string]any)["text"]
		if got != want {
			t.Fatalf("branch %s: expected answer %q, got %v", b.ID, want, got)
		}
	}
}

func TestSaveThenLoadPreservesFields(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(Config{Dir: dir})
	if err := s.CreateSession("ses_a", "the request", []BranchSeed{{ID: "b1", Scope: "scope one"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.SetBrowserSessionID("ses_a", "browser-session-1"); err != nil {
		t.Fatalf("SetBrowserSessionID: %v", err)
	}

	reopened := NewStore(Config{Dir: dir})
	st, ok := reopened.GetSession("ses_a")
	if !ok {
		t.Fatal("expected session to reload from disk")
	}
	if st.Request != "the request" || st.BrowserSessionID != "browser-session-1" {
		t.Fatalf("fields did not survive save/load: %+v", st)
	}
	if st.Branches["b1"].Scope != "scope one" {
		t.Fatalf("branch scope did not survive save/load: %+v", st.Branches["b1"])
	}
}

func TestListEnumeratesPersistedSessions(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("ses_a", "req", []BranchSeed{{ID: "b1", Scope: "s1"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession("ses_b", "req2", []BranchSeed{{ID: "b1", Scope: "s1"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %v", ids)
	}
}

// TestListMatchesDiskEvenWithStaleIndexRow asserts List() always reflects
// state_dir's actual contents, even when the sqlite index still carries a
// row for a session whose JSON file was removed out from under it — the
// index is a cache of List's answer, never its source.
func TestListMatchesDiskEvenWithStaleIndexRow(t *testing.T) {
	dir := t.TempDir()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	defer ix.Close()

	s := NewStore(Config{Dir: dir, Index: ix})
	if err := s.CreateSession("ses_a", "req", []BranchSeed{{ID: "b1", Scope: "s1"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession("ses_b", "req2", []BranchSeed{{ID: "b1", Scope: "s1"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Warm the index.
	if _, err := s.List(); err != nil {
		t.Fatalf("List (warm): %v", err)
	}
	if _, found, _ := ix.Get("ses_a"); !found {
		t.Fatal("expected List to have warmed an index row for ses_a")
	}

	// Remove ses_a's JSON file directly, bypassing the store, leaving the
	// index row stale.
	if err := os.Remove(filepath.Join(dir, "ses_a.json")); err != nil {
		t.Fatalf("os.Remove: %v", err)
	}

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List (after stale index): %v", err)
	}
	if len(ids) != 1 || ids[0] != "ses_b" {
		t.Fatalf("expected List to match disk (only ses_b), got %v", ids)
	}
}

func TestDeleteSessionRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("ses_a", "req", []BranchSeed{{ID: "b1", Scope: "s1"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.DeleteSession("ses_a"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok := s.GetSession("ses_a"); ok {
		t.Fatal("expected session to be gone")
	}
	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty list, got %v", ids)
	}
}
