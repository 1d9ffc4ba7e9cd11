package index

import (
	"path/filepath"
	"testing"
	"time"
)

func TestUpsertGetRoundTrip(t *testing.T) {
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ix.Close()

	row := Row{SessionID: "ses_a", Request: "req", Status: "exploring", BranchCount: 3, DoneCount: 1, UpdatedAt: time.Now().Truncate(time.Millisecond)}
	if err := ix.Upsert(row); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, found, err := ix.Get("ses_a")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if got.Request != row.Request || got.BranchCount != row.BranchCount || got.DoneCount != row.DoneCount {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, row)
	}
}

func TestUpsertReplacesExistingRow(t *testing.T) {
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ix.Close()

	base := Row{SessionID: "ses_a", Request: "req", Status: "exploring", BranchCount: 3, DoneCount: 0, UpdatedAt: time.Now().Truncate(time.Millisecond)}
	if err := ix.Upsert(base); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	base.DoneCount = 3
	base.Status = "done"
	if err := ix.Upsert(base); err != nil {
		t.Fatalf("Upsert (update): %v", err)
	}

	got, _, _ := ix.Get("ses_a")
	if got.DoneCount != 3 || got.Status != "done" {
		t.Fatalf("expected updated row, got %+v", got)
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ix.Close()

	if err := ix.Upsert(Row{SessionID: "ses_a", UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ix.Delete("ses_a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := ix.Get("ses_a"); found {
		t.Fatal("expected row to be gone")
	}
}

func TestRowsReturnsAllSorted(t *testing.T) {
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ix.Close()

	for _, id := range []string{"ses_b", "ses_a", "ses_c"} {
		if err := ix.Upsert(Row{SessionID: id, UpdatedAt: time.Now()}); err != nil {
			t.Fatalf("Upsert(%s): %v", id, err)
		}
	}

	rows, err := ix.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 3 || rows[0].SessionID != "ses_a" || rows[2].SessionID != "ses_c" {
		t.Fatalf("expected sorted rows, got %+v", rows)
	}
}
