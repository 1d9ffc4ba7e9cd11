// Package index maintains a modernc.org/sqlite side table mirroring branch
// state summaries so readers such as brainstormctl can enumerate sessions
// without opening every JSON file on disk. It is never a source of truth:
// Store.List enumerates the state directory itself and only adds rows for
// sessions the index does not yet have; existing rows are refreshed by the
// store's own mutations, not by List.
package index

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Row is one session's summary as mirrored into the index.
type Row struct {
	SessionID   string
	Request     string
	Status      string // "exploring" | "done", derived from branch completion
	BranchCount int
	DoneCount   int
	UpdatedAt   time.Time
}

// Index wraps a single sqlite database file.
type Index struct {
	db *sql.DB
}

// Open opens (creating if absent) the index database at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("index: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention

	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	request      TEXT NOT NULL,
	status       TEXT NOT NULL,
	branch_count INTEGER NOT NULL,
	done_count   INTEGER NOT NULL,
	updated_at   TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: create schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Upsert writes or replaces a session's summary row.
func (ix *Index) Upsert(row Row) error {
	_, err := ix.db.Exec(`
INSERT INTO sessions (session_id, request, status, branch_count, done_count, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	request=excluded.request,
	status=excluded.status,
	branch_count=excluded.branch_count,
	done_count=excluded.done_count,
	updated_at=excluded.updated_at`,
		row.SessionID, row.Request, row.Status, row.BranchCount, row.DoneCount, row.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// Delete removes a session's row, e.g. after delete_session.
func (ix *Index) Delete(sessionID string) error {
	_, err := ix.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

// Get returns the row for sessionID and whether it was found.
func (ix *Index) Get(sessionID string) (Row, bool, error) {
	var row Row
	var updatedAt string
	err := ix.db.QueryRow(`SELECT session_id, request, status, branch_count, done_count, updated_at FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&row.SessionID, &row.Request, &row.Status, &row.BranchCount, &row.DoneCount, &updatedAt)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	row.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	return row, true, err
}

// Rows returns every mirrored summary row.
func (ix *Index) Rows() ([]Row, error) {
	rows, err := ix.db.Query(`SELECT session_id, request, status, branch_count, done_count, updated_at FROM sessions ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var updatedAt string
		if err := rows.Scan(&r.SessionID, &r.Request, &r.Status, &r.BranchCount, &r.DoneCount, &updatedAt); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ix *Index) Close() error {
	return ix.db.Close()
}
