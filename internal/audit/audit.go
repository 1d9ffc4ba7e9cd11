// Package audit records every branch-state mutation to an append-only
// badger/v4 log, keyed by session id and a per-session sequence number.
// It is diagnostic only: nothing in branchstate or the orchestrator ever
// reads it back to decide anything, matching SPEC_FULL.md's "the JSON file
// is the durable state; the audit log is diagnostic" note.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Record is one immutable audit entry.
type Record struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

// Log appends mutation records. Implementations must tolerate concurrent
// Append calls across distinct session ids.
type Log interface {
	Append(sessionID, event string, payload any) error
	Close() error
}

// NoopLog discards every record; used when no audit Log is configured or
// the badger log cannot be opened.
type NoopLog struct{}

func (NoopLog) Append(string, string, any) error { return nil }
func (NoopLog) Close() error                     { return nil }

// BadgerLog persists records under dir, one badger sequence counter per
// session id so records for a session are strictly ordered by Seq.
type BadgerLog struct {
	db   *badger.DB
	mu   sync.Mutex // guards seqs
	seqs map[string]*badger.Sequence
}

// Open opens (or creates) the badger database rooted at dir.
func Open(dir string) (*BadgerLog, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open badger at %q: %w", dir, err)
	}
	return &BadgerLog{db: db, seqs: make(map[string]*badger.Sequence)}, nil
}

func (l *BadgerLog) sequenceFor(sessionID string) (*badger.Sequence, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq, ok := l.seqs[sessionID]; ok {
		return seq, nil
	}
	seq, err := l.db.GetSequence([]byte("seq:"+sessionID), 100)
	if err != nil {
		return nil, err
	}
	l.seqs[sessionID] = seq
	return seq, nil
}

// Append writes one record. Records of a session are numbered from 1. The
// key is "session_id:00000000000000000042" so a prefix scan of a session
// yields its history in event order.
func (l *BadgerLog) Append(sessionID, event string, payload any) error {
	seq, err := l.sequenceFor(sessionID)
	if err != nil {
		return fmt.Errorf("audit: sequence for %q: %w", sessionID, err)
	}
	n, err := seq.Next()
	if err != nil {
		return fmt.Errorf("audit: next sequence for %q: %w", sessionID, err)
	}
	n++ // badger sequences start at 0

	rec := Record{SessionID: sessionID, Seq: n, Event: event, Payload: payload, At: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	key := fmt.Sprintf("%s:%020d", sessionID, n)
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Replay returns every record for sessionID in Seq order, for debugging.
func (l *BadgerLog) Replay(sessionID string) ([]Record, error) {
	var records []Record
	prefix := []byte(sessionID + ":")
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func (l *BadgerLog) Close() error {
	for _, seq := range l.seqs {
		_ = seq.Release()
	}
	return l.db.Close()
}
