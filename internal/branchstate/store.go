package branchstate

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/brainstormd/brainstormd/internal/audit"
	"github.com/brainstormd/brainstormd/internal/branchstate/index"
)

// Config configures a Store.
type Config struct {
	Dir    string // directory holding one JSON file per session
	Index  *index.Index
	Audit  audit.Log
	Logger *log.Logger
}

// Store is the durable branch-state store described in spec §4.3: one
// actor goroutine per session id serializes every mutation against that
// session, backed by an atomically-replaced JSON file plus an optional
// sqlite enumeration index and badger audit log.
type Store struct {
	dir string

	actorsMu sync.Mutex
	actors   map[string]*actor

	cacheMu sync.RWMutex
	cache   map[string]*BrainstormState

	idx    *index.Index
	audit  audit.Log
	logger *log.Logger
}

// NewStore constructs a Store rooted at cfg.Dir.
func NewStore(cfg Config) *Store {
	a := cfg.Audit
	if a == nil {
		a = audit.NoopLog{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		dir:    cfg.Dir,
		actors: make(map[string]*actor),
		cache:  make(map[string]*BrainstormState),
		idx:    cfg.Index,
		audit:  a,
		logger: logger,
	}
}

func (s *Store) getActor(sessionID string) *actor {
	s.actorsMu.Lock()
	defer s.actorsMu.Unlock()
	a, ok := s.actors[sessionID]
	if !ok {
		a = newActor()
		s.actors[sessionID] = a
	}
	return a
}

func (s *Store) dropActor(sessionID string) {
	s.actorsMu.Lock()
	a, ok := s.actors[sessionID]
	delete(s.actors, sessionID)
	s.actorsMu.Unlock()
	if ok {
		a.stop()
	}
}

func (s *Store) getCached(sessionID string) (*BrainstormState, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	st, ok := s.cache[sessionID]
	return st, ok
}

func (s *Store) setCached(sessionID string, st *BrainstormState) {
	s.cacheMu.Lock()
	s.cache[sessionID] = st
	s.cacheMu.Unlock()
}

func (s *Store) dropCached(sessionID string) {
	s.cacheMu.Lock()
	delete(s.cache, sessionID)
	s.cacheMu.Unlock()
}

// loaded returns the in-memory state for sessionID, reading it from disk
// and warming the cache on first access. Must only be called from within
// that session's actor.
func (s *Store) loaded(sessionID string) (*BrainstormState, error) {
	if st, ok := s.getCached(sessionID); ok {
		return st, nil
	}
	st, found, err := readStateFile(s.dir, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	s.setCached(sessionID, st)
	return st, nil
}

// persist writes st to disk, replaces the cached pointer, and mirrors the
// summary into the index. Must only be called from within st's actor.
func (s *Store) persist(st *BrainstormState) error {
	st.UpdatedAt = time.Now()
	if err := writeStateFile(s.dir, st); err != nil {
		return err
	}
	s.setCached(st.SessionID, st)
	s.upsertIndex(st)
	return nil
}

func (s *Store) upsertIndex(st *BrainstormState) {
	if s.idx == nil {
		return
	}
	total, done := st.branchCounts()
	status := string(BranchExploring)
	if total > 0 && done == total {
		status = string(BranchDone)
	}
	if err := s.idx.Upsert(index.Row{
		SessionID:   st.SessionID,
		Request:     st.Request,
		Status:      status,
		BranchCount: total,
		DoneCount:   done,
		UpdatedAt:   st.UpdatedAt,
	}); err != nil {
		s.logger.Printf("branchstate: index upsert failed for %s: %v", st.SessionID, err)
	}
}

func (s *Store) auditAppend(sessionID, event string, payload any) {
	if err := s.audit.Append(sessionID, event, payload); err != nil {
		s.logger.Printf("branchstate: audit append failed for %s/%s: %v", sessionID, event, err)
	}
}

// CreateSession initializes a new BrainstormState with every branch in
// status exploring, in the given order.
func (s *Store) CreateSession(sessionID, request string, branches []BranchSeed) error {
	a := s.getActor(sessionID)
	_, err := a.do(func() (any, error) {
		existing, err := s.loaded(sessionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrSessionAlreadyExists
		}

		now := time.Now()
		st := &BrainstormState{
			SessionID:   sessionID,
			Request:     request,
			CreatedAt:   now,
			UpdatedAt:   now,
			Branches:    make(map[string]*Branch, len(branches)),
			BranchOrder: make([]string, 0, len(branches)),
		}
		for _, b := range branches {
			st.Branches[b.ID] = &Branch{ID: b.ID, Scope: b.Scope, Status: BranchExploring}
			st.BranchOrder = append(st.BranchOrder, b.ID)
		}
		if err := s.persist(st); err != nil {
			return nil, err
		}
		branchScopes := make(map[string]string, len(branches))
		for _, b := range branches {
			branchScopes[b.ID] = b.Scope
		}
		s.auditAppend(sessionID, "create_session", map[string]any{
			"request": request, "branch_ids": st.BranchOrder, "branch_scopes": branchScopes,
		})
		return nil, nil
	})
	return err
}

// GetSession returns a defensive copy of the current state, or false if no
// such session is persisted.
func (s *Store) GetSession(sessionID string) (*BrainstormState, bool) {
	if st, ok := s.getCached(sessionID); ok {
		return st.clone(), true
	}
	st, found, err := readStateFile(s.dir, sessionID)
	if err != nil || !found {
		return nil, false
	}
	s.setCached(sessionID, st)
	return st.clone(), true
}

// SetBrowserSessionID attaches the live browser session id to sessionID's
// state.
func (s *Store) SetBrowserSessionID(sessionID, browserSessionID string) error {
	a := s.getActor(sessionID)
	_, err := a.do(func() (any, error) {
		st, err := s.loaded(sessionID)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, ErrSessionNotFound
		}
		next := st.clone()
		next.BrowserSessionID = browserSessionID
		if err := s.persist(next); err != nil {
			return nil, err
		}
		s.auditAppend(sessionID, "set_browser_session_id", map[string]any{"browser_session_id": browserSessionID})
		return nil, nil
	})
	return err
}

// AddQuestionToBranch appends a new question to a branch's history.
func (s *Store) AddQuestionToBranch(sessionID, branchID string, q QuestionSeed) error {
	a := s.getActor(sessionID)
	_, err := a.do(func() (any, error) {
		st, err := s.loaded(sessionID)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, ErrSessionNotFound
		}
		branch, ok := st.Branches[branchID]
		if !ok {
			return nil, ErrBranchNotFound
		}
		if branch.Status == BranchDone {
			return nil, ErrBranchAlreadyDone
		}

		next := st.clone()
		next.Branches[branchID].Questions = append(next.Branches[branchID].Questions, Question{
			ID: q.ID, Type: q.Type, Text: q.Text, Config: q.Config,
		})
		if err := s.persist(next); err != nil {
			return nil, err
		}
		s.auditAppend(sessionID, "add_question_to_branch", map[string]any{
			"branch_id": branchID, "question_id": q.ID, "type": q.Type, "text": q.Text, "config": q.Config,
		})
		return nil, nil
	})
	return err
}

// RecordAnswer records answer against questionID, wherever it lives in the
// session's branches. It is idempotent: a question that is unknown or
// already answered is a silent no-op, per spec §4.3.
func (s *Store) RecordAnswer(sessionID, questionID string, answer any) error {
	a := s.getActor(sessionID)
	_, err := a.do(func() (any, error) {
		st, err := s.loaded(sessionID)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, ErrSessionNotFound
		}

		var targetBranch string
		var targetIdx = -1
		for branchID, b := range st.Branches {
			for i, q := range b.Questions {
				if q.ID == questionID {
					targetBranch, targetIdx = branchID, i
					break
				}
			}
			if targetIdx >= 0 {
				break
			}
		}
		if targetIdx < 0 {
			return nil, nil // unknown question: silent no-op
		}
		if st.Branches[targetBranch].Questions[targetIdx].AnsweredAt != nil {
			return nil, nil // already answered: idempotent no-op
		}

		next := st.clone()
		now := time.Now()
		q := &next.Branches[targetBranch].Questions[targetIdx]
		q.Answer = answer
		q.AnsweredAt = &now
		if err := s.persist(next); err != nil {
			return nil, err
		}
		s.auditAppend(sessionID, "record_answer", map[string]any{"branch_id": targetBranch, "question_id": questionID, "answer": answer})
		return nil, nil
	})
	return err
}

// CompleteBranch marks a branch done with its final finding. It is an error
// to complete a branch that is already done, since a done branch is never
// mutated again (spec §3 invariant).
func (s *Store) CompleteBranch(sessionID, branchID, finding string) error {
	a := s.getActor(sessionID)
	_, err := a.do(func() (any, error) {
		st, err := s.loaded(sessionID)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, ErrSessionNotFound
		}
		branch, ok := st.Branches[branchID]
		if !ok {
			return nil, ErrBranchNotFound
		}
		if branch.Status == BranchDone {
			return nil, ErrBranchAlreadyDone
		}

		next := st.clone()
		next.Branches[branchID].Status = BranchDone
		next.Branches[branchID].Finding = finding
		if err := s.persist(next); err != nil {
			return nil, err
		}
		s.auditAppend(sessionID, "complete_branch", map[string]any{"branch_id": branchID, "finding": finding})
		return nil, nil
	})
	return err
}

// GetNextExploringBranch returns the first branch in branch_order whose
// status is still exploring, or false if none remain.
func (s *Store) GetNextExploringBranch(sessionID string) (*Branch, bool) {
	st, ok := s.GetSession(sessionID)
	if !ok {
		return nil, false
	}
	for _, id := range st.BranchOrder {
		if b := st.Branches[id]; b.Status == BranchExploring {
			return b, true
		}
	}
	return nil, false
}

// IsSessionComplete reports whether every branch of sessionID is done.
func (s *Store) IsSessionComplete(sessionID string) bool {
	st, ok := s.GetSession(sessionID)
	if !ok {
		return false
	}
	total, done := st.branchCounts()
	return total > 0 && done == total
}

// DeleteSession removes the in-memory entry, the persisted file, and the
// index row for sessionID.
func (s *Store) DeleteSession(sessionID string) error {
	a := s.getActor(sessionID)
	_, err := a.do(func() (any, error) {
		if err := deleteStateFile(s.dir, sessionID); err != nil {
			return nil, err
		}
		s.dropCached(sessionID)
		if s.idx != nil {
			if err := s.idx.Delete(sessionID); err != nil {
				s.logger.Printf("branchstate: index delete failed for %s: %v", sessionID, err)
			}
		}
		s.auditAppend(sessionID, "delete_session", nil)
		return nil, nil
	})
	s.dropActor(sessionID)
	return err
}

// List enumerates persisted session ids, opportunistically warming the
// enumeration index for any file it doesn't yet know about.
func (s *Store) List() ([]string, error) {
	ids, err := listStateFiles(s.dir)
	if err != nil {
		return nil, err
	}
	if s.idx != nil {
		for _, id := range ids {
			if _, found, ierr := s.idx.Get(id); ierr == nil && found {
				continue
			}
			if st, ok := s.GetSession(id); ok {
				s.upsertIndex(st)
			}
		}
	}
	return ids, nil
}

// Close stops every live per-session actor and the index/audit backends.
func (s *Store) Close() error {
	s.actorsMu.Lock()
	actors := s.actors
	s.actors = make(map[string]*actor)
	s.actorsMu.Unlock()
	for _, a := range actors {
		a.stop()
	}

	var firstErr error
	if s.idx != nil {
		if err := s.idx.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.audit.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
