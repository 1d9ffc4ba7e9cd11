// Package session owns live sessions: their question queues, WebSocket
// transport state, and the two flavors of blocking consumer described in
// spec §4.2. Nothing in this package is durable — only branchstate.Store
// persists across a process restart.
package session

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/brainstormd/brainstormd/internal/browser"
	"github.com/brainstormd/brainstormd/internal/waiter"
)

// DefaultTimeout is the blocking-read timeout used when a caller does not
// specify one (spec §4.2).
const DefaultTimeout = 300 * time.Second

// Config configures a Store.
type Config struct {
	Port        int // 0 means ephemeral
	SkipBrowser bool
	Launcher    browser.Launcher
	Logger      *log.Logger
}

// SeedQuestion is a question supplied at StartSession time.
type SeedQuestion struct {
	Type   string
	Config any
}

// StartSessionOutput is the result of StartSession.
type StartSessionOutput struct {
	SessionID   string
	URL         string
	QuestionIDs []string
}

// GetAnswerInput parametrizes GetAnswer.
type GetAnswerInput struct {
	QuestionID string
	Block      bool
	Timeout    time.Duration
}

// GetAnswerOutput is the result of GetAnswer.
type GetAnswerOutput struct {
	Completed bool
	Status    Status
	Reason    string
	Response  any
}

// GetNextAnswerInput parametrizes GetNextAnswer.
type GetNextAnswerInput struct {
	SessionID string
	Block     bool
	Timeout   time.Duration
}

// GetNextAnswerOutput is the result of GetNextAnswer.
type GetNextAnswerOutput struct {
	Completed    bool
	QuestionID   string
	QuestionType string
	Status       string
	Response     any
}

type qEvent struct {
	cancelled bool
	response  any
}

type sEvent struct {
	questionID   string
	questionType string
	response     any
}

// Store owns every live session, the question→session index, and the two
// waiter registries the blocking reads are built on. A single mutex guards
// all of it, per spec §5's "single mutex over the session store suffices".
type Store struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	questionIndex map[string]string // question id -> session id

	qWaiters *waiter.Registry[qEvent]
	sWaiters *waiter.Registry[sEvent]

	cfg    Config
	logger *log.Logger
}

// NewStore constructs an empty Store.
func NewStore(cfg Config) *Store {
	if cfg.Launcher == nil {
		if cfg.SkipBrowser {
			cfg.Launcher = browser.Noop{}
		} else {
			cfg.Launcher = browser.OSLauncher{}
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		sessions:      make(map[string]*Session),
		questionIndex: make(map[string]string),
		qWaiters:      waiter.NewRegistry[qEvent](),
		sWaiters:      waiter.NewRegistry[sEvent](),
		cfg:           cfg,
		logger:        logger,
	}
}

// StartSession allocates a session, binds an ephemeral HTTP+WebSocket port,
// inserts any seed questions, and launches the platform browser unless
// SkipBrowser is set.
func (s *Store) StartSession(title string, seeds []SeedQuestion) (StartSessionOutput, error) {
	s.mu.Lock()
	id := s.freshSessionIDLocked()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		s.mu.Unlock()
		return StartSessionOutput{}, fmt.Errorf("session: bind failed: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://localhost:%d", port)

	sess := &Session{
		ID:        id,
		Title:     title,
		Port:      port,
		URL:       url,
		Questions: make(map[string]*Question),
		CreatedAt: time.Now(),
		listener:  ln,
	}

	questionIDs := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		qid := s.freshQuestionIDLocked()
		q := &Question{
			ID:        qid,
			SessionID: id,
			Type:      seed.Type,
			Config:    seed.Config,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		}
		sess.Questions[qid] = q
		sess.Order = append(sess.Order, qid)
		s.questionIndex[qid] = id
		questionIDs = append(questionIDs, qid)
	}

	sess.server = &http.Server{Handler: s.mux(sess)}
	s.sessions[id] = sess
	go sess.server.Serve(ln)
	s.mu.Unlock()

	if !s.cfg.SkipBrowser {
		if err := s.cfg.Launcher.Open(url); err != nil {
			s.rollbackSession(id)
			return StartSessionOutput{}, ErrBrowserOpenFailed
		}
	}

	return StartSessionOutput{SessionID: id, URL: url, QuestionIDs: questionIDs}, nil
}

// rollbackSession tears down a session created during a failed StartSession.
func (s *Store) rollbackSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	for _, qid := range sess.Order {
		delete(s.questionIndex, qid)
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	sess.server.Close()
}

// EndSession stops a session's server, notifies its browser client, unlinks
// all of its questions from the global index, and deletes the session.
func (s *Store) EndSession(sessionID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	var client *wsConn
	if sess.WSConnected {
		client = sess.WSClient
	}
	for _, qid := range sess.Order {
		delete(s.questionIndex, qid)
		s.qWaiters.Clear(qid)
	}
	s.sWaiters.Clear(sessionID)
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if client != nil {
		_ = client.writeJSON(frame{Type: "end"})
	}
	sess.server.Close()
	return true
}

// PushQuestion inserts a new pending question into sessionID and emits it
// over the WebSocket if a client is attached.
func (s *Store) PushQuestion(sessionID, qType string, config any) (string, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return "", ErrSessionNotFound
	}

	qid := s.freshQuestionIDLocked()
	q := &Question{
		ID:        qid,
		SessionID: sessionID,
		Type:      qType,
		Config:    config,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	sess.Questions[qid] = q
	sess.Order = append(sess.Order, qid)
	s.questionIndex[qid] = sessionID

	var client *wsConn
	if sess.WSConnected {
		client = sess.WSClient
	}
	skipBrowser := s.cfg.SkipBrowser
	url := sess.URL
	s.mu.Unlock()

	if client != nil {
		_ = client.writeJSON(questionFrame{Type: "question", ID: qid, QuestionType: qType, Config: config})
	} else if !skipBrowser {
		go func() { _ = s.cfg.Launcher.Open(url) }()
	}

	return qid, nil
}

// CancelQuestion transitions a pending question to cancelled, notifying its
// waiters and the browser client.
func (s *Store) CancelQuestion(questionID string) bool {
	s.mu.Lock()
	sessID, ok := s.questionIndex[questionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess := s.sessions[sessID]
	q := sess.Questions[questionID]
	if q.Status != StatusPending {
		s.mu.Unlock()
		return false
	}
	q.Status = StatusCancelled

	var client *wsConn
	if sess.WSConnected {
		client = sess.WSClient
	}
	s.qWaiters.NotifyAll(questionID, qEvent{cancelled: true})
	s.mu.Unlock()

	if client != nil {
		_ = client.writeJSON(cancelFrame{Type: "cancel", ID: questionID})
	}
	return true
}

// GetAnswer resolves a question's answer, blocking if requested.
func (s *Store) GetAnswer(in GetAnswerInput) GetAnswerOutput {
	s.mu.Lock()
	sessID, ok := s.questionIndex[in.QuestionID]
	if !ok {
		s.mu.Unlock()
		return GetAnswerOutput{Completed: false, Status: StatusCancelled, Reason: "cancelled"}
	}
	sess := s.sessions[sessID]
	q := sess.Questions[in.QuestionID]

	switch q.Status {
	case StatusAnswered:
		resp := q.Response
		s.mu.Unlock()
		return GetAnswerOutput{Completed: true, Status: StatusAnswered, Response: resp}
	case StatusCancelled, StatusTimeout:
		st := q.Status
		s.mu.Unlock()
		return GetAnswerOutput{Completed: false, Status: st, Reason: string(st)}
	}

	// StatusPending.
	if !in.Block {
		s.mu.Unlock()
		return GetAnswerOutput{Completed: false, Status: StatusPending, Reason: "pending"}
	}

	ch := make(chan qEvent, 1)
	cleanup := s.qWaiters.Register(in.QuestionID, func(e qEvent) {
		select {
		case ch <- e:
		default:
		}
	})
	s.mu.Unlock()

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-ch:
		if e.cancelled {
			return GetAnswerOutput{Completed: false, Status: StatusCancelled, Reason: "cancelled"}
		}
		return GetAnswerOutput{Completed: true, Status: StatusAnswered, Response: e.response}
	case <-timer.C:
		cleanup()
		select {
		case e := <-ch:
			if e.cancelled {
				return GetAnswerOutput{Completed: false, Status: StatusCancelled, Reason: "cancelled"}
			}
			return GetAnswerOutput{Completed: true, Status: StatusAnswered, Response: e.response}
		default:
		}
		s.mu.Lock()
		if q2, ok := sess.Questions[in.QuestionID]; ok && q2.Status == StatusPending {
			q2.Status = StatusTimeout
		}
		s.mu.Unlock()
		return GetAnswerOutput{Completed: false, Status: StatusTimeout, Reason: "timeout"}
	}
}

// GetNextAnswer resolves the next unretrieved answered question on a
// session, blocking if requested.
func (s *Store) GetNextAnswer(in GetNextAnswerInput) GetNextAnswerOutput {
	s.mu.Lock()
	sess, ok := s.sessions[in.SessionID]
	if !ok {
		s.mu.Unlock()
		return GetNextAnswerOutput{Completed: false, Status: "none_pending"}
	}

	if q, found := scanNextAnswered(sess); found {
		q.Retrieved = true
		out := GetNextAnswerOutput{Completed: true, QuestionID: q.ID, QuestionType: q.Type, Status: "answered", Response: q.Response}
		s.mu.Unlock()
		return out
	}

	if !anyPending(sess) {
		s.mu.Unlock()
		return GetNextAnswerOutput{Completed: false, Status: "none_pending"}
	}

	if !in.Block {
		s.mu.Unlock()
		return GetNextAnswerOutput{Completed: false, Status: "pending"}
	}

	ch := make(chan sEvent, 1)
	cleanup := s.sWaiters.Register(in.SessionID, func(e sEvent) {
		select {
		case ch <- e:
		default:
		}
	})
	s.mu.Unlock()

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-ch:
		return GetNextAnswerOutput{Completed: true, QuestionID: e.questionID, QuestionType: e.questionType, Status: "answered", Response: e.response}
	case <-timer.C:
		cleanup()
		select {
		case e := <-ch:
			return GetNextAnswerOutput{Completed: true, QuestionID: e.questionID, QuestionType: e.questionType, Status: "answered", Response: e.response}
		default:
		}
		return GetNextAnswerOutput{Completed: false, Status: "timeout"}
	}
}

// ListQuestions returns all questions (optionally scoped to one session),
// projected and sorted by CreatedAt descending.
func (s *Store) ListQuestions(sessionID string) []QuestionListItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []QuestionListItem
	if sessionID != "" {
		if sess, ok := s.sessions[sessionID]; ok {
			for _, qid := range sess.Order {
				items = append(items, projectQuestion(sess.Questions[qid]))
			}
		}
	} else {
		for _, sess := range s.sessions {
			for _, qid := range sess.Order {
				items = append(items, projectQuestion(sess.Questions[qid]))
			}
		}
	}

	sortQuestionsDesc(items)
	return items
}

func projectQuestion(q *Question) QuestionListItem {
	return QuestionListItem{ID: q.ID, Type: q.Type, Status: q.Status, CreatedAt: q.CreatedAt, AnsweredAt: q.AnsweredAt}
}

func sortQuestionsDesc(items []QuestionListItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].CreatedAt.After(items[j-1].CreatedAt); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func scanNextAnswered(sess *Session) (*Question, bool) {
	for _, qid := range sess.Order {
		q := sess.Questions[qid]
		if q.Status == StatusAnswered && !q.Retrieved {
			return q, true
		}
	}
	return nil, false
}

func anyPending(sess *Session) bool {
	for _, qid := range sess.Order {
		if sess.Questions[qid].Status == StatusPending {
			return true
		}
	}
	return false
}

func (s *Store) freshSessionIDLocked() string {
	for {
		id := newOpaqueID("ses_")
		if _, exists := s.sessions[id]; !exists {
			return id
		}
	}
}

func (s *Store) freshQuestionIDLocked() string {
	for {
		id := newOpaqueID("q_")
		if _, exists := s.questionIndex[id]; !exists {
			return id
		}
	}
}
