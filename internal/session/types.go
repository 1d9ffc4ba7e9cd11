package session

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Status is the lifecycle state of a Question.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnswered  Status = "answered"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Question is a single prompt pushed to the browser UI.
type Question struct {
	ID         string
	SessionID  string
	Type       string
	Config     any
	Status     Status
	Response   any
	Retrieved  bool
	CreatedAt  time.Time
	AnsweredAt time.Time
}

// Session is a live browser connection and its question queue.
type Session struct {
	ID          string
	Title       string
	Port        int
	URL         string
	Questions   map[string]*Question
	Order       []string // insertion order of question ids
	WSConnected bool
	WSClient    *wsConn
	CreatedAt   time.Time

	listener net.Listener
	server   *http.Server
}

// QuestionListItem is the projection returned by ListQuestions.
type QuestionListItem struct {
	ID         string
	Type       string
	Status     Status
	CreatedAt  time.Time
	AnsweredAt time.Time
}

// wsConn wraps a single gorilla/websocket connection with a write lock,
// since gorilla connections are not safe for concurrent writers.
type wsConn struct {
	conn *websocket.Conn
	mu   chanMutex
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{conn: c, mu: newChanMutex()}
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }
