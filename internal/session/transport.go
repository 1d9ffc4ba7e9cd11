package session

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brainstormd/brainstormd/internal/session/webui"
)

// frame is the minimal server->client envelope shared by all outbound types.
type frame struct {
	Type string `json:"type"`
}

type questionFrame struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	QuestionType string `json:"questionType"`
	Config       any    `json:"config"`
}

type cancelFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// inboundFrame is the client->server envelope. Answer is decoded lazily
// since its shape depends on the question type (spec §6.2).
type inboundFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Answer json.RawMessage `json:"answer"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mux builds the per-session HTTP handler: GET / serves the embedded UI
// bundle, GET /ws upgrades to the session's single WebSocket connection.
func (s *Store) mux(sess *Session) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(webui.IndexHTML)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.serveWS(sess, w, r)
	})
	return mux
}

func (s *Store) serveWS(sess *Session, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := newWSConn(conn)

	s.mu.Lock()
	// At most one WebSocket client per session (spec §3 invariant): a
	// reconnect replaces whatever was previously attached.
	sess.WSClient = client
	sess.WSConnected = true
	pending := pendingQuestionFrames(sess)
	s.mu.Unlock()

	for _, qf := range pending {
		_ = client.writeJSON(qf)
	}

	s.readLoop(sess, client)
}

func pendingQuestionFrames(sess *Session) []questionFrame {
	var frames []questionFrame
	for _, qid := range sess.Order {
		q := sess.Questions[qid]
		if q.Status == StatusPending {
			frames = append(frames, questionFrame{Type: "question", ID: q.ID, QuestionType: q.Type, Config: q.Config})
		}
	}
	return frames
}

func (s *Store) readLoop(sess *Session, client *wsConn) {
	defer func() {
		s.mu.Lock()
		if sess.WSClient == client {
			sess.WSClient = nil
			sess.WSConnected = false
		}
		s.mu.Unlock()
		_ = client.conn.Close()
	}()

	for {
		var in inboundFrame
		if err := client.conn.ReadJSON(&in); err != nil {
			return
		}
		s.handleInbound(sess, in)
	}
}

func (s *Store) handleInbound(sess *Session, in inboundFrame) {
	switch in.Type {
	case "connected":
		// Acknowledged implicitly; no state change (spec §4.2).
	case "response":
		var answer any
		if len(in.Answer) > 0 {
			if err := json.Unmarshal(in.Answer, &answer); err != nil {
				return
			}
		}
		s.recordResponse(sess.ID, in.ID, answer)
	}
}

// recordResponse applies an inbound {type:"response"} frame: it is the sole
// path by which a question transitions to answered.
func (s *Store) recordResponse(sessionID, questionID string, answer any) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	q, ok := sess.Questions[questionID]
	if !ok || q.Status != StatusPending {
		s.mu.Unlock()
		return
	}

	q.Status = StatusAnswered
	q.AnsweredAt = time.Now()
	q.Response = answer

	s.qWaiters.NotifyAll(questionID, qEvent{response: answer})
	delivered := s.sWaiters.NotifyFirst(sessionID, sEvent{questionID: questionID, questionType: q.Type, response: answer})
	if delivered {
		q.Retrieved = true
	}
	s.mu.Unlock()
}
