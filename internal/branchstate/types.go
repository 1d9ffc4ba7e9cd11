// Package branchstate is the durable per-session store of brainstorm
// branches: their scope, question/answer history, and findings. All
// mutation flows through a per-session actor goroutine (see actor.go) so
// concurrent record_answer calls across branches can never race with each
// other or with a persist.
package branchstate

import "time"

// BranchStatus is the lifecycle state of a Branch.
type BranchStatus string

const (
	BranchExploring BranchStatus = "exploring"
	BranchDone      BranchStatus = "done"
)

// Question is one branch-scoped prompt/answer pair.
type Question struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Text       string     `json:"text"`
	Config     any        `json:"config"`
	Answer     any        `json:"answer,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// QuestionSeed is the input shape for AddQuestionToBranch.
type QuestionSeed struct {
	ID     string
	Type   string
	Text   string
	Config any
}

// Branch is one parallel strand of exploration within a brainstorm.
type Branch struct {
	ID        string       `json:"id"`
	Scope     string       `json:"scope"`
	Status    BranchStatus `json:"status"`
	Questions []Question   `json:"questions"`
	Finding   string       `json:"finding,omitempty"`
}

// BranchSeed is the input shape for CreateSession's initial branch list.
type BranchSeed struct {
	ID    string
	Scope string
}

// BrainstormState is the full durable state for one brainstorm session.
type BrainstormState struct {
	SessionID         string             `json:"session_id"`
	Request           string             `json:"request"`
	BrowserSessionID  string             `json:"browser_session_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	Branches          map[string]*Branch `json:"branches"`
	BranchOrder       []string           `json:"branch_order"`
}

// clone deep-copies s so mutations never edit a state object a concurrent
// reader might be holding a pointer to (spec §9: "the cached copy must be
// replaced, not edited in place").
func (s *BrainstormState) clone() *BrainstormState {
	out := &BrainstormState{
		SessionID:        s.SessionID,
		Request:          s.Request,
		BrowserSessionID: s.BrowserSessionID,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		Branches:         make(map[string]*Branch, len(s.Branches)),
		BranchOrder:      append([]string(nil), s.BranchOrder...),
	}
	for id, b := range s.Branches {
		nb := &Branch{ID: b.ID, Scope: b.Scope, Status: b.Status, Finding: b.Finding}
		nb.Questions = make([]Question, len(b.Questions))
		copy(nb.Questions, b.Questions)
		out.Branches[id] = nb
	}
	return out
}

func (s *BrainstormState) branchCounts() (total, done int) {
	total = len(s.Branches)
	for _, b := range s.Branches {
		if b.Status == BranchDone {
			done++
		}
	}
	return
}

// BranchProgress exposes branchCounts to other packages (e.g. orchestrator,
// for its "N of M branches done" summaries).
func (s *BrainstormState) BranchProgress() (total, done int) {
	return s.branchCounts()
}
