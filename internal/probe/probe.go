// Package probe implements the pure decision function that, given a
// branch's history, yields either a follow-up question or a terminal
// finding (SPEC_FULL.md §4.4).
package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/brainstormd/brainstormd/internal/branchstate"
	"github.com/brainstormd/brainstormd/internal/findings"
)

// Question is the follow-up a probe wants pushed to the browser.
type Question struct {
	Type   string
	Config map[string]any
}

// Verdict is a probe's output: either a terminal finding, or a follow-up
// question (or neither, when the branch has pending questions the caller
// must wait on).
type Verdict struct {
	Done     bool
	Finding  string
	Question *Question
}

// Prober decouples the orchestrator from which probe implementation
// (rules-based or LLM-based) is active.
type Prober interface {
	Evaluate(ctx context.Context, branch *branchstate.Branch) (Verdict, error)
}

// RulesProber is the reference rule set from SPEC_FULL.md §4.4. Findings is
// optional; when non-nil, candidate follow-up questions are checked against
// it for semantic duplication before being returned.
type RulesProber struct {
	Findings *findings.Index
}

// Evaluate applies the five reference rules in order.
func (p *RulesProber) Evaluate(ctx context.Context, branch *branchstate.Branch) (Verdict, error) {
	// Rule 1: any pending (unanswered) question means the caller waits.
	for _, q := range branch.Questions {
		if q.AnsweredAt == nil {
			return Verdict{Done: false}, nil
		}
	}

	answered := branch.Questions
	if len(answered) == 0 {
		return Verdict{Done: false}, nil
	}

	// Rule 2: three or more answered questions terminates the branch.
	if len(answered) >= 3 {
		return Verdict{Done: true, Finding: synthesize(branch)}, nil
	}

	last := answered[len(answered)-1]
	if last.Type == "confirm" {
		switch answerString(last.Answer, "choice") {
		case "yes":
			// Rule 3.
			return Verdict{Done: true, Finding: synthesize(branch)}, nil
		case "no":
			// Rule 4.
			q := &Question{
				Type: "ask_text",
				Config: map[string]any{
					"question": fmt.Sprintf("What aspect of '%s' needs more discussion?", branch.Scope),
				},
			}
			return Verdict{Done: false, Question: q}, nil
		}
	}

	// Rule 5: contextual follow-up keyed by how many answers exist so far.
	return p.contextualFollowup(ctx, branch, len(answered))
}

func (p *RulesProber) contextualFollowup(ctx context.Context, branch *branchstate.Branch, answeredCount int) (Verdict, error) {
	candidate := followupFor(branch.Scope, answeredCount)
	if candidate == nil {
		return Verdict{Done: true, Finding: synthesize(branch)}, nil
	}
	if !p.isDuplicate(ctx, branch.ID, candidate) {
		return Verdict{Done: false, Question: candidate}, nil
	}

	// Fall through to the next rule's alternative shape.
	alt := followupFor(branch.Scope, answeredCount+1)
	if alt != nil && !p.isDuplicate(ctx, branch.ID, alt) {
		return Verdict{Done: false, Question: alt}, nil
	}
	return Verdict{Done: true, Finding: synthesize(branch)}, nil
}

func (p *RulesProber) isDuplicate(ctx context.Context, branchID string, q *Question) bool {
	if p.Findings == nil {
		return false
	}
	text, _ := q.Config["question"].(string)
	if text == "" {
		return false
	}
	return p.Findings.IsDuplicateQuestion(ctx, branchID, text)
}

func followupFor(scope string, answeredCount int) *Question {
	switch answeredCount {
	case 1:
		return &Question{
			Type: "pick_one",
			Config: map[string]any{
				"question": fmt.Sprintf("What's the priority for '%s'?", scope),
				"options": []map[string]string{
					{"id": "a", "label": "Correctness"},
					{"id": "b", "label": "Speed of delivery"},
				},
			},
		}
	case 2:
		return &Question{
			Type: "confirm",
			Config: map[string]any{
				"question": fmt.Sprintf("Is the direction clear for '%s'?", scope),
			},
		}
	default:
		return nil
	}
}

// synthesize concatenates the first answer's summary as the headline, then
// every later summary that is not a bare affirmation, as qualifiers.
func synthesize(branch *branchstate.Branch) string {
	var summaries []string
	for _, q := range branch.Questions {
		if q.AnsweredAt == nil {
			continue
		}
		summaries = append(summaries, answerSummary(q.Answer))
	}
	if len(summaries) == 0 {
		return ""
	}

	headline := summaries[0]
	var qualifiers []string
	for _, s := range summaries[1:] {
		if isAffirmation(s) {
			continue
		}
		qualifiers = append(qualifiers, s)
	}
	if len(qualifiers) == 0 {
		return headline
	}
	return headline + "; " + strings.Join(qualifiers, "; ")
}

func isAffirmation(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "ready", "ready to proceed":
		return true
	default:
		return false
	}
}

// answerString reads a string field out of an answer payload, tolerating
// the map[string]any shape JSON decoding produces.
func answerString(answer any, field string) string {
	m, ok := answer.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[field].(string)
	return s
}

// answerSummary derives a human summary from an answer payload by trying,
// in order: selected, choice, text (truncated), value; falling back to the
// first non-null field (in a deterministic key order), then "unspecified".
func answerSummary(answer any) string {
	m, ok := answer.(map[string]any)
	if !ok {
		if answer == nil {
			return "unspecified"
		}
		return fmt.Sprint(answer)
	}

	if sel, ok := m["selected"]; ok {
		if s := joinedString(sel); s != "" {
			return s
		}
	}
	if choice, ok := m["choice"].(string); ok && choice != "" {
		return choice
	}
	if text, ok := m["text"].(string); ok && text != "" {
		if len(text) > 100 {
			return text[:100]
		}
		return text
	}
	if val, ok := m["value"]; ok && val != nil {
		return fmt.Sprint(val)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if m[k] != nil {
			return fmt.Sprint(m[k])
		}
	}
	return "unspecified"
}

func joinedString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, fmt.Sprint(e))
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}
