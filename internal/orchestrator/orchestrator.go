// Package orchestrator couples the session store and the branch state
// store into the five operations named in spec §4.5: create_brainstorm,
// await_brainstorm_complete, process_answer, end_brainstorm, and
// get_session_summary.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brainstormd/brainstormd/internal/branchstate"
	"github.com/brainstormd/brainstormd/internal/findings"
	"github.com/brainstormd/brainstormd/internal/notify"
	"github.com/brainstormd/brainstormd/internal/probe"
	"github.com/brainstormd/brainstormd/internal/session"
)

// MaxIterations bounds await_brainstorm_complete's main loop (spec §4.5).
const MaxIterations = 50

const reviewTimeout = 600 * time.Second

// QuestionSpec is a probe- or caller-supplied question shape: a type from
// the catalog in spec §6.2 plus its opaque config.
type QuestionSpec struct {
	Type   string
	Config map[string]any
}

// BranchSpec describes one exploration line requested at creation time.
type BranchSpec struct {
	ID              string
	Scope           string
	InitialQuestion QuestionSpec
}

// Config wires an Orchestrator's collaborators. Findings and Notify are
// optional: a nil Findings disables cross-session recall and
// duplicate-question checks stay whatever the Probe itself was built with;
// a nil Notify is equivalent to notify.NoopNotifier{}.
type Config struct {
	Sessions      *session.Store
	State         *branchstate.Store
	Probe         probe.Prober
	Findings      *findings.Index
	Notify        notify.Notifier
	Logger        *log.Logger
	MaxIterations int
}

// Orchestrator implements spec §4.5.
type Orchestrator struct {
	sessions      *session.Store
	state         *branchstate.Store
	prober        probe.Prober
	findingsIx    *findings.Index
	notifier      notify.Notifier
	logger        *log.Logger
	maxIterations int
}

// New constructs an Orchestrator from cfg, defaulting Notify to a no-op and
// MaxIterations to spec's 50.
func New(cfg Config) *Orchestrator {
	n := cfg.Notify
	if n == nil {
		n = notify.NoopNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = MaxIterations
	}
	return &Orchestrator{
		sessions:      cfg.Sessions,
		state:         cfg.State,
		prober:        cfg.Probe,
		findingsIx:    cfg.Findings,
		notifier:      n,
		logger:        logger,
		maxIterations: maxIter,
	}
}

// CreateBrainstormOutput is the result of CreateBrainstorm.
type CreateBrainstormOutput struct {
	SessionID        string
	BrowserSessionID string
	URL              string
	Summary          string
}

// CreateBrainstorm allocates a session, seeds one question per branch, and
// starts the browser-facing session, per spec §4.5 step 1-7.
func (o *Orchestrator) CreateBrainstorm(request string, branches []BranchSpec) (CreateBrainstormOutput, error) {
	sessionID := newSessionID()

	seeds := make([]branchstate.BranchSeed, len(branches))
	for i, b := range branches {
		seeds[i] = branchstate.BranchSeed{ID: b.ID, Scope: b.Scope}
	}
	if err := o.state.CreateSession(sessionID, request, seeds); err != nil {
		return CreateBrainstormOutput{}, fmt.Errorf("orchestrator: create session: %w", err)
	}

	seedQuestions := make([]session.SeedQuestion, len(branches))
	for i, b := range branches {
		seedQuestions[i] = session.SeedQuestion{
			Type:   b.InitialQuestion.Type,
			Config: taggedConfig(b.InitialQuestion.Config, b.Scope),
		}
	}

	started, err := o.sessions.StartSession(request, seedQuestions)
	if err != nil {
		return CreateBrainstormOutput{}, fmt.Errorf("orchestrator: start session: %w", err)
	}

	if err := o.state.SetBrowserSessionID(sessionID, started.SessionID); err != nil {
		return CreateBrainstormOutput{}, fmt.Errorf("orchestrator: attach browser session: %w", err)
	}

	for i, b := range branches {
		cfg := taggedConfig(b.InitialQuestion.Config, b.Scope)
		if err := o.state.AddQuestionToBranch(sessionID, b.ID, branchstate.QuestionSeed{
			ID:     started.QuestionIDs[i],
			Type:   b.InitialQuestion.Type,
			Text:   questionText(cfg),
			Config: cfg,
		}); err != nil {
			return CreateBrainstormOutput{}, fmt.Errorf("orchestrator: seed branch %s: %w", b.ID, err)
		}
	}

	summary := o.buildCreateSummary(request, branches, started.URL, sessionID)

	return CreateBrainstormOutput{
		SessionID:        sessionID,
		BrowserSessionID: started.SessionID,
		URL:              started.URL,
		Summary:          summary,
	}, nil
}

func (o *Orchestrator) buildCreateSummary(request string, branches []BranchSpec, url, sessionID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Started brainstorm %q (session %s) at %s with %d branch(es):\n", request, sessionID, url, len(branches))
	for _, br := range branches {
		fmt.Fprintf(&b, "- %s: %s\n", br.ID, br.Scope)
	}

	if o.findingsIx == nil {
		return strings.TrimRight(b.String(), "\n")
	}
	related, err := o.findingsIx.SearchRelatedFindings(context.Background(), request, 3)
	if err != nil || len(related) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}
	for _, r := range related {
		fmt.Fprintf(&b, "Related past finding: [%s] %s\n", r.Scope, r.Finding)
	}
	return strings.TrimRight(b.String(), "\n")
}

// taggedConfig clones config and prefixes its "question" field with the
// branch's scope tag, matching spec §4.5 step 3.
func taggedConfig(config map[string]any, scope string) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	if q, ok := out["question"].(string); ok {
		out["question"] = fmt.Sprintf("[%s] %s", scope, q)
	}
	return out
}

func questionText(config map[string]any) string {
	s, _ := config["question"].(string)
	return s
}

// ProcessAnswer records an answer against its branch, evaluates the probe,
// and either completes the branch or pushes a follow-up question, per spec
// §4.5's process_answer.
func (o *Orchestrator) ProcessAnswer(ctx context.Context, sessionID, browserSessionID, questionID string, response any) error {
	st, ok := o.state.GetSession(sessionID)
	if !ok {
		return branchstate.ErrSessionNotFound
	}
	branchID, _, ok := findBranchForQuestion(st, questionID)
	if !ok {
		return nil // question not in any branch; nothing to do
	}

	if err := o.state.RecordAnswer(sessionID, questionID, response); err != nil {
		return fmt.Errorf("orchestrator: record answer: %w", err)
	}

	st, ok = o.state.GetSession(sessionID)
	if !ok {
		return branchstate.ErrSessionNotFound
	}
	branch, ok := st.Branches[branchID]
	if !ok {
		return branchstate.ErrBranchNotFound
	}

	verdict, err := o.prober.Evaluate(ctx, branch)
	if err != nil {
		return fmt.Errorf("orchestrator: probe: %w", err)
	}

	if verdict.Done {
		if err := o.state.CompleteBranch(sessionID, branchID, verdict.Finding); err != nil {
			return fmt.Errorf("orchestrator: complete branch: %w", err)
		}
		if o.findingsIx != nil {
			if err := o.findingsIx.RecordFinding(ctx, sessionID, branchID, branch.Scope, verdict.Finding); err != nil {
				o.logger.Printf("orchestrator: record finding failed: %v", err)
			}
		}
		return nil
	}

	if verdict.Question == nil {
		return nil
	}

	newQuestionID, err := o.sessions.PushQuestion(browserSessionID, verdict.Question.Type, verdict.Question.Config)
	if err != nil {
		return fmt.Errorf("orchestrator: push follow-up: %w", err)
	}
	if o.findingsIx != nil {
		if text := questionText(verdict.Question.Config); text != "" {
			if err := o.findingsIx.RecordQuestion(ctx, sessionID, branchID, newQuestionID, text); err != nil {
				o.logger.Printf("orchestrator: record question failed: %v", err)
			}
		}
	}
	return o.state.AddQuestionToBranch(sessionID, branchID, branchstate.QuestionSeed{
		ID:     newQuestionID,
		Type:   verdict.Question.Type,
		Text:   questionText(verdict.Question.Config),
		Config: verdict.Question.Config,
	})
}

func findBranchForQuestion(st *branchstate.BrainstormState, questionID string) (string, *branchstate.Branch, bool) {
	for branchID, b := range st.Branches {
		for _, q := range b.Questions {
			if q.ID == questionID {
				return branchID, b, true
			}
		}
	}
	return "", nil, false
}

// AwaitBrainstormComplete is the main loop of spec §4.5: it drains answers
// off the browser session, spawns process_answer for each, and finishes
// with a plan review once every branch is done.
func (o *Orchestrator) AwaitBrainstormComplete(ctx context.Context, sessionID, browserSessionID string) (string, error) {
	var wg sync.WaitGroup

loop:
	for i := 0; i < o.maxIterations; i++ {
		if o.state.IsSessionComplete(sessionID) {
			break
		}

		out := o.sessions.GetNextAnswer(session.GetNextAnswerInput{
			SessionID: browserSessionID,
			Block:     true,
			Timeout:   session.DefaultTimeout,
		})

		if !out.Completed {
			switch out.Status {
			case "none_pending":
				wg.Wait()
				continue
			case "timeout":
				break loop
			default:
				continue
			}
		}

		wg.Add(1)
		go func(questionID string, response any) {
			defer wg.Done()
			if err := o.ProcessAnswer(ctx, sessionID, browserSessionID, questionID, response); err != nil {
				o.logger.Printf("orchestrator: process_answer failed: %v", err)
			}
		}(out.QuestionID, out.Response)
	}

	wg.Wait()

	st, ok := o.state.GetSession(sessionID)
	if !ok {
		return "", branchstate.ErrSessionNotFound
	}

	total, done := st.BranchProgress()
	if done < total {
		return o.inProgressSummary(st), nil
	}

	planConfig := buildShowPlanConfig(st)
	_, err := o.sessions.PushQuestion(browserSessionID, "show_plan", planConfig)
	if err != nil {
		return o.findingsOnlySummary(st), nil
	}

	review := o.sessions.GetNextAnswer(session.GetNextAnswerInput{
		SessionID: browserSessionID,
		Block:     true,
		Timeout:   reviewTimeout,
	})
	return o.finalSummary(st, review), nil
}

func (o *Orchestrator) inProgressSummary(st *branchstate.BrainstormState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Brainstorm %q is still in progress:\n", st.Request)
	for _, id := range st.BranchOrder {
		br := st.Branches[id]
		fmt.Fprintf(&b, "- %s (%s): %s\n", br.Scope, br.Status, br.Finding)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) findingsOnlySummary(st *branchstate.BrainstormState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Brainstorm %q complete (browser session gone, no review collected):\n", st.Request)
	for _, id := range st.BranchOrder {
		br := st.Branches[id]
		fmt.Fprintf(&b, "- %s: %s\n", br.Scope, br.Finding)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) finalSummary(st *branchstate.BrainstormState, review session.GetNextAnswerOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Brainstorm %q complete:\n", st.Request)
	for _, id := range st.BranchOrder {
		br := st.Branches[id]
		fmt.Fprintf(&b, "- %s: %s\n", br.Scope, br.Finding)
	}

	if !review.Completed {
		fmt.Fprintf(&b, "Review: not collected (%s)\n", review.Status)
		return strings.TrimRight(b.String(), "\n")
	}

	resp, _ := review.Response.(map[string]any)
	approved := false
	if resp != nil {
		if a, ok := resp["approved"].(bool); ok && a {
			approved = true
		}
		if c, ok := resp["choice"].(string); ok && c == "yes" {
			approved = true
		}
	}
	feedback := reviewFeedback(resp)

	fmt.Fprintf(&b, "Review: approved=%v", approved)
	if feedback != "" {
		fmt.Fprintf(&b, ", feedback=%s", feedback)
	}
	b.WriteString("\n")
	return strings.TrimRight(b.String(), "\n")
}

func reviewFeedback(resp map[string]any) string {
	if resp == nil {
		return ""
	}
	if annotations, ok := resp["annotations"].(map[string]any); ok && len(annotations) > 0 {
		keys := make([]string, 0, len(annotations))
		for k := range annotations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, annotations[k]))
		}
		return strings.Join(parts, "; ")
	}
	if fb, ok := resp["feedback"].(string); ok && fb != "" {
		return fb
	}
	if t, ok := resp["text"].(string); ok && t != "" {
		return t
	}
	return ""
}

func buildShowPlanConfig(st *branchstate.BrainstormState) map[string]any {
	sections := []map[string]any{
		{"id": "request", "title": "Original Request", "content": st.Request},
	}
	for _, id := range st.BranchOrder {
		br := st.Branches[id]
		sections = append(sections, map[string]any{
			"id":      br.ID,
			"title":   br.Scope,
			"content": fmt.Sprintf("Finding: %s Discussion: %s", br.Finding, discussionOf(br)),
		})
	}
	return map[string]any{"sections": sections}
}

func discussionOf(br *branchstate.Branch) string {
	var parts []string
	for _, q := range br.Questions {
		if q.AnsweredAt == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s -> %v", q.Text, q.Answer))
	}
	return strings.Join(parts, "; ")
}

// EndBrainstorm tears down the browser session (if still live), deletes the
// persisted state, notifies a completion webhook if configured, and returns
// the final findings text.
func (o *Orchestrator) EndBrainstorm(sessionID string) (string, error) {
	st, ok := o.state.GetSession(sessionID)
	if !ok {
		return "", branchstate.ErrSessionNotFound
	}

	if st.BrowserSessionID != "" {
		o.sessions.EndSession(st.BrowserSessionID)
	}

	findingsText := o.findingsOnlySummary(st)

	if err := o.state.DeleteSession(sessionID); err != nil {
		return "", fmt.Errorf("orchestrator: delete session: %w", err)
	}

	total, done := st.BranchProgress()
	o.notifier.NotifyComplete(sessionID, st.Request, total, done)

	return findingsText, nil
}

// GetSessionSummary renders each branch's current status, its
// question/answer history, and its finding.
func (o *Orchestrator) GetSessionSummary(sessionID string) (string, error) {
	st, ok := o.state.GetSession(sessionID)
	if !ok {
		return "", branchstate.ErrSessionNotFound
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Brainstorm %q (session %s):\n", st.Request, sessionID)
	for _, id := range st.BranchOrder {
		br := st.Branches[id]
		fmt.Fprintf(&b, "\n[%s] %s (%s)\n", br.ID, br.Scope, br.Status)
		if len(br.Questions) == 0 {
			b.WriteString("(no answers)\n")
			continue
		}
		for _, q := range br.Questions {
			if q.AnsweredAt == nil {
				fmt.Fprintf(&b, "- %s: (no answers)\n", q.Text)
				continue
			}
			fmt.Fprintf(&b, "- %s: %v\n", q.Text, q.Answer)
		}
		if br.Finding != "" {
			fmt.Fprintf(&b, "Finding: %s\n", br.Finding)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
