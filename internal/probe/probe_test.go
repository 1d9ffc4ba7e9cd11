package probe

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/brainstormd/brainstormd/internal/branchstate"
	"github.com/brainstormd/brainstormd/internal/findings"
	"github.com/philippgille/chromem-go"
)

// failingBackend simulates an embedding provider that is down: every
// query errors, which findings.Index.IsDuplicateQuestion must degrade
// from rather than propagate.
type failingBackend struct{}

func (failingBackend) AddDocuments(ctx context.Context, documents []chromem.Document) error {
	return errors.New("embedding backend unavailable")
}

func (failingBackend) Query(ctx context.Context, queryText string, nResults int, where map[string]string) ([]chromem.Result, error) {
	return nil, errors.New("embedding backend unavailable")
}

func (failingBackend) Count() int   { return 0 }
func (failingBackend) Close() error { return nil }

func answered(id, qtype string, config, answer any) branchstate.Question {
	t := time.Now()
	return branchstate.Question{ID: id, Type: qtype, Config: config, Answer: answer, AnsweredAt: &t}
}

func pending(id, qtype string, config any) branchstate.Question {
	return branchstate.Question{ID: id, Type: qtype, Config: config}
}

func TestEvaluateRule1WaitsOnPendingQuestion(t *testing.T) {
	p := &RulesProber{}
	branch := &branchstate.Branch{
		ID: "b1", Scope: "auth flow",
		Questions: []branchstate.Question{pending("q1", "pick_one", nil)},
	}
	v, err := p.Evaluate(context.Background(), branch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Done || v.Question != nil {
		t.Fatalf("expected a pure wait verdict, got %+v", v)
	}
}

func TestEvaluateRule2TerminatesAfterThreeAnswers(t *testing.T) {
	p := &RulesProber{}
	branch := &branchstate.Branch{
		ID: "b1", Scope: "auth flow",
		Questions: []branchstate.Question{
			answered("q1", "pick_one", nil, map[string]any{"choice": "OAuth"}),
			answered("q2", "confirm", nil, map[string]any{"choice": "no"}),
			answered("q3", "ask_text", nil, map[string]any{"text": "needs refresh tokens"}),
		},
	}
	v, err := p.Evaluate(context.Background(), branch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Done {
		t.Fatalf("expected branch to terminate after 3 answers, got %+v", v)
	}
	if v.Finding == "" {
		t.Fatal("expected a non-empty finding")
	}
}

func TestEvaluateRule3TerminatesOnConfirmYes(t *testing.T) {
	p := &RulesProber{}
	branch := &branchstate.Branch{
		ID: "b1", Scope: "auth flow",
		Questions: []branchstate.Question{
			answered("q1", "pick_one", nil, map[string]any{"choice": "OAuth"}),
			answered("q2", "confirm", nil, map[string]any{"choice": "yes"}),
		},
	}
	v, err := p.Evaluate(context.Background(), branch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Done {
		t.Fatalf("expected confirm=yes to terminate the branch, got %+v", v)
	}
}

func TestEvaluateRule4AsksFollowupOnConfirmNo(t *testing.T) {
	p := &RulesProber{}
	branch := &branchstate.Branch{
		ID: "b1", Scope: "auth flow",
		Questions: []branchstate.Question{
			answered("q1", "pick_one", nil, map[string]any{"choice": "OAuth"}),
			answered("q2", "confirm", nil, map[string]any{"choice": "no"}),
		},
	}
	v, err := p.Evaluate(context.Background(), branch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Done {
		t.Fatal("expected confirm=no to continue the branch")
	}
	if v.Question == nil || v.Question.Type != "ask_text" {
		t.Fatalf("expected an ask_text follow-up, got %+v", v.Question)
	}
}

func TestEvaluateRule5PickOneAfterFirstAnswer(t *testing.T) {
	p := &RulesProber{}
	branch := &branchstate.Branch{
		ID: "b1", Scope: "auth flow",
		Questions: []branchstate.Question{
			answered("q1", "ask_text", nil, map[string]any{"text": "we need SSO"}),
		},
	}
	v, err := p.Evaluate(context.Background(), branch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Done || v.Question == nil || v.Question.Type != "pick_one" {
		t.Fatalf("expected a pick_one follow-up after 1 answer, got %+v", v)
	}
}

func TestEvaluateRule5ConfirmAfterSecondAnswer(t *testing.T) {
	p := &RulesProber{}
	branch := &branchstate.Branch{
		ID: "b1", Scope: "auth flow",
		Questions: []branchstate.Question{
			answered("q1", "ask_text", nil, map[string]any{"text": "we need SSO"}),
			answered("q2", "pick_one", nil, map[string]any{"choice": "OAuth"}),
		},
	}
	v, err := p.Evaluate(context.Background(), branch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Done || v.Question == nil || v.Question.Type != "confirm" {
		t.Fatalf("expected a confirm follow-up after 2 answers, got %+v", v)
	}
}

func TestEvaluateDuplicateFollowupFallsThroughToConfirm(t *testing.T) {
	backend, err := findings.NewLocalBackend(filepath.Join(t.TempDir(), "f.bin"), findings.LocalHashEmbedder(256), nil)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	ix := findings.NewIndex(backend)

	branch := &branchstate.Branch{
		ID: "b1", Scope: "auth flow",
		Questions: []branchstate.Question{
			answered("q1", "ask_text", nil, map[string]any{"text": "we need SSO"}),
		},
	}
	candidate := followupFor(branch.Scope, 1)
	text, _ := candidate.Config["question"].(string)
	if err := ix.RecordQuestion(context.Background(), "ses_a", "b1", "already-asked", text); err != nil {
		t.Fatalf("RecordQuestion: %v", err)
	}

	p := &RulesProber{Findings: ix}
	v, err := p.Evaluate(context.Background(), branch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Done || v.Question == nil || v.Question.Type != "confirm" {
		t.Fatalf("expected fallthrough to the confirm variant, got %+v", v)
	}
}

// TestFindingsDegradationIsByteIdentical asserts that a probe backed by a
// findings index whose embedding backend always errors makes exactly the
// same decision as a probe with no findings index at all: degradation must
// be silent and total, never a partial or differently-shaped verdict.
func TestFindingsDegradationIsByteIdentical(t *testing.T) {
	branch := func() *branchstate.Branch {
		return &branchstate.Branch{
			ID: "b1", Scope: "auth flow",
			Questions: []branchstate.Question{
				answered("q1", "ask_text", nil, map[string]any{"text": "we need SSO"}),
			},
		}
	}

	withoutIndex := &RulesProber{}
	vWithout, err := withoutIndex.Evaluate(context.Background(), branch())
	if err != nil {
		t.Fatalf("Evaluate (no index): %v", err)
	}

	withFailingIndex := &RulesProber{Findings: findings.NewIndex(failingBackend{})}
	vWith, err := withFailingIndex.Evaluate(context.Background(), branch())
	if err != nil {
		t.Fatalf("Evaluate (failing index): %v", err)
	}

	if vWithout.Done != vWith.Done || vWithout.Finding != vWith.Finding {
		t.Fatalf("expected identical Done/Finding, got %+v vs %+v", vWithout, vWith)
	}
	switch {
	case vWithout.Question == nil && vWith.Question == nil:
	case vWithout.Question == nil || vWith.Question == nil:
		t.Fatalf("expected both or neither to carry a question, got %+v vs %+v", vWithout.Question, vWith.Question)
	case !reflect.DeepEqual(*vWithout.Question, *vWith.Question):
		t.Fatalf("expected identical follow-up question, got %+v vs %+v", *vWithout.Question, *vWith.Question)
	}
}

func TestSynthesizeSkipsBareAffirmations(t *testing.T) {
	branch := &branchstate.Branch{
		Questions: []branchstate.Question{
			answered("q1", "pick_one", nil, map[string]any{"choice": "OAuth"}),
			answered("q2", "confirm", nil, map[string]any{"choice": "yes"}),
		},
	}
	got := synthesize(branch)
	if got != "OAuth" {
		t.Fatalf("expected headline-only summary %q, got %q", "OAuth", got)
	}
}

func TestSynthesizeJoinsQualifiers(t *testing.T) {
	branch := &branchstate.Branch{
		Questions: []branchstate.Question{
			answered("q1", "pick_one", nil, map[string]any{"choice": "OAuth"}),
			answered("q2", "ask_text", nil, map[string]any{"text": "needs refresh tokens"}),
		},
	}
	got := synthesize(branch)
	want := "OAuth; needs refresh tokens"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
