package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brainstormd/brainstormd/internal/branchstate"
	"google.golang.org/genai"
)

// LLMProber asks a Gemini model to decide the next step for a branch,
// selected in place of RulesProber via config.ProbeConfig.Kind == "llm".
type LLMProber struct {
	Client *genai.Client
	Model  string
}

// llmVerdict is the JSON shape the model is constrained to return.
type llmVerdict struct {
	Done     bool   `json:"done"`
	Finding  string `json:"finding,omitempty"`
	Question *struct {
		Type   string         `json:"type"`
		Config map[string]any `json:"config"`
	} `json:"question,omitempty"`
}

var llmResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"done":    {Type: genai.TypeBoolean},
		"finding": {Type: genai.TypeString},
		"question": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"type":   {Type: genai.TypeString, Enum: []string{"pick_one", "confirm", "ask_text"}},
				"config": {Type: genai.TypeObject},
			},
			Required: []string{"type", "config"},
		},
	},
	Required: []string{"done"},
}

// Evaluate mirrors RulesProber's contract but delegates the judgment call to
// the model, giving it the branch's scope and full question/answer history.
func (p *LLMProber) Evaluate(ctx context.Context, branch *branchstate.Branch) (Verdict, error) {
	for _, q := range branch.Questions {
		if q.AnsweredAt == nil {
			return Verdict{Done: false}, nil
		}
	}
	if len(branch.Questions) == 0 {
		return Verdict{Done: false}, nil
	}

	prompt := buildPrompt(branch)
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}
	res, err := p.Client.Models.GenerateContent(ctx, p.Model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   llmResponseSchema,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("probe: generate content: %w", err)
	}
	text := res.Text()
	if text == "" {
		return Verdict{}, fmt.Errorf("probe: empty model response")
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return Verdict{}, fmt.Errorf("probe: decode model response: %w", err)
	}

	out := Verdict{Done: v.Done, Finding: v.Finding}
	if v.Question != nil {
		out.Question = &Question{Type: v.Question.Type, Config: v.Question.Config}
	}
	return out, nil
}

func buildPrompt(branch *branchstate.Branch) string {
	var b strings.Builder
	b.WriteString("You are steering a single line of inquiry (a branch) inside a brainstorm.\n")
	fmt.Fprintf(&b, "Branch scope: %s\n\n", branch.Scope)
	b.WriteString("Questions asked and their answers so far:\n")
	for i, q := range branch.Questions {
		fmt.Fprintf(&b, "%d. [%s] %v\n", i+1, q.Type, q.Config)
		if q.AnsweredAt != nil {
			fmt.Fprintf(&b, "   answer: %v\n", q.Answer)
		}
	}
	b.WriteString("\nDecide whether this branch is settled. If settled, set done=true and give a one or two " +
		"sentence finding summarizing the outcome. If not settled, set done=false and propose exactly one " +
		"follow-up question of type pick_one, confirm, or ask_text, with a config carrying at minimum a " +
		"\"question\" string field.\n")
	return b.String()
}
