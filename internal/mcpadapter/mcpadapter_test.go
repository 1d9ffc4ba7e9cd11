package mcpadapter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/brainstormd/brainstormd/internal/branchstate"
	"github.com/brainstormd/brainstormd/internal/orchestrator"
	"github.com/brainstormd/brainstormd/internal/probe"
	"github.com/brainstormd/brainstormd/internal/session"
	"github.com/mark3labs/mcp-go/mcp"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	sessions := session.NewStore(session.Config{SkipBrowser: true})
	state := branchstate.NewStore(branchstate.Config{Dir: t.TempDir()})
	orch := orchestrator.New(orchestrator.Config{Sessions: sessions, State: state, Probe: &probe.RulesProber{}})
	return New(orch, nil)
}

func callTool(ctx context.Context, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return handler(ctx, req)
}

func TestCreateBrainstormHandlerReturnsSessionInfo(t *testing.T) {
	a := newTestAdapter(t)
	branches, _ := json.Marshal([]map[string]any{
		{"id": "b1", "scope": "auth", "initial_question": map[string]any{"type": "ask_text", "config": map[string]any{"question": "What auth approach?"}}},
	})

	res, err := callTool(context.Background(), a.createBrainstormHandler, map[string]any{
		"request":  "improve auth",
		"branches": string(branches),
	})
	if err != nil {
		t.Fatalf("createBrainstormHandler: %v", err)
	}
	text := res.Content[0].(mcp.TextContent).Text
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", text, err)
	}
	if out["session_id"] == "" || out["url"] == "" {
		t.Fatalf("expected session_id and url in response, got %+v", out)
	}
}

func TestCreateBrainstormHandlerRejectsMalformedBranches(t *testing.T) {
	a := newTestAdapter(t)
	res, err := callTool(context.Background(), a.createBrainstormHandler, map[string]any{
		"request":  "improve auth",
		"branches": "not json",
	})
	if err != nil {
		t.Fatalf("handler should not itself error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for malformed branches")
	}
}

func TestGetSessionSummaryHandlerRoundTrips(t *testing.T) {
	a := newTestAdapter(t)
	branches, _ := json.Marshal([]map[string]any{
		{"id": "b1", "scope": "auth", "initial_question": map[string]any{"type": "ask_text", "config": map[string]any{"question": "What auth approach?"}}},
	})
	created, err := callTool(context.Background(), a.createBrainstormHandler, map[string]any{
		"request":  "improve auth",
		"branches": string(branches),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var createdOut map[string]any
	json.Unmarshal([]byte(created.Content[0].(mcp.TextContent).Text), &createdOut)
	sessionID := createdOut["session_id"].(string)

	res, err := callTool(context.Background(), a.getSessionSummaryHandler, map[string]any{"session_id": sessionID})
	if err != nil {
		t.Fatalf("getSessionSummaryHandler: %v", err)
	}
	summary := res.Content[0].(mcp.TextContent).Text
	if !strings.Contains(summary, "auth") {
		t.Fatalf("expected summary to mention branch scope, got %q", summary)
	}
}

func TestGetSessionSummaryHandlerUnknownSessionIsError(t *testing.T) {
	a := newTestAdapter(t)
	res, err := callTool(context.Background(), a.getSessionSummaryHandler, map[string]any{"session_id": "ses_missing"})
	if err != nil {
		t.Fatalf("handler should not itself error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for an unknown session")
	}
}
