// Package mcpadapter wraps the orchestrator's operations as MCP tools over
// stdio, the "tool-call surface" spec §1 describes as thin adapters over
// store operations (grounded on the teacher's own tool registration in
// main.go).
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brainstormd/brainstormd/internal/findings"
	"github.com/brainstormd/brainstormd/internal/orchestrator"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Adapter owns the orchestrator (and optionally the findings index for
// cross-session recall) that its MCP tools delegate to.
type Adapter struct {
	orch     *orchestrator.Orchestrator
	findings *findings.Index
}

// New constructs an Adapter. findingsIx may be nil, disabling search_findings.
func New(orch *orchestrator.Orchestrator, findingsIx *findings.Index) *Adapter {
	return &Adapter{orch: orch, findings: findingsIx}
}

// Register attaches every tool this adapter serves to s.
func (a *Adapter) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("create_brainstorm",
		mcp.WithDescription("Starts a new brainstorm across one or more parallel exploration branches, launching the human's browser session."),
		mcp.WithString("request", mcp.Required(), mcp.Description("The overall question or goal being brainstormed")),
		mcp.WithString("branches", mcp.Required(), mcp.Description("JSON array of {id, scope, initial_question:{type, config}}")),
	), a.createBrainstormHandler)

	s.AddTool(mcp.NewTool("await_brainstorm_complete",
		mcp.WithDescription("Blocks, routing human answers to their branches, until every branch is done or an iteration cap is hit; collects a final plan review."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The brainstorm session id returned by create_brainstorm")),
		mcp.WithString("browser_session_id", mcp.Required(), mcp.Description("The browser session id returned by create_brainstorm")),
	), a.awaitBrainstormCompleteHandler)

	s.AddTool(mcp.NewTool("end_brainstorm",
		mcp.WithDescription("Ends a brainstorm session, tearing down its browser session and returning final findings."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The brainstorm session id")),
	), a.endBrainstormHandler)

	s.AddTool(mcp.NewTool("get_session_summary",
		mcp.WithDescription("Renders the current status, questions, answers, and findings of every branch in a brainstorm session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The brainstorm session id")),
	), a.getSessionSummaryHandler)

	if a.findings != nil {
		s.AddTool(mcp.NewTool("search_findings",
			mcp.WithDescription("Recalls findings from past brainstorm sessions whose scope is semantically close to a query."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Natural language description of what to recall")),
		), a.searchFindingsHandler)
	}
}

type branchInput struct {
	ID              string `json:"id"`
	Scope           string `json:"scope"`
	InitialQuestion struct {
		Type   string         `json:"type"`
		Config map[string]any `json:"config"`
	} `json:"initial_question"`
}

func (a *Adapter) createBrainstormHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}
	requestText, _ := args["request"].(string)
	rawBranches, _ := args["branches"].(string)

	var inputs []branchInput
	if err := json.Unmarshal([]byte(rawBranches), &inputs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid branches: %v", err)), nil
	}
	specs := make([]orchestrator.BranchSpec, len(inputs))
	for i, in := range inputs {
		specs[i] = orchestrator.BranchSpec{
			ID:    in.ID,
			Scope: in.Scope,
			InitialQuestion: orchestrator.QuestionSpec{
				Type:   in.InitialQuestion.Type,
				Config: in.InitialQuestion.Config,
			},
		}
	}

	out, err := a.orch.CreateBrainstorm(requestText, specs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, _ := json.Marshal(map[string]any{
		"session_id":         out.SessionID,
		"browser_session_id": out.BrowserSessionID,
		"url":                out.URL,
		"summary":            out.Summary,
	})
	return mcp.NewToolResultText(string(body)), nil
}

func (a *Adapter) awaitBrainstormCompleteHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}
	sessionID, _ := args["session_id"].(string)
	browserSessionID, _ := args["browser_session_id"].(string)

	summary, err := a.orch.AwaitBrainstormComplete(ctx, sessionID, browserSessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(summary), nil
}

func (a *Adapter) endBrainstormHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}
	sessionID, _ := args["session_id"].(string)

	findingsText, err := a.orch.EndBrainstorm(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(findingsText), nil
}

func (a *Adapter) getSessionSummaryHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}
	sessionID, _ := args["session_id"].(string)

	summary, err := a.orch.GetSessionSummary(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(summary), nil
}

func (a *Adapter) searchFindingsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}
	query, _ := args["query"].(string)

	hits, err := a.findings.SearchRelatedFindings(ctx, query, 5)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("no related findings"), nil
	}
	body, _ := json.Marshal(hits)
	return mcp.NewToolResultText(string(body)), nil
}
