package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/knowledge"
	"github.com/mikeboe/deep-research/pkg/research"
)

const mcpVersion = "1.0.0"

type GetJobArgs struct {
	ID string `json:"id" jsonschema:"The research job ID"`
}

type StartResearchArgs struct {
	Query    string `json:"query" jsonschema:"The research topic"`
	Feedback string `json:"feedback" jsonschema:"Answers to clarifying questions or any additional context"`
	Breadth  int    `json:"breadth,omitempty" jsonschema:"Queries per level, 1 to 10 (default 4)"`
	Depth    int    `json:"depth,omitempty" jsonschema:"Recursion levels, 1 to 5 (default 2)"`
}

type mcpTools struct {
	service *Service
}

// NewMCPServer exposes the knowledge base and the job queue as MCP tools.
func NewMCPServer(s *Service) *mcp.Server {
	t := &mcpTools{service: s}
	server := mcp.NewServer(&mcp.Implementation{Name: "deep-research-mcp", Version: mcpVersion}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_learnings",
		Description: "Semantic search over learnings and reports from past research jobs.",
	}, t.searchLearnings)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_research_job",
		Description: "Get the status, progress and report of a research job.",
	}, t.getResearchJob)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_research",
		Description: "Start a background deep research job and return its ID.",
	}, t.startResearch)

	return server
}

func NewMCPHandler(s *Service) http.Handler {
	server := NewMCPServer(s)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return textResult(string(b)), nil
}

func (t *mcpTools) searchLearnings(ctx context.Context, _ *mcp.CallToolRequest, args knowledge.SearchContentArgs) (*mcp.CallToolResult, any, error) {
	hits, err := t.service.SearchLearnings(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	if len(hits) == 0 {
		return textResult("No matching learnings."), nil, nil
	}
	return textResult(knowledge.FormatHits(hits)), nil, nil
}

func (t *mcpTools) getResearchJob(ctx context.Context, _ *mcp.CallToolRequest, args GetJobArgs) (*mcp.CallToolResult, any, error) {
	id, err := uuid.Parse(args.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid job id %q", args.ID)
	}
	job, err := t.service.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	res, err := jsonResult(job)
	return res, nil, err
}

func (t *mcpTools) startResearch(ctx context.Context, _ *mcp.CallToolRequest, args StartResearchArgs) (*mcp.CallToolResult, any, error) {
	req := research.StartRequest{
		Query:    args.Query,
		Feedback: args.Feedback,
		Breadth:  args.Breadth,
		Depth:    args.Depth,
	}
	if req.Breadth == 0 {
		req.Breadth = t.service.DefaultBreadth
	}
	if req.Depth == 0 {
		req.Depth = t.service.DefaultDepth
	}

	job, err := t.service.CreateJob(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return textResult(fmt.Sprintf("Started research job %s (breadth %d, depth %d). Poll it with get_research_job.", job.ID, job.Breadth, job.Depth)), nil, nil
}
