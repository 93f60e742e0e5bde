// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes case-file tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/maxshuai/casefile/internal/models"
	"github.com/maxshuai/casefile/internal/workflow"
)

// Server wraps the MCP server with case-file tools.
type Server struct {
	mcp *server.MCPServer
	svc *workflow.Service
}

// New creates a new MCP server with all case-file tools registered.
func New(svc *workflow.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Casefile",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_session_state",
		mcp.WithDescription("Get the derived state of an event session: phase, artifacts, version history."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("8-digit event date (YYYYMMDD)")),
	), s.getSessionState)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List event sessions, newest first, optionally filtered by phase."),
		mcp.WithString("phase", mcp.Description("Optional phase filter (created, intake, media, analysis, summaries, draft, published)")),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool("get_version_history",
		mcp.WithDescription("Get the checkpoint version history of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("8-digit event date (YYYYMMDD)")),
	), s.getVersionHistory)

	s.mcp.AddTool(mcp.NewTool("get_pipeline_status",
		mcp.WithDescription("Get background pipeline lifecycle and cached result types for a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("8-digit event date (YYYYMMDD)")),
	), s.getPipelineStatus)

	s.mcp.AddTool(mcp.NewTool("read_artifact",
		mcp.WithDescription("Read a session artifact by its zone-relative path (e.g. summaries/case-summaries.json)."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("8-digit event date (YYYYMMDD)")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Artifact path relative to the session directory")),
	), s.readArtifact)

	s.mcp.AddTool(mcp.NewTool("save_checkpoint",
		mcp.WithDescription("Save an edited checkpoint artifact as a new version. "+
			"Content MUST be valid JSON in the shape of the artifact being edited. "+
			"Read the contract first via the get_checkpoint_contract tool or the "+
			"casefile://checkpoint-format resource."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("8-digit event date (YYYYMMDD)")),
		mcp.WithString("phase", mcp.Required(), mcp.Description("Checkpoint phase: intake, summaries, or draft")),
		mcp.WithString("content", mcp.Required(), mcp.Description("JSON content of the edited artifact")),
	), s.saveCheckpoint)

	s.mcp.AddTool(mcp.NewTool("rollback_checkpoint",
		mcp.WithDescription("Restore an earlier checkpoint version. The restore is recorded as a new forward version."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("8-digit event date (YYYYMMDD)")),
		mcp.WithString("version", mcp.Required(), mcp.Description("Version number to restore")),
	), s.rollbackCheckpoint)

	s.mcp.AddTool(mcp.NewTool("search_summaries",
		mcp.WithDescription("Full-text search through case summaries across all sessions."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchSummaries)

	// Resource: checkpoint format contract.
	s.mcp.AddResource(
		mcp.NewResource("casefile://checkpoint-format", "Checkpoint Format Contract",
			mcp.WithResourceDescription("Canonical JSON shapes of the artifacts edited at checkpoint phases."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCheckpointFormatResource,
	)

	s.mcp.AddTool(mcp.NewTool("get_checkpoint_contract",
		mcp.WithDescription("Returns the canonical checkpoint artifact contract. "+
			"Call this before saving checkpoints to ensure correct structure."),
	), s.getCheckpointContract)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) getSessionState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, err := s.svc.GetState(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(state, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phase := ""
	if p, err := req.RequireString("phase"); err == nil {
		phase = p
	}
	rows, err := s.svc.ListSessions(ctx, models.Phase(phase))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getVersionHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	versions, err := s.svc.VersionHistory(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(versions, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getPipelineStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := s.svc.PipelineStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(status, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.svc.ReadArtifact(ctx, id, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) saveCheckpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	phase, err := req.RequireString("phase")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	version, err := s.svc.SaveCheckpoint(ctx, id, models.Phase(phase), []byte(content), "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved version %d at phase %s", version, phase)), nil
}

func (s *Server) rollbackCheckpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("version")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid version: %s", raw)), nil
	}

	newVersion, err := s.svc.Rollback(ctx, id, version)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("restored version %d as version %d", version, newVersion)), nil
}

func (s *Server) searchSummaries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getCheckpointContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(CheckpointFormatContract), nil
}

func (s *Server) readCheckpointFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "casefile://checkpoint-format",
			MIMEType: "text/markdown",
			Text:     CheckpointFormatContract,
		},
	}, nil
}
