package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/auth"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/parser"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// WorkflowService is the part of the front door exposed as tools.
type WorkflowService interface {
	Parse(text string) parser.Result
	Submit(ctx context.Context, text, createdBy string) (*models.WorkflowRecord, error)
	Execute(ctx context.Context, id string) (*models.WorkflowRecord, error)
	ExecuteAsync(ctx context.Context, id string) (*models.WorkflowRecord, error)
	Get(ctx context.Context, id string) (*models.WorkflowRecord, error)
	List(ctx context.Context, limit int) ([]*models.WorkflowRecord, error)
}

type Server struct {
	mcpServer *server.MCPServer
	workflows WorkflowService
}

func NewServer(workflows WorkflowService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Verifiable Agent Workflows",
			version,
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"parse_command",
			mcp.WithDescription("Compile a natural-language command into workflow steps without storing it"),
			mcp.WithString("command", mcp.Required(), mcp.Description("The command, e.g. \"generate KYC proof for alice then send 0.1 USDC to alice if verified\"")),
		),
		s.handleParse,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_workflow",
			mcp.WithDescription("Store a workflow compiled from a command, optionally starting it"),
			mcp.WithString("command", mcp.Required(), mcp.Description("The command to compile")),
			mcp.WithBoolean("execute", mcp.Description("Start the workflow in the background")),
		),
		s.handleCreate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"execute_workflow",
			mcp.WithDescription("Run a created workflow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithBoolean("wait", mcp.Description("Block until the run finishes")),
		),
		s.handleExecute,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow",
			mcp.WithDescription("Fetch a workflow record with its step results"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleGet,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the most recent workflows"),
			mcp.WithNumber("limit", mcp.Description("Maximum number of workflows, default 20")),
		),
		s.handleList,
	)
}

func (s *Server) handleParse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil || command == "" {
		return mcp.NewToolResultError("Missing required parameter: command"), nil
	}
	return jsonResult(s.workflows.Parse(command))
}

func (s *Server) handleCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil || command == "" {
		return mcp.NewToolResultError("Missing required parameter: command"), nil
	}

	record, err := s.workflows.Submit(ctx, command, auth.OperatorFrom(ctx))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create workflow: %v", err)), nil
	}

	if request.GetBool("execute", false) {
		if _, err := s.workflows.ExecuteAsync(ctx, record.ID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Created workflow %s but failed to start it: %v", record.ID, err)), nil
		}
	}
	return jsonResult(record)
}

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	var record *models.WorkflowRecord
	if request.GetBool("wait", false) {
		record, err = s.workflows.Execute(ctx, id)
	} else {
		record, err = s.workflows.ExecuteAsync(ctx, id)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to execute workflow: %v", err)), nil
	}
	return jsonResult(record)
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	record, err := s.workflows.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow: %v", err)), nil
	}
	return jsonResult(record)
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	if limit < 1 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	records, err := s.workflows.List(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}
	return jsonResult(records)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// HTTPHandler serves the MCP SSE transport under /mcp/sse and /mcp/message.
func HTTPHandler(mcpServer *server.MCPServer) http.Handler {
	return server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))
}
