// Package mcp exposes the orchestration engine to CLI and dashboard
// callers over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/brandloom/council/pkg/coordinator"
)

// Server wraps the coordinator with MCP protocol support
type Server struct {
	coordinator *coordinator.Coordinator
	mcpServer   *server.MCPServer
}

// NewServer creates an MCP server exposing the engine's caller surface
func NewServer(coord *coordinator.Coordinator) *Server {
	mcpServer := server.NewMCPServer(
		"Council Orchestration Engine",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		coordinator: coord,
		mcpServer:   mcpServer,
	}

	s.registerTools()

	return s
}

// registerTools registers the engine's caller-facing operations
func (s *Server) registerTools() {
	runTask := mcp.NewTool("run_task",
		mcp.WithDescription("Run a skill for a client to a terminal disposition (deliver, review, or failure)"),
		mcp.WithString("client_id",
			mcp.Required(),
			mcp.Description("Client the work belongs to"),
		),
		mcp.WithString("skill_name",
			mcp.Required(),
			mcp.Description("Declarative skill to execute"),
		),
		mcp.WithString("parameters",
			mcp.Description("JSON object of input parameters"),
		),
		mcp.WithBoolean("wait_for_duplicate",
			mcp.Description("Attach to an in-flight duplicate instead of failing fast"),
			mcp.DefaultBool(true),
		),
	)
	s.mcpServer.AddTool(runTask, s.handleRunTask)

	taskStatus := mcp.NewTool("get_task_status",
		mcp.WithDescription("Get the current status of a task"),
		mcp.WithString("task_id", mcp.Required()),
	)
	s.mcpServer.AddTool(taskStatus, s.handleGetTaskStatus)

	budgetStatus := mcp.NewTool("get_budget_status",
		mcp.WithDescription("Get a client's current-period budget spend and limit"),
		mcp.WithString("client_id", mcp.Required()),
	)
	s.mcpServer.AddTool(budgetStatus, s.handleGetBudgetStatus)

	reviewQueue := mcp.NewTool("list_review_queue",
		mcp.WithDescription("List artifacts staged for human review for a client"),
		mcp.WithString("client_id", mcp.Required()),
	)
	s.mcpServer.AddTool(reviewQueue, s.handleListReviewQueue)
}

// handleRunTask handles the run_task tool call
func (s *Server) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clientID, err := request.RequireString("client_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid client_id: %v", err)), nil
	}

	skillName, err := request.RequireString("skill_name")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid skill_name: %v", err)), nil
	}

	params := make(map[string]interface{})
	if raw := request.GetString("parameters", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid parameters JSON: %v", err)), nil
		}
	}

	wait := request.GetBool("wait_for_duplicate", true)

	log.Printf("Running task: client=%s skill=%s", clientID, skillName)

	result, err := s.coordinator.RunTask(ctx, clientID, skillName, params, coordinator.RunOptions{
		WaitForResult: wait,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Task failed: %v", err)), nil
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}

	return mcp.NewToolResultText(string(payload)), nil
}

// handleGetTaskStatus handles the get_task_status tool call
func (s *Server) handleGetTaskStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid task_id: %v", err)), nil
	}

	status, err := s.coordinator.GetTaskStatus(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get task status: %v", err)), nil
	}

	result := fmt.Sprintf("Task Status:\n"+
		"ID: %s\n"+
		"Client: %s\n"+
		"Skill: %s\n"+
		"Status: %s\n"+
		"Disposition: %s\n"+
		"Started: %s\n"+
		"Updated: %s",
		status.TaskID, status.ClientID, status.SkillName, status.Status,
		status.Disposition,
		status.StartedAt.Format("2006-01-02 15:04:05"),
		status.UpdatedAt.Format("2006-01-02 15:04:05"))

	if status.ErrorCode != "" {
		result += fmt.Sprintf("\nError: %s", status.ErrorCode)
	}

	return mcp.NewToolResultText(result), nil
}

// handleGetBudgetStatus handles the get_budget_status tool call
func (s *Server) handleGetBudgetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clientID, err := request.RequireString("client_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid client_id: %v", err)), nil
	}

	status, err := s.coordinator.GetBudgetStatus(ctx, clientID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get budget status: %v", err)), nil
	}

	result := fmt.Sprintf("Budget Status:\n"+
		"Client: %s\n"+
		"Period: %s\n"+
		"Spent: %d units\n"+
		"Reserved: %d units\n"+
		"Limit: %d units",
		status.ClientID, status.Period, status.SpentUnits,
		status.ReservedUnits, status.LimitUnits)

	return mcp.NewToolResultText(result), nil
}

// handleListReviewQueue handles the list_review_queue tool call
func (s *Server) handleListReviewQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clientID, err := request.RequireString("client_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid client_id: %v", err)), nil
	}

	docs, err := s.coordinator.ListReviewQueue(ctx, clientID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list review queue: %v", err)), nil
	}

	payload, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode review queue: %v", err)), nil
	}

	return mcp.NewToolResultText(string(payload)), nil
}

// Start starts the MCP server using stdio transport
func (s *Server) Start(ctx context.Context) error {
	log.Println("Starting MCP server...")
	return server.ServeStdio(s.mcpServer)
}
