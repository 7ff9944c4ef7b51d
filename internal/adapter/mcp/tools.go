package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

const defaultTopLimit = 10

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.pushTaskTool(),
		s.listWorkersTool(),
		s.karmaTopTool(),
		s.queueStatsTool(),
	)
}

func (s *Server) pushTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("push_task",
		mcplib.WithDescription("Queue a task for the swarm"),
		mcplib.WithString("task_type",
			mcplib.Required(),
			mcplib.Description("Pipeline task type, e.g. Fetch_Paper"),
		),
		mcplib.WithObject("payload",
			mcplib.Description("Task payload"),
		),
		mcplib.WithString("session_id",
			mcplib.Description("Session the task belongs to"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handlePushTask}
}

func (s *Server) listWorkersTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_workers",
		mcplib.WithDescription("List the running swarm workers"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListWorkers}
}

func (s *Server) karmaTopTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("karma_top",
		mcplib.WithDescription("Karma leaderboard, highest score first"),
		mcplib.WithNumber("limit",
			mcplib.Description("Number of agents to return (default 10)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleKarmaTop}
}

func (s *Server) queueStatsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("queue_stats",
		mcplib.WithDescription("Task counts by status and current queue size"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleQueueStats}
}

func (s *Server) handlePushTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task queue not configured"), nil
	}
	args := req.GetArguments()
	taskType, ok := args["task_type"].(string)
	if !ok || taskType == "" {
		return mcplib.NewToolResultError("task_type is required"), nil
	}
	payload, _ := args["payload"].(map[string]any)
	t := task.New(taskType, payload)
	if sid, ok := args["session_id"].(string); ok {
		t.SessionID = sid
	}
	if err := s.deps.Tasks.Push(ctx, t); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to push %s", taskType), err), nil
	}
	return marshalResult(map[string]string{"id": t.ID, "status": string(task.StatusQueued)})
}

func (s *Server) handleListWorkers(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workers == nil {
		return mcplib.NewToolResultError("swarm not configured"), nil
	}
	return marshalResult(s.deps.Workers.List())
}

func (s *Server) handleKarmaTop(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Karma == nil {
		return mcplib.NewToolResultError("karma ledger not configured"), nil
	}
	limit := defaultTopLimit
	if n, ok := req.GetArguments()["limit"].(float64); ok && n >= 1 {
		limit = int(n)
	}
	top, err := s.deps.Karma.Top(ctx, limit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read leaderboard", err), nil
	}
	return marshalResult(top)
}

func (s *Server) handleQueueStats(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task queue not configured"), nil
	}
	stats, err := s.deps.Tasks.Stats(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read queue stats", err), nil
	}
	return marshalResult(stats)
}

func marshalResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
