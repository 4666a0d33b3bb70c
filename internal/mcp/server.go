// Package mcp exposes task management as Model Context Protocol tools over
// stdio, so an MCP-capable assistant can create, inspect, stop and delete
// scheduled tasks.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/tasks"
	"aisatoshi/internal/types"
)

// Tool names.
const (
	ToolCreateTask  = "create_task"
	ToolListTasks   = "list_tasks"
	ToolGetTask     = "get_task"
	ToolStopTask    = "stop_task"
	ToolDeleteTask  = "delete_task"
	ToolTaskHistory = "task_history"
	ToolTaskStats   = "task_stats"
)

const (
	defaultHistory   = 10
	maxHistoryLength = 100
)

// Server serves the task tools.
type Server struct {
	tasks           *tasks.Manager
	defaultInterval int
	mcp             *server.MCPServer
}

// NewServer creates the MCP server. defaultInterval is in seconds.
func NewServer(name, version string, mgr *tasks.Manager, defaultInterval int) *Server {
	if defaultInterval <= 0 {
		defaultInterval = int(tasks.DefaultInterval.Seconds())
	}
	s := &Server{
		tasks:           mgr,
		defaultInterval: defaultInterval,
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolCreateTask,
		mcp.WithDescription("Create a scheduled task"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Task name")),
		mcp.WithString("type", mcp.Description("Executor kind: monitor, browse or generic")),
		mcp.WithNumber("interval", mcp.Description("Seconds between runs; 0 runs once")),
		mcp.WithString("description", mcp.Description("Free-text description")),
		mcp.WithString("priority", mcp.Description("low, normal, high or urgent")),
		mcp.WithString("coin", mcp.Description("Coin for monitor tasks")),
		mcp.WithNumber("above", mcp.Description("Monitor: notify when the price rises to this USD value")),
		mcp.WithNumber("below", mcp.Description("Monitor: notify when the price falls to this USD value")),
		mcp.WithString("url", mcp.Description("Page for browse tasks")),
		mcp.WithString("message", mcp.Description("Reminder text for generic tasks")),
		mcp.WithString("conversation_id", mcp.Description("Chat that receives task notifications")),
	), s.handleCreate)

	s.mcp.AddTool(mcp.NewTool(ToolListTasks,
		mcp.WithDescription("List tasks, optionally filtered by status"),
		mcp.WithString("status", mcp.Description("pending, running, completed, failed, stopped or cancelled")),
	), s.handleList)

	s.mcp.AddTool(mcp.NewTool(ToolGetTask,
		mcp.WithDescription("Get one task by id or id prefix"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id or prefix")),
	), s.handleGet)

	selectorOpts := []mcp.ToolOption{
		mcp.WithString("id", mcp.Description("Task id or prefix")),
		mcp.WithString("name", mcp.Description("Case-insensitive name substring")),
		mcp.WithBoolean("all", mcp.Description("Apply to every task")),
	}
	s.mcp.AddTool(mcp.NewTool(ToolStopTask,
		append([]mcp.ToolOption{mcp.WithDescription("Stop matching pending or running tasks")}, selectorOpts...)...,
	), s.handleStop)
	s.mcp.AddTool(mcp.NewTool(ToolDeleteTask,
		append([]mcp.ToolOption{mcp.WithDescription("Delete matching tasks and their history")}, selectorOpts...)...,
	), s.handleDelete)

	s.mcp.AddTool(mcp.NewTool(ToolTaskHistory,
		mcp.WithDescription("Recent executions of a task"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id or prefix")),
		mcp.WithNumber("limit", mcp.Description("Maximum executions to return")),
	), s.handleHistory)

	s.mcp.AddTool(mcp.NewTool(ToolTaskStats,
		mcp.WithDescription("Task counts per status"),
	), s.handleStats)
}

// Serve runs the stdio transport until ctx is cancelled or in reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	logging.MCP("MCP server listening on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// =============================================================================
// HANDLERS
// =============================================================================

// taskParamKeys are copied from the tool arguments into task params.
var taskParamKeys = []string{"coin", "above", "below", "url", "question", "message", "conversation_id"}

func (s *Server) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	interval, err := tasks.IntervalParam(args["interval"], time.Duration(s.defaultInterval)*time.Second)
	if err != nil {
		return errorResult(err), nil
	}

	params := make(map[string]interface{})
	for _, k := range taskParamKeys {
		if v, ok := args[k]; ok && v != nil {
			params[k] = v
		}
	}

	t, err := s.tasks.Create(ctx, tasks.CreateRequest{
		Name:        req.GetString("name", ""),
		Kind:        types.TaskKind(req.GetString("type", "")),
		Description: req.GetString("description", ""),
		Priority:    types.ParsePriority(args["priority"]),
		Params:      params,
		Interval:    interval,
	})
	if err != nil {
		return errorResult(err), nil
	}
	logging.MCP("create_task: %s (%s)", t.Name, t.ShortID())
	return jsonResult(t)
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statuses []types.TaskStatus
	if v := strings.TrimSpace(req.GetString("status", "")); v != "" {
		st, err := types.ParseTaskStatus(v)
		if err != nil {
			return errorResult(err), nil
		}
		statuses = append(statuses, st)
	}
	all, err := s.tasks.List(ctx, statuses...)
	if err != nil {
		return errorResult(err), nil
	}
	if all == nil {
		all = []types.Task{}
	}
	return jsonResult(all)
}

func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	if t == nil {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", id)), nil
	}
	return jsonResult(t)
}

func (s *Server) handleStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stopped, err := s.tasks.Stop(ctx, tasks.SelectorFromParams(req.GetArguments()))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]interface{}{"stopped": len(stopped), "tasks": taskIDs(stopped)})
}

func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deleted, err := s.tasks.Delete(ctx, tasks.SelectorFromParams(req.GetArguments()))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]interface{}{"deleted": len(deleted), "tasks": taskIDs(deleted)})
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := int(req.GetFloat("limit", defaultHistory))
	if limit <= 0 || limit > maxHistoryLength {
		limit = defaultHistory
	}
	t, execs, err := s.tasks.Executions(ctx, id, limit)
	if err != nil {
		return errorResult(err), nil
	}
	if t == nil {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", id)), nil
	}
	if execs == nil {
		execs = []types.TaskExecution{}
	}
	return jsonResult(map[string]interface{}{"task_id": t.ID, "executions": execs})
}

func (s *Server) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.tasks.Stats(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(stats)
}

func taskIDs(ts []types.Task) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

// errorResult reports err to the caller as a tool error. Validation messages
// are passed through; anything else is logged and summarised.
func errorResult(err error) *mcp.CallToolResult {
	if msg, ok := types.ValidationMessage(err); ok {
		return mcp.NewToolResultError(msg)
	}
	logging.MCPWarn("tool call failed: %v", err)
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
