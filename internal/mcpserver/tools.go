package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"cmux/internal/types"
)

// CreateNotifyUserTool creates the NotifyUser tool definition
func CreateNotifyUserTool() mcp.Tool {
	return mcp.NewTool("cmux_notify_user",
		mcp.WithDescription("Push a notification to the cmux desktop client. Use for findings or questions that need the user's attention while they are away from your workspace."),
		mcp.WithString("workspace_id",
			mcp.Required(),
			mcp.Description("The workspace this notification belongs to"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The notification text shown to the user"),
		),
		mcp.WithString("priority",
			mcp.Description("'normal' (default) or 'urgent'"),
		),
	)
}

// CreateWorkspaceStatusTool creates the WorkspaceStatus tool definition
func CreateWorkspaceStatusTool() mcp.Tool {
	return mcp.NewTool("cmux_workspace_status",
		mcp.WithDescription("Report the streaming state of cmux workspaces. Pass workspace_id for one workspace, or omit it to list all."),
		mcp.WithString("workspace_id",
			mcp.Description("Workspace to inspect (optional)"),
		),
	)
}

// handleNotifyUser handles the cmux_notify_user tool call
func (s *MCPService) handleNotifyUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspaceID, err := req.RequireString("workspace_id")
	if err != nil {
		return mcp.NewToolResultError("workspace_id is required"), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message is required"), nil
	}

	priority := "normal"
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		if p, ok := args["priority"].(string); ok && p != "" {
			priority = p
		}
	}

	fmt.Printf("[MCP:NotifyUser] workspace=%s priority=%s\n", workspaceID, priority)

	if s.emitFunc != nil {
		s.emitFunc(types.EventEnvelope{
			WorkspaceID: workspaceID,
			EventType:   "notification:received",
			Payload: map[string]any{
				"message":   message,
				"priority":  priority,
				"timestamp": time.Now().Format(time.RFC3339),
			},
		})
	}

	return mcp.NewToolResultText("Notification delivered"), nil
}

// handleWorkspaceStatus handles the cmux_workspace_status tool call
func (s *MCPService) handleWorkspaceStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.status == nil {
		return mcp.NewToolResultError("workspace status not available"), nil
	}

	var ids []string
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		if id, ok := args["workspace_id"].(string); ok && id != "" {
			ids = []string{id}
		}
	}
	if ids == nil {
		ids = s.status.WorkspaceIDs()
	}

	if len(ids) == 0 {
		return mcp.NewToolResultText("No active workspaces."), nil
	}

	var sb strings.Builder
	for _, id := range ids {
		state := "idle"
		if s.status.CanInterrupt(id) {
			state = "streaming"
		}
		model := s.status.CurrentModel(id)
		if model == "" {
			model = "unknown"
		}
		sb.WriteString(fmt.Sprintf("- %s: %s (model: %s)\n", id, state, model))
	}
	return mcp.NewToolResultText(sb.String()), nil
}
