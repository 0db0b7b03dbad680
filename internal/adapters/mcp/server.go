package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/core/ports"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Deps holds the read models exposed to MCP clients.
type Deps struct {
	Records ports.RecordReader
	Users   ports.UserReader
}

// NewServer creates an MCP server with the receipt inspection tools registered.
func NewServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"ticket-assistant",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("Read-only access to receipt extraction records and conversation state."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_records",
			mcp.WithDescription("List the most recent receipt extraction records of a user, newest first."),
			mcp.WithString("identifier", mcp.Description("Messaging identifier (phone number) of the user"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 10)")),
		),
		listRecords(deps),
	)

	s.AddTool(
		mcp.NewTool("get_record",
			mcp.WithDescription("Fetch one extraction record with its raw text and extracted fields."),
			mcp.WithString("record_id", mcp.Description("Record id"), mcp.Required()),
		),
		getRecord(deps),
	)

	s.AddTool(
		mcp.NewTool("get_conversation_state",
			mcp.WithDescription("Show the conversation state of a user."),
			mcp.WithString("identifier", mcp.Description("Messaging identifier (phone number) of the user"), mcp.Required()),
		),
		getConversationState(deps),
	)

	return s
}

func listRecords(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		identifier, err := req.RequireString("identifier")
		if err != nil || identifier == "" {
			return mcpError("identifier is required"), nil
		}

		limit := req.GetInt("limit", defaultListLimit)
		if limit <= 0 {
			limit = defaultListLimit
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}

		records, err := deps.Records.ListRecords(ctx, identifier, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("list records failed: %v", err)), nil
		}
		if records == nil {
			records = []domain.Record{}
		}
		return mcpJSON(records)
	}
}

func getRecord(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("record_id")
		if err != nil || id == "" {
			return mcpError("record_id is required"), nil
		}

		record, err := deps.Records.GetRecord(ctx, id)
		if domain.IsKind(err, domain.ErrRecordNotFound) {
			return mcpError(fmt.Sprintf("record %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("get record failed: %v", err)), nil
		}
		return mcpJSON(record)
	}
}

func getConversationState(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		identifier, err := req.RequireString("identifier")
		if err != nil || identifier == "" {
			return mcpError("identifier is required"), nil
		}

		user, err := deps.Users.GetUser(ctx, identifier)
		if domain.IsKind(err, domain.ErrUserNotFound) {
			return mcpText(fmt.Sprintf("%s has not contacted the service yet", identifier)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("get user failed: %v", err)), nil
		}
		return mcpJSON(user)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(data)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
