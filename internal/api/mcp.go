package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/BanjoBob15/gabby-discord-bot/internal/composer"
	"github.com/BanjoBob15/gabby-discord-bot/internal/persona"
	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Profiles ProfileService
	Persona  *persona.Persona
	Composer *composer.Composer // optional; built from the persona guidance when nil
	Version  string
}

// NewMCPServer creates an MCP server exposing profile tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Composer == nil {
		deps.Composer = composer.New(deps.Persona.Guidance)
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"gabby",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions(fmt.Sprintf("Profiles and prompts for %s, a chat relay that remembers each user's name, mood, condition and recent messages.", deps.Persona.Name)),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return the stored profile for a chat user as JSON. Unknown users get the default profile."),
			mcp.WithString("user_id", mcp.Description("Platform user id"), mcp.Required()),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("set_profile_field",
			mcp.WithDescription("Set one profile field. Mood and condition must come from the fixed vocabularies."),
			mcp.WithString("user_id", mcp.Description("Platform user id"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Field name"), mcp.Required(), mcp.Enum("name", "mood", "condition")),
			mcp.WithString("value", mcp.Description("New value"), mcp.Required()),
		),
		mcpSetProfileField(deps),
	)

	s.AddTool(
		mcp.NewTool("append_note",
			mcp.WithDescription("Append a line to the user's session notes."),
			mcp.WithString("user_id", mcp.Description("Platform user id"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Note text, stored verbatim"), mcp.Required()),
		),
		mcpAppendNote(deps),
	)

	s.AddTool(
		mcp.NewTool("compose_prompt",
			mcp.WithDescription("Return the system prompt that would be sent upstream for this user's next message."),
			mcp.WithString("user_id", mcp.Description("Platform user id"), mcp.Required()),
		),
		mcpComposePrompt(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"gabby://profiles",
			"Profiles",
			mcp.WithResourceDescription("All stored user profiles keyed by user id"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfiles(deps),
	)

	return s
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		p, err := deps.Profiles.Get(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get profile: %v", err)), nil
		}
		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetProfileField(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		patch, err := profile.FieldPatch(key, value)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if _, err := deps.Profiles.Update(ctx, userID, patch); err != nil {
			return mcpError(fmt.Sprintf("failed to set field: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s for %s", key, value, userID)), nil
	}
}

func mcpAppendNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil || text == "" {
			return mcpError("text is required"), nil
		}
		if err := deps.Profiles.AppendNote(ctx, userID, text); err != nil {
			return mcpError(fmt.Sprintf("failed to append note: %v", err)), nil
		}
		return mcpText("Note appended"), nil
	}
}

func mcpComposePrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		p, err := deps.Profiles.Get(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get profile: %v", err)), nil
		}
		return mcpText(deps.Composer.Compose(deps.Persona.Prompt, p)), nil
	}
}

func mcpResourceProfiles(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		all, err := deps.Profiles.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list profiles: %w", err)
		}
		ids := make([]string, 0, len(all))
		for id := range all {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		entries := make([]ProfileEntry, len(ids))
		for i, id := range ids {
			entries[i] = ProfileEntry{UserID: id, UserProfile: all[id]}
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profiles: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
