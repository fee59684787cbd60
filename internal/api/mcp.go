package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dreamsynth/internal/emotion"
	"github.com/kalambet/dreamsynth/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Dreams DreamReader
}

// NewMCPServer creates an MCP server exposing the dream journal read-only.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"dreamsynth",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dreamsynth: a journal of recorded dreams with their transcripts and emotion scores."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_dreams",
			mcp.WithDescription("List recorded dreams, newest first, with their dominant emotion."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of dreams (default 10)")),
		),
		mcpListDreams(deps),
	)

	s.AddTool(
		mcp.NewTool("get_dream",
			mcp.WithDescription("Return the full transcript and emotion scores of one dream."),
			mcp.WithString("id", mcp.Description("Dream id"), mcp.Required()),
		),
		mcpGetDream(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dreams://recent",
			"Recent Dreams",
			mcp.WithResourceDescription("Last 10 dreams (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

type mcpDreamSummary struct {
	ID        string        `json:"id"`
	CreatedAt string        `json:"created_at"`
	Text      string        `json:"text"`
	Dominant  emotion.Label `json:"dominant"`
}

func recentSummaries(ctx context.Context, dreams DreamReader, limit int) ([]mcpDreamSummary, error) {
	all, err := dreams.ListDreams(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]mcpDreamSummary, len(all))
	for i, d := range all {
		text := d.Text
		if utf8.RuneCountInString(text) > 200 {
			runes := []rune(text)
			text = string(runes[:200]) + "..."
		}
		out[i] = mcpDreamSummary{
			ID:        d.ID,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
			Text:      text,
			Dominant:  d.Emotions.Dominant(),
		}
	}
	return out, nil
}

func mcpListDreams(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}

		summaries, err := recentSummaries(ctx, deps.Dreams, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list dreams: %v", err)), nil
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal dreams: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetDream(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		d, err := deps.Dreams.GetDream(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("dream %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get dream: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"id":         d.ID,
			"created_at": d.CreatedAt.Format(time.RFC3339),
			"text":       d.Text,
			"emotions":   d.Emotions,
			"dominant":   d.Emotions.Dominant(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal dream: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries, err := recentSummaries(ctx, deps.Dreams, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list dreams: %w", err)
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal dreams: %w", err)
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
