// Package mcpserver exposes the session save tool over MCP stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/contox/cli/cmd/contox/cli/ingest"
	"github.com/contox/cli/cmd/contox/cli/transcript"
)

// Sender delivers events to the ingest endpoint.
type Sender interface {
	Send(ctx context.Context, ev ingest.Event) (*ingest.Result, error)
}

// TranscriptSource prepares and commits transcript batches.
type TranscriptSource interface {
	Locate() (transcript.Located, error)
	Prepare(loc transcript.Located) (*transcript.Batch, error)
	Commit(b *transcript.Batch) error
}

// SaveTool handles contox_save_session.
type SaveTool struct {
	sender      Sender
	transcripts TranscriptSource
	headSHA     func() string
}

// NewSaveTool creates a SaveTool. transcripts and headSHA may be nil.
func NewSaveTool(sender Sender, transcripts TranscriptSource, headSHA func() string) *SaveTool {
	return &SaveTool{sender: sender, transcripts: transcripts, headSHA: headSHA}
}

// Definition returns the MCP tool definition.
func (t *SaveTool) Definition() mcp.Tool {
	return mcp.NewTool(transcript.SaveToolName,
		mcp.WithDescription(
			"Save the current coding session to project memory. Pass a summary and the notable "+
				"changes; when the summary is omitted the session is reconstructed from the transcript.",
		),
		mcp.WithString("summary",
			mcp.Description("What was accomplished in this session"),
		),
		mcp.WithArray("changes",
			mcp.Description("Categorized changes made during the session"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{"type": "string", "description": "e.g. feature, bugfix, decision, architecture"},
					"title":    map[string]any{"type": "string"},
					"content":  map[string]any{"type": "string"},
				},
				"required": []string{"category", "title", "content"},
			}),
		),
	)
}

// Handle processes the tool call.
func (t *SaveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary := strings.TrimSpace(req.GetString("summary", ""))
	if summary == "" {
		return t.saveFromTranscript(ctx)
	}

	changes, err := parseChanges(req.GetArguments()["changes"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var head string
	if t.headSHA != nil {
		head = t.headSHA()
	}
	res, err := t.sender.Send(ctx, ingest.NewSaveEvent(summary, changes, head))
	if err != nil {
		return mcp.NewToolResultError(sendFailure(err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session saved (%d change(s), event %s).", len(changes), res.EventID)), nil
}

func (t *SaveTool) saveFromTranscript(ctx context.Context) (*mcp.CallToolResult, error) {
	if t.transcripts == nil {
		return mcp.NewToolResultError("'summary' is required"), nil
	}
	loc, err := t.transcripts.Locate()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no summary given and no transcript found: %v", err)), nil
	}
	batch, err := t.transcripts.Prepare(loc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading transcript: %v", err)), nil
	}
	if batch.Facts.Empty() {
		return mcp.NewToolResultText("Nothing new to save since the last save."), nil
	}
	res, err := t.sender.Send(ctx, batch.Event)
	if err != nil {
		return mcp.NewToolResultError(sendFailure(err)), nil
	}
	if err := t.transcripts.Commit(batch); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("saved, but the transcript cursor could not be stored: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session saved from transcript (%d request(s), %d file(s), event %s).",
		len(batch.Facts.UserRequests), len(batch.Facts.FilesModified), res.EventID)), nil
}

func sendFailure(err error) string {
	if ingest.IsCredentialError(err) {
		return fmt.Sprintf("%v. Run `contox init` to configure credentials.", err)
	}
	return fmt.Sprintf("save failed: %v", err)
}

func parseChanges(raw any) ([]ingest.Change, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.New("'changes' must be an array")
	}
	out := make([]ingest.Change, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("changes[%d] must be an object", i)
		}
		c := ingest.Change{}
		c.Category, _ = m["category"].(string)
		c.Title, _ = m["title"].(string)
		c.Content, _ = m["content"].(string)
		if c.Category == "" || c.Title == "" {
			return nil, fmt.Errorf("changes[%d] needs a category and a title", i)
		}
		out = append(out, c)
	}
	return out, nil
}

// Version is reported to MCP clients.
var Version = "dev"

// New builds the MCP server with the save tool registered.
func New(tool *SaveTool) *server.MCPServer {
	s := server.NewMCPServer(
		"contox",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.AddTool(tool.Definition(), tool.Handle)
	return s
}

// ServeStdio serves s over stdin and stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
