package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/contox/cli/cmd/contox/cli/ingest"
	"github.com/contox/cli/cmd/contox/cli/redact"
)

// Change categories produced from facts.
const (
	CategoryRequest  = "request"
	CategoryFiles    = "files"
	CategoryCommands = "commands"
)

const maxTitleLen = 80

// SaveEvent builds the mcp_save payload for a batch of facts. User requests
// and commands pass through r first.
func (f SessionFacts) SaveEvent(r redact.Redactor, headSHA string) ingest.SaveEvent {
	var changes []ingest.Change

	for _, req := range f.UserRequests {
		text := r.String(req)
		changes = append(changes, ingest.Change{
			Category: CategoryRequest,
			Title:    firstLine(text, maxTitleLen),
			Content:  text,
		})
	}

	if len(f.FilesModified) > 0 {
		var b strings.Builder
		for _, file := range f.FilesModified {
			if s, ok := f.EditStats[file]; ok && (s.Added > 0 || s.Removed > 0) {
				fmt.Fprintf(&b, "%s (+%d -%d)\n", file, s.Added, s.Removed)
				continue
			}
			b.WriteString(file)
			b.WriteByte('\n')
		}
		changes = append(changes, ingest.Change{
			Category: CategoryFiles,
			Title:    fmt.Sprintf("%d file(s) modified", len(f.FilesModified)),
			Content:  strings.TrimRight(b.String(), "\n"),
		})
	}

	if len(f.CommandsRun) > 0 {
		var b strings.Builder
		for _, c := range f.CommandsRun {
			b.WriteString("$ ")
			b.WriteString(r.String(c.Command))
			if c.Description != "" {
				b.WriteString("  # ")
				b.WriteString(c.Description)
			}
			b.WriteByte('\n')
		}
		changes = append(changes, ingest.Change{
			Category: CategoryCommands,
			Title:    fmt.Sprintf("%d command(s) run", len(f.CommandsRun)),
			Content:  strings.TrimRight(b.String(), "\n"),
		})
	}

	return ingest.NewSaveEvent(f.Summary(r), changes, headSHA)
}

// Summary is a one-paragraph description of the facts.
func (f SessionFacts) Summary(r redact.Redactor) string {
	parts := []string{
		fmt.Sprintf("%d request(s)", len(f.UserRequests)),
		fmt.Sprintf("%d file(s) modified", len(f.FilesModified)),
		fmt.Sprintf("%d file(s) read", len(f.FilesRead)),
		fmt.Sprintf("%d command(s)", len(f.CommandsRun)),
	}
	s := "Coding session: " + strings.Join(parts, ", ") + "."
	if f.TimeRange != nil {
		s += fmt.Sprintf(" Active %s.", f.TimeRange.End.Sub(f.TimeRange.Start).Round(time.Second))
	}
	if len(f.UserRequests) > 0 {
		s += " Last request: " + firstLine(r.String(f.UserRequests[len(f.UserRequests)-1]), maxTitleLen)
	}
	return s
}

func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), n)
}
