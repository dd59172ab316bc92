package transcript

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Truncation limits, applied before deduplication.
const (
	MaxRequestLen = 500
	MaxCommandLen = 300
)

// SaveToolName is the tool whose invocation means the session was already
// saved by the agent.
const SaveToolName = "contox_save_session"

const mcpACPPrefix = "mcp__acp__"

var (
	editTools = map[string]bool{"Edit": true, "MultiEdit": true, "Write": true, "NotebookEdit": true}
	readTools = map[string]bool{"Read": true, "NotebookRead": true}
)

// Command is one shell command the agent ran.
type Command struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

// EditStats counts lines changed in one file by edit tools.
type EditStats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// TimeRange spans the timestamps seen in a batch.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SessionFacts is the reduction of a batch of transcript records.
type SessionFacts struct {
	FilesModified    []string             `json:"filesModified"`
	FilesRead        []string             `json:"filesRead"`
	UserRequests     []string             `json:"userRequests"`
	CommandsRun      []Command            `json:"commandsRun"`
	ContoxSaveCalled bool                 `json:"contoxSaveCalled"`
	TimeRange        *TimeRange           `json:"timeRange,omitempty"`
	EditStats        map[string]EditStats `json:"editStats,omitempty"`
}

// Empty reports whether the batch carried nothing worth sending.
func (f SessionFacts) Empty() bool {
	return len(f.FilesModified) == 0 && len(f.UserRequests) == 0 && len(f.CommandsRun) == 0
}

type toolInput struct {
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
	OldString    string `json:"old_string"`
	NewString    string `json:"new_string"`
	Content      string `json:"content"`
	NewSource    string `json:"new_source"`
	Edits        []struct {
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	} `json:"edits"`
	Command     string `json:"command"`
	Description string `json:"description"`
}

// ExtractFacts reduces records to SessionFacts. It is pure: the same records
// always give the same facts.
func ExtractFacts(records []Record) SessionFacts {
	f := SessionFacts{
		FilesModified: []string{},
		FilesRead:     []string{},
		UserRequests:  []string{},
		CommandsRun:   []Command{},
	}
	seenModified := map[string]bool{}
	seenRead := map[string]bool{}
	seenRequest := map[string]bool{}
	dmp := diffmatchpatch.New()

	for _, rec := range records {
		if ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp); err == nil {
			f.observe(ts)
		}

		blocks := rec.Blocks()
		if rec.Type == TypeUser && !hasToolResult(blocks) {
			for _, b := range blocks {
				if b.Type != ContentTypeText {
					continue
				}
				text := truncate(StripIDEContextTags(b.Text), MaxRequestLen)
				if text == "" || seenRequest[text] {
					continue
				}
				seenRequest[text] = true
				f.UserRequests = append(f.UserRequests, text)
			}
		}

		for _, b := range blocks {
			if b.Type != ContentTypeToolUse {
				continue
			}
			if IsSaveTool(b.Name) {
				f.ContoxSaveCalled = true
				continue
			}
			var in toolInput
			if len(b.Input) > 0 {
				_ = json.Unmarshal(b.Input, &in) //nolint:errcheck // partial input still yields what it can
			}
			name := strings.TrimPrefix(b.Name, mcpACPPrefix)
			switch {
			case editTools[name]:
				file := in.FilePath
				if file == "" {
					file = in.NotebookPath
				}
				if file == "" {
					continue
				}
				if !seenModified[file] {
					seenModified[file] = true
					f.FilesModified = append(f.FilesModified, file)
				}
				f.addStats(file, editStats(dmp, name, in))
			case readTools[name]:
				file := in.FilePath
				if file == "" {
					file = in.NotebookPath
				}
				if file != "" && !seenRead[file] {
					seenRead[file] = true
					f.FilesRead = append(f.FilesRead, file)
				}
			case name == "Bash":
				if in.Command == "" {
					continue
				}
				f.CommandsRun = append(f.CommandsRun, Command{
					Command:     truncate(in.Command, MaxCommandLen),
					Description: in.Description,
				})
			}
		}
	}
	return f
}

// IsSaveTool reports whether name is the save tool, bare or behind any MCP
// server prefix.
func IsSaveTool(name string) bool {
	if name == SaveToolName {
		return true
	}
	return strings.HasPrefix(name, "mcp__") && strings.HasSuffix(name, "__"+SaveToolName)
}

func (f *SessionFacts) observe(ts time.Time) {
	if f.TimeRange == nil {
		f.TimeRange = &TimeRange{Start: ts, End: ts}
		return
	}
	if ts.Before(f.TimeRange.Start) {
		f.TimeRange.Start = ts
	}
	if ts.After(f.TimeRange.End) {
		f.TimeRange.End = ts
	}
}

func (f *SessionFacts) addStats(file string, s EditStats) {
	if f.EditStats == nil {
		f.EditStats = map[string]EditStats{}
	}
	cur := f.EditStats[file]
	cur.Added += s.Added
	cur.Removed += s.Removed
	f.EditStats[file] = cur
}

func hasToolResult(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == ContentTypeToolResult {
			return true
		}
	}
	return false
}

func editStats(dmp *diffmatchpatch.DiffMatchPatch, tool string, in toolInput) EditStats {
	switch tool {
	case "Edit":
		return lineDiff(dmp, in.OldString, in.NewString)
	case "MultiEdit":
		var total EditStats
		for _, e := range in.Edits {
			s := lineDiff(dmp, e.OldString, e.NewString)
			total.Added += s.Added
			total.Removed += s.Removed
		}
		return total
	case "Write":
		return EditStats{Added: countLines(in.Content)}
	case "NotebookEdit":
		return EditStats{Added: countLines(in.NewSource)}
	}
	return EditStats{}
}

// lineDiff counts added and removed lines between two texts.
func lineDiff(dmp *diffmatchpatch.DiffMatchPatch, before, after string) EditStats {
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var s EditStats
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			s.Added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			s.Removed += countLines(d.Text)
		case diffmatchpatch.DiffEqual:
		}
	}
	return s
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
