// Package transcript reads Claude Code JSONL transcripts incrementally and
// reduces them to session facts.
package transcript

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Record types kept by the reader.
const (
	TypeUser      = "user"
	TypeAssistant = "assistant"
)

// Content block types.
const (
	ContentTypeText       = "text"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
)

// Record is one conversational line of a transcript.
type Record struct {
	Type        string          `json:"type"`
	UUID        string          `json:"uuid,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	IsSidechain bool            `json:"isSidechain,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
}

// ContentBlock is one element of a message's content array.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// message holds content that is either a plain string or a block array.
type message struct {
	Content json.RawMessage `json:"content"`
}

// Blocks returns the record's content blocks. Plain string content is
// returned as a single text block.
func (r Record) Blocks() []ContentBlock {
	if len(r.Message) == 0 {
		return nil
	}
	var msg message
	if err := json.Unmarshal(r.Message, &msg); err != nil || len(msg.Content) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(msg.Content, &s); err == nil {
		return []ContentBlock{{Type: ContentTypeText, Text: s}}
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

var ideContextTagRegex = regexp.MustCompile(`(?s)<(ide_[a-z_]+|system-reminder)>.*?</(ide_[a-z_]+|system-reminder)>`)

// StripIDEContextTags removes editor-injected context such as
// <ide_opened_file>...</ide_opened_file> and trims the result.
func StripIDEContextTags(s string) string {
	return strings.TrimSpace(ideContextTagRegex.ReplaceAllString(s, ""))
}
