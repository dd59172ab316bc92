package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	claudeStopHookCommand = "contox hooks claude-code stop"
	claudeSettingsFile    = ".claude/settings.json"
	mcpConfigFile         = ".mcp.json"
	mcpServerName         = "contox"
)

type claudeHookMatcher struct {
	Matcher string            `json:"matcher"`
	Hooks   []claudeHookEntry `json:"hooks"`
}

type claudeHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// installClaudeStopHook adds the collect hook to .claude/settings.json,
// leaving every other setting and hook untouched. Reports whether the file
// changed.
func installClaudeStopHook(root string) (bool, error) {
	path := filepath.Join(root, claudeSettingsFile)

	raw, err := readJSONObject(path)
	if err != nil {
		return false, err
	}
	hooks := make(map[string]json.RawMessage)
	if h, ok := raw["hooks"]; ok {
		if err := json.Unmarshal(h, &hooks); err != nil {
			return false, fmt.Errorf("failed to parse hooks in %s: %w", claudeSettingsFile, err)
		}
	}
	var stop []claudeHookMatcher
	if s, ok := hooks["Stop"]; ok {
		if err := json.Unmarshal(s, &stop); err != nil {
			return false, fmt.Errorf("failed to parse Stop hooks in %s: %w", claudeSettingsFile, err)
		}
	}

	for _, m := range stop {
		for _, h := range m.Hooks {
			if h.Command == claudeStopHookCommand {
				return false, nil
			}
		}
	}

	entry := claudeHookEntry{Type: "command", Command: claudeStopHookCommand}
	added := false
	for i := range stop {
		if stop[i].Matcher == "" {
			stop[i].Hooks = append(stop[i].Hooks, entry)
			added = true
			break
		}
	}
	if !added {
		stop = append(stop, claudeHookMatcher{Hooks: []claudeHookEntry{entry}})
	}

	if hooks["Stop"], err = json.Marshal(stop); err != nil {
		return false, fmt.Errorf("failed to marshal Stop hooks: %w", err)
	}
	if raw["hooks"], err = json.Marshal(hooks); err != nil {
		return false, fmt.Errorf("failed to marshal hooks: %w", err)
	}
	return true, writeJSONObject(path, raw)
}

// installMCPServer registers `contox mcp` in the project's .mcp.json.
func installMCPServer(root string) (bool, error) {
	path := filepath.Join(root, mcpConfigFile)

	raw, err := readJSONObject(path)
	if err != nil {
		return false, err
	}
	servers := make(map[string]json.RawMessage)
	if s, ok := raw["mcpServers"]; ok {
		if err := json.Unmarshal(s, &servers); err != nil {
			return false, fmt.Errorf("failed to parse mcpServers in %s: %w", mcpConfigFile, err)
		}
	}
	if _, ok := servers[mcpServerName]; ok {
		return false, nil
	}

	if servers[mcpServerName], err = json.Marshal(map[string]any{
		"command": "contox",
		"args":    []string{"mcp"},
	}); err != nil {
		return false, fmt.Errorf("failed to marshal mcp server: %w", err)
	}
	if raw["mcpServers"], err = json.Marshal(servers); err != nil {
		return false, fmt.Errorf("failed to marshal mcpServers: %w", err)
	}
	return true, writeJSONObject(path, raw)
}

func readJSONObject(path string) (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage)
	data, err := os.ReadFile(path) //nolint:gosec // path is repo root + fixed name
	if os.IsNotExist(err) {
		return raw, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return raw, nil
}

func writeJSONObject(path string, raw map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
