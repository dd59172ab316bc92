package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  slog.Level
	}{
		{"empty defaults to INFO", "", slog.LevelInfo},
		{"debug lowercase", "debug", slog.LevelDebug},
		{"warn uppercase", "WARN", slog.LevelWarn},
		{"warning alias", "warning", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"invalid defaults to INFO", "loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseLogLevel(tt.value); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestInit_WritesJSONLogs(t *testing.T) {
	root := t.TempDir()
	t.Cleanup(resetLogger)

	if err := Init(root, "watch"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx := WithComponent(context.Background(), "capture")
	ctx = WithSession(ctx, "sess_1")
	Info(ctx, "buffer flushed", slog.Int("commits", 2))
	Close()

	content, err := os.ReadFile(filepath.Join(root, ".contox", "logs", "watch.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v\ncontent: %s", err, content)
	}
	if entry["msg"] != "buffer flushed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["component"] != "capture" {
		t.Errorf("component = %v, want capture", entry["component"])
	}
	if entry["session_id"] != "sess_1" {
		t.Errorf("session_id = %v, want sess_1", entry["session_id"])
	}
	if entry["commits"] != float64(2) {
		t.Errorf("commits = %v, want 2", entry["commits"])
	}
}

func TestInit_RejectsUnsafeName(t *testing.T) {
	t.Cleanup(resetLogger)

	if err := Init(t.TempDir(), "../escape"); err == nil {
		t.Error("expected error for path traversal in log name")
	}
}

func TestLogDuration_AddsDurationField(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "debug")
	t.Cleanup(resetLogger)

	LogDuration(context.Background(), slog.LevelDebug, "git range captured", time.Now().Add(-50*time.Millisecond))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 50 {
		t.Errorf("duration_ms = %v, want >= 50", entry["duration_ms"])
	}
}
