package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Log(&CallLog{TaskID: "T1", Function: "add", ExitCode: "SUCCESS", DurationMs: 3})
	l.Log(&CallLog{TaskID: "T2", Function: "div", ExitCode: "ERROR", Error: "division by zero"})

	out := buf.String()
	if !strings.Contains(out, "✓ T1 add SUCCESS 3ms") {
		t.Fatalf("missing success line in %q", out)
	}
	if !strings.Contains(out, "✗ T2 div ERROR") || !strings.Contains(out, "error: division by zero") {
		t.Fatalf("missing failure lines in %q", out)
	}

	buf.Reset()
	l.SetEnabled(false)
	l.Log(&CallLog{TaskID: "T3"})
	if buf.Len() != 0 {
		t.Fatalf("disabled logger wrote %q", buf.String())
	}
}

func TestLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.jsonl")
	l := NewLogger(nil)
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	l.Log(&CallLog{TaskID: "T1", Function: "add", ExitCode: "SUCCESS"})
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry CallLog
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("invalid JSON line %q: %v", data, err)
	}
	if entry.TaskID != "T1" || entry.Timestamp.IsZero() {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestSetLevelFromString(t *testing.T) {
	defer SetLevel(slog.LevelInfo)

	SetLevelFromString("debug")
	if !Op().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be enabled")
	}
	SetLevelFromString("WARN")
	if Op().Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
	SetLevelFromString("bogus")
	if Op().Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("unknown level must leave the level unchanged")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{" Info ", slog.LevelInfo, true},
		{"Warning", slog.LevelWarn, true},
		{"ERROR", slog.LevelError, true},
		{"trace", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLevel(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Fatalf("parseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestInitStructured_JSON(t *testing.T) {
	prev := Op()
	defer opLogger.Store(prev)

	var buf bytes.Buffer
	initStructured(&buf, "json", "info", "executor")
	OpWithTrace("abc", "def").Info("hello", "task_id", "T1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON record, got %q: %v", buf.String(), err)
	}
	for k, want := range map[string]string{"msg": "hello", "service": "executor", "trace_id": "abc", "span_id": "def", "task_id": "T1"} {
		if rec[k] != want {
			t.Fatalf("%s = %v, want %q", k, rec[k], want)
		}
	}
}
