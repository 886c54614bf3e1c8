package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestJSONFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat(FormatJSON), WithOutput(&buf))
	l.With(Component("ingest")).Info("Event enqueued", Str("eventId", "e1"), Int("partition", 2), Err(errors.New("boom")))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines: %d", len(lines))
	}
	got := lines[0]
	if got["msg"] != "Event enqueued" || got["component"] != "ingest" || got["eventId"] != "e1" {
		t.Fatalf("unexpected record: %v", got)
	}
	if got["partition"].(float64) != 2 || got["error"] != "boom" {
		t.Fatalf("unexpected fields: %v", got)
	}
}

func TestLevelIsSharedAcrossChildren(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(WithFormat(FormatJSON), WithOutput(&buf), WithLevel(InfoLevel))
	child := root.WithComponent("dispatch")

	child.Debug("hidden")
	root.SetLevel(DebugLevel)
	child.Debug("visible")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "visible" {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if child.GetLevel() != DebugLevel {
		t.Fatalf("child level: %v", child.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err=%v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%q: got %v want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyConfigRejectsUnknownFormat(t *testing.T) {
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ApplyConfig(&Config{Level: "error", Format: "text", Output: "null"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithOutput(&buf))
	l.Info("Starting", Str("addr", ":8080"))
	if !strings.Contains(buf.String(), "Starting") || !strings.Contains(buf.String(), "addr=:8080") {
		t.Fatalf("unexpected text output: %q", buf.String())
	}
}
