package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func reset() {
	logger = nil
	once = *new(sync.Once)
}

func TestSetupWritesJSONToWriter(t *testing.T) {
	reset()
	t.Cleanup(reset)

	var buf bytes.Buffer
	Setup("DEBUG", "json", &buf)
	Debug("hello", "k", "v")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
	if out["level"] != "DEBUG" {
		t.Errorf("Expected level DEBUG, got %v", out["level"])
	}
}

func TestSetupTextFormat(t *testing.T) {
	reset()
	t.Cleanup(reset)

	var buf bytes.Buffer
	Setup("info", "text", &buf)
	Info("plain")
	Debug("suppressed")

	got := buf.String()
	if !strings.Contains(got, "msg=plain") {
		t.Errorf("Expected text output, got %q", got)
	}
	if strings.Contains(got, "suppressed") {
		t.Errorf("Debug line should be filtered at INFO, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if ValidLevel("bogus") {
		t.Error("bogus should not be a valid level")
	}
	if !ValidLevel("debug") {
		t.Error("debug should be a valid level")
	}
}

func TestContextHelpers(t *testing.T) {
	t.Cleanup(reset)

	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("bridge").Info("hello")
	WithInvocation("inv-123").Info("claimed")
	WithTool("RunCode").Info("called")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}

	want := []struct{ key, val string }{
		{"component", "bridge"},
		{"invocation_id", "inv-123"},
		{"tool", "RunCode"},
	}
	for i, w := range want {
		var out map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &out); err != nil {
			t.Fatalf("Failed to decode JSON: %v", err)
		}
		if out[w.key] != w.val {
			t.Errorf("Expected %s %q, got %v", w.key, w.val, out[w.key])
		}
	}
}
