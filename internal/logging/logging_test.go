package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	base := slog.New(handler)

	logger := WithSession(base, "test-session-123")
	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "session_id=test-session-123") {
		t.Errorf("Expected session_id in output, got: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected message in output, got: %s", output)
	}
}

func TestWithSession_NilLogger(t *testing.T) {
	if logger := WithSession(nil, "test-session"); logger != nil {
		t.Error("WithSession(nil, ...) should return nil")
	}
}

func TestInitialize_ComponentFilter(t *testing.T) {
	var buf bytes.Buffer
	if err := Initialize(Config{Level: "debug", Components: []string{"channel"}, Console: &buf}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer Initialize(Config{Level: "info"})

	Channel().Info("kept")
	Transport().Info("dropped")

	output := buf.String()
	if !strings.Contains(output, "kept") {
		t.Errorf("Expected channel record, got: %s", output)
	}
	if strings.Contains(output, "dropped") {
		t.Errorf("Transport record should be filtered, got: %s", output)
	}
}

func TestInitialize_FileLog(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "chatcore.log")
	err := Initialize(Config{
		Level:     "error",
		FileLevel: "debug",
		FileLog:   &FileLogConfig{Path: path, MaxSizeMB: 1},
		Console:   &console,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Get().Debug("file only")
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	defer Initialize(Config{Level: "info"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "file only") {
		t.Errorf("Expected record in log file, got: %s", data)
	}
	if strings.Contains(console.String(), "file only") {
		t.Errorf("Debug record should not reach console at error level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "warning", "error"} {
		if !ValidLevel(level) {
			t.Errorf("ValidLevel(%q) = false", level)
		}
	}
	if ValidLevel("verbose") {
		t.Error("ValidLevel(verbose) = true")
	}
}

func TestTee_KeepsPerHandlerLevels(t *testing.T) {
	var quiet, loud bytes.Buffer
	logger := slog.New(tee{
		slog.NewTextHandler(&quiet, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewTextHandler(&loud, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}).With("component", "history")

	logger.Debug("detail")
	logger.Warn("problem")

	if strings.Contains(quiet.String(), "detail") || !strings.Contains(quiet.String(), "problem") {
		t.Errorf("warn handler got: %s", quiet.String())
	}
	if !strings.Contains(loud.String(), "detail") || !strings.Contains(loud.String(), "component=history") {
		t.Errorf("debug handler got: %s", loud.String())
	}
}
