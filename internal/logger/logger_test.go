package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"invalid", LevelInfo}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := ParseLevel(tt.input); result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "perch.log")

	l, err := New(LevelWarn, logPath, "test")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer l.Close()

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	content := string(data)

	if strings.Contains(content, "debug message") || strings.Contains(content, "info message") {
		t.Errorf("messages below warn level were logged:\n%s", content)
	}
	if !strings.Contains(content, "warn message") || !strings.Contains(content, "error message") {
		t.Errorf("warn/error messages missing from log:\n%s", content)
	}
	if !strings.Contains(content, "[test]") {
		t.Errorf("prefix missing from log:\n%s", content)
	}
}

func TestWithPrefix(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "perch.log")

	l, err := New(LevelInfo, logPath, "gateway")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer l.Close()

	child := l.WithPrefix("terminal")
	child.Info("attached")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "[gateway:terminal]") {
		t.Errorf("combined prefix missing from log: %s", string(data))
	}
}

func TestLevelNoneDisablesOutput(t *testing.T) {
	l, err := New(LevelNone, "", "")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	// Should not panic or write anywhere.
	l.Error("dropped")
}
