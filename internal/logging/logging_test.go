package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"debug", "DEBUG", false},
		{"", "INFO", false},
		{" Warn ", "WARN", false},
		{"warning", "WARN", false},
		{"error", "ERROR", false},
		{"trace", "INFO", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	console, err := os.Create(filepath.Join(dir, "console.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer console.Close()
	logFile := filepath.Join(dir, "luna.log")

	logger, closer, err := New(console, Options{Level: "info", File: logFile, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	logger.With("component", "sync").Info("sync pass complete", "success", 3)
	logger.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("file has %d lines, want 1:\n%s", len(lines), data)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "sync pass complete" || rec["component"] != "sync" || rec["success"] != float64(3) {
		t.Errorf("record = %v", rec)
	}

	// Not a terminal, so console output carries no escape codes.
	out, _ := os.ReadFile(console.Name())
	if !strings.Contains(string(out), "sync pass complete") || strings.Contains(string(out), "\x1b[") {
		t.Errorf("console = %q", out)
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, _, err := New(os.Stderr, Options{Level: "loud"}); err == nil {
		t.Error("expected error")
	}
}
