package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput("warn", "json", &buf)

	Info("round %d read", 7)
	Warn("fetch attempt %d failed", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["level"] != "warning" {
		t.Errorf("level = %v, want warning", entry["level"])
	}
	if entry["msg"] != "fetch attempt 2 failed" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestInit_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput("debug", "text", &buf)

	Debug("waiting %ds", 30)
	if !strings.Contains(buf.String(), "waiting 30s") {
		t.Errorf("expected text output to contain message, got %q", buf.String())
	}
}

func TestInit_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput("verbose", "json", &buf)

	Debug("hidden")
	Info("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug message should be filtered at info level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("info message should be logged")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput("info", "json", &buf)

	WithFields(map[string]interface{}{"round_id": 3}).Info("settled")
	if !strings.Contains(buf.String(), `"round_id":3`) {
		t.Errorf("expected round_id field, got %q", buf.String())
	}
}
