package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"Info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Output: &buf})

	log.Info("configured provider", "apiKey", "sk-live-abc123", "model", "claude-sonnet-4")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if record["apiKey"] != redactedValue {
		t.Fatalf("apiKey = %v, want %q", record["apiKey"], redactedValue)
	}
	if record["model"] != "claude-sonnet-4" {
		t.Fatalf("model = %v, want untouched value", record["model"])
	}
	if strings.Contains(buf.String(), "sk-live-abc123") {
		t.Fatal("raw secret leaked into log output")
	}
}

func TestNewLogger_ExtraRedactKeys(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Output: &buf, RedactKeys: []string{"nonce"}})

	log.Info("sealed", "recordNonce", "aabbcc")

	if strings.Contains(buf.String(), "aabbcc") {
		t.Fatal("value under a caller-declared redact key leaked")
	}
}

func TestNewLogger_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "warn", Output: &buf})

	log.Debug("hidden")
	log.Info("also hidden")
	log.Warn("visible")

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
	if buf.Len() == 0 {
		t.Fatal("expected a warn line")
	}
	if lines != 1 {
		t.Fatalf("expected exactly one log line, got %d: %q", lines, buf.String())
	}
}
