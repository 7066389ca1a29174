package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigSetPersistsValueToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mozi.json")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	configPath = path
	t.Cleanup(func() { configPath = "" })

	setCmd := buildConfigSetCmd()
	setCmd.SetArgs([]string{"logging.level", "debug"})
	if err := setCmd.Execute(); err != nil {
		t.Fatalf("config set: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), `"level": "debug"`) {
		t.Fatalf("expected logging.level=debug to be persisted, got %s", data)
	}
}

func TestParseCLIValue_DecodesJSONWhenPossible(t *testing.T) {
	if v := parseCLIValue("true"); v != true {
		t.Fatalf("expected true to decode as bool, got %#v", v)
	}
	if v := parseCLIValue("debug"); v != "debug" {
		t.Fatalf("expected a non-JSON literal to pass through as a string, got %#v", v)
	}
	if v := parseCLIValue("42"); v != float64(42) {
		t.Fatalf("expected 42 to decode as a number, got %#v", v)
	}
}
