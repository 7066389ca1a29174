package multiagent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRegistryConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadRegistryConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadRegistryConfig: %v", err)
	}
	if cfg.MaxConcurrentPerParent != DefaultMaxConcurrentSubagents {
		t.Fatalf("MaxConcurrentPerParent = %d, want %d", cfg.MaxConcurrentPerParent, DefaultMaxConcurrentSubagents)
	}
	if cfg.DefaultTimeoutMs != 10*60*1000 {
		t.Fatalf("DefaultTimeoutMs = %d", cfg.DefaultTimeoutMs)
	}
}

func TestLoadRegistryConfig_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	doc := "persistPath: runs.json\ndefaultTimeoutMs: 30000\nsweepIntervalSeconds: 5\nmaxConcurrentPerParent: 4\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadRegistryConfig(path)
	if err != nil {
		t.Fatalf("LoadRegistryConfig: %v", err)
	}
	if cfg.PersistPath != "runs.json" {
		t.Fatalf("PersistPath = %q", cfg.PersistPath)
	}
	if cfg.DefaultTimeoutMs != 30000 {
		t.Fatalf("DefaultTimeoutMs = %d", cfg.DefaultTimeoutMs)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Fatalf("SweepInterval = %v", cfg.SweepInterval)
	}
	if cfg.MaxConcurrentPerParent != 4 {
		t.Fatalf("MaxConcurrentPerParent = %d", cfg.MaxConcurrentPerParent)
	}
	if cfg.ArchiveAfterMs != 60*60*1000 {
		t.Fatalf("ArchiveAfterMs should keep its default, got %d", cfg.ArchiveAfterMs)
	}
}

func TestParseRegistryConfigYAML_RejectsNegativeValues(t *testing.T) {
	if _, err := ParseRegistryConfigYAML([]byte("defaultTimeoutMs: -1\n")); err == nil {
		t.Fatal("expected an error for a negative timeout")
	}
	if _, err := ParseRegistryConfigYAML([]byte("maxConcurrentPerParent: -2\n")); err == nil {
		t.Fatal("expected an error for a negative concurrency cap")
	}
}

func TestParseRegistryConfigYAML_RejectsMalformedDocument(t *testing.T) {
	if _, err := ParseRegistryConfigYAML([]byte("persistPath: [unclosed\n")); err == nil {
		t.Fatal("expected a YAML parse error")
	}
}
