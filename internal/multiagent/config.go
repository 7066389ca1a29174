package multiagent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RegistryConfigFile is the YAML shape operators author to tune the
// subagent registry. All fields are optional; zero values fall back to
// DefaultSubagentRegistryConfig.
//
//	persistPath: sessions/subagent-runs.json
//	defaultTimeoutMs: 600000
//	archiveAfterMs: 3600000
//	sweepIntervalSeconds: 60
//	maxConcurrentPerParent: 2
type RegistryConfigFile struct {
	PersistPath            string `yaml:"persistPath"`
	DefaultTimeoutMs       int64  `yaml:"defaultTimeoutMs"`
	ArchiveAfterMs         int64  `yaml:"archiveAfterMs"`
	SweepIntervalSeconds   int    `yaml:"sweepIntervalSeconds"`
	MaxConcurrentPerParent int    `yaml:"maxConcurrentPerParent"`
}

// LoadRegistryConfig reads a YAML registry config from path and merges it
// over the defaults. A missing file is not an error: the defaults are
// returned unchanged.
func LoadRegistryConfig(path string) (*SubagentRegistryConfig, error) {
	cfg := DefaultSubagentRegistryConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	parsed, err := ParseRegistryConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("multiagent: %s: %w", path, err)
	}
	applyRegistryConfigFile(cfg, parsed)
	return cfg, nil
}

// ParseRegistryConfigYAML parses and validates the YAML document.
func ParseRegistryConfigYAML(data []byte) (*RegistryConfigFile, error) {
	var file RegistryConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.DefaultTimeoutMs < 0 {
		return nil, fmt.Errorf("defaultTimeoutMs must not be negative")
	}
	if file.ArchiveAfterMs < 0 {
		return nil, fmt.Errorf("archiveAfterMs must not be negative")
	}
	if file.SweepIntervalSeconds < 0 {
		return nil, fmt.Errorf("sweepIntervalSeconds must not be negative")
	}
	if file.MaxConcurrentPerParent < 0 {
		return nil, fmt.Errorf("maxConcurrentPerParent must not be negative")
	}
	return &file, nil
}

func applyRegistryConfigFile(cfg *SubagentRegistryConfig, file *RegistryConfigFile) {
	if file.PersistPath != "" {
		cfg.PersistPath = file.PersistPath
	}
	if file.DefaultTimeoutMs > 0 {
		cfg.DefaultTimeoutMs = file.DefaultTimeoutMs
	}
	if file.ArchiveAfterMs > 0 {
		cfg.ArchiveAfterMs = file.ArchiveAfterMs
	}
	if file.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(file.SweepIntervalSeconds) * time.Second
	}
	if file.MaxConcurrentPerParent > 0 {
		cfg.MaxConcurrentPerParent = file.MaxConcurrentPerParent
	}
}
