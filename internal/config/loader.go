package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/mozi/pkg/models"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// LoadResult is the outcome of Load: either a validated Config or a list
// of human-readable errors.
type LoadResult struct {
	Success bool
	Config  *Config
	Errors  []string
}

// LoadRaw reads a configuration file into a merged raw map, resolving
// $include directives.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	seen := map[string]bool{}
	return loadRawRecursive(path, seen)
}

// Load applies the fixed load pipeline: parse JSONC,
// process $include, substitute environment references, apply defaults, and
// validate with the schema. It never mutates the file on disk.
func Load(path string) LoadResult {
	raw, err := LoadRaw(path)
	if err != nil {
		return LoadResult{Errors: []string{err.Error()}}
	}

	raw = substituteEnvRefs(raw).(map[string]any)

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return LoadResult{Errors: []string{err.Error()}}
	}

	applyLoadDefaults(cfg)

	if errs := Validate(cfg); len(errs) > 0 {
		return LoadResult{Errors: errs}
	}

	return LoadResult{Success: true, Config: cfg}
}

// applyLoadDefaults expands `~`, fills paths.* and logging.level when
// left unset.
func applyLoadDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	defaults := Default()
	if cfg.Paths.BaseDir == "" {
		cfg.Paths.BaseDir = defaults.Paths.BaseDir
	}
	if cfg.Paths.SessionsDir == "" {
		cfg.Paths.SessionsDir = defaults.Paths.SessionsDir
	}
	if cfg.Paths.WorkspaceDir == "" {
		cfg.Paths.WorkspaceDir = defaults.Paths.WorkspaceDir
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Secrets.MasterKeyEnvVar == "" {
		cfg.Secrets.MasterKeyEnvVar = defaults.Secrets.MasterKeyEnvVar
	}
	if cfg.Secrets.StorePath == "" {
		cfg.Secrets.StorePath = defaults.Secrets.StorePath
	}
	if cfg.Runtime.AuthDefaultScope == "" {
		cfg.Runtime.AuthDefaultScope = defaults.Runtime.AuthDefaultScope
	}
	if cfg.Runtime.MaxTotalBytes == 0 {
		cfg.Runtime.MaxTotalBytes = defaults.Runtime.MaxTotalBytes
	}

	cfg.Paths.BaseDir = expandHome(cfg.Paths.BaseDir)
	cfg.Paths.SessionsDir = expandHome(cfg.Paths.SessionsDir)
	cfg.Paths.WorkspaceDir = expandHome(cfg.Paths.WorkspaceDir)
	cfg.Secrets.StorePath = expandHome(cfg.Secrets.StorePath)

	if cfg.Agents == nil {
		cfg.Agents = map[string]models.AgentConfig{}
	}
	if cfg.Models == nil {
		cfg.Models = map[string]models.ModelSpec{}
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = map[string]models.CapabilityProfile{}
	}
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// substituteEnvRefs walks a decoded JSON value and replaces "${VAR}" /
// "${VAR:-default}" string scalars with the environment value, recursing
// into maps and slices.
func substituteEnvRefs(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = substituteEnvRefs(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = substituteEnvRefs(vv)
		}
		return out
	case string:
		return expandEnvRef(val)
	default:
		return v
	}
}

// expandEnvRef resolves a single "${VAR}" or "${VAR:-default}" reference.
// Strings that are not entirely an env reference are left unchanged.
func expandEnvRef(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	inner := s[2 : len(s)-1]
	name := inner
	fallback := ""
	hasFallback := false
	if idx := strings.Index(inner, ":-"); idx >= 0 {
		name = inner[:idx]
		fallback = inner[idx+2:]
		hasFallback = true
	}
	if val, ok := os.LookupEnv(name); ok {
		return val
	}
	if hasFallback {
		return fallback
	}
	return s
}

// loadRawRecursive loads a config file, resolving $include directives with cycle detection.
func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	raw, err := parseRawBytes(data, absPath)
	if err != nil {
		return nil, err
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if len(includes) > 0 {
		baseDir := filepath.Dir(absPath)
		for _, inc := range includes {
			if strings.TrimSpace(inc) == "" {
				continue
			}
			incPath := inc
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(baseDir, incPath)
			}
			incRaw, err := loadRawRecursive(incPath, seen)
			if err != nil {
				return nil, err
			}
			merged = mergeMaps(merged, incRaw)
		}
	}

	merged = mergeMaps(merged, raw)
	return merged, nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	format := strings.ToLower(filepath.Ext(pathHint))
	if format == ".yaml" || format == ".yml" {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		var raw map[string]any
		if err := decoder.Decode(&raw); err != nil && err != io.EOF {
			return nil, err
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("failed to parse config: expected single document")
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return normalizeYAMLMap(raw), nil
	}

	// Default: JSONC/JSON5.
	var raw map[string]any
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// normalizeYAMLMap converts yaml.v3's map[string]interface{} nested values
// (which may arrive as map[any]any-free, but numeric scalars differ from
// JSON's float64) into the same shape json5 produces, so downstream code
// only ever handles one representation.
func normalizeYAMLMap(m map[string]any) map[string]any {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

func extractIncludes(raw map[string]any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var includeVal any
	if val, ok := raw[includeKey]; ok {
		includeVal = val
		delete(raw, includeKey)
	} else if val, ok := raw["include"]; ok {
		includeVal = val
		delete(raw, "include")
	}
	if includeVal == nil {
		return nil, nil
	}

	switch typed := includeVal.(type) {
	case string:
		return []string{typed}, nil
	case []string:
		return typed, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			value, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			paths = append(paths, value)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("include must be a string or list of strings")
	}
}

// mergeMaps deep-merges src into dst: objects merge recursively, arrays
// concatenate, scalars overwrite. These are $include's merge semantics,
// reused by Patch.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		switch typed := value.(type) {
		case map[string]any:
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, typed)
				continue
			}
		case []any:
			if existing, ok := dst[key].([]any); ok {
				dst[key] = append(append([]any{}, existing...), typed...)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig converts a parsed raw document into a typed Config via
// its json struct tags.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
