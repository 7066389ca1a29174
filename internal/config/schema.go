package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchemaDoc is the compiled JSON Schema for the root config
// document. It only constrains the
// shapes that are cheap to express declaratively; cross-field invariants
// (e.g. an agent's primaryModel must name a declared model) are checked by
// Validate's Go-level pass below.
const configSchemaDoc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "paths": {
      "type": "object",
      "properties": {
        "baseDir": {"type": "string"},
        "sessionsDir": {"type": "string"},
        "workspaceDir": {"type": "string"}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]}
      }
    },
    "agents": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "homeDir": {"type": "string"},
          "workspaceDir": {"type": "string"},
          "primaryModel": {"type": "string"}
        }
      }
    },
    "models": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "providerId": {"type": "string"},
          "modelId": {"type": "string"},
          "contextWindow": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var (
	schemaOnce    sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr     error
)

func compiledConfigSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("mozi://config.schema.json", strings.NewReader(configSchemaDoc)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("mozi://config.schema.json")
	})
	return compiledSchema, schemaErr
}

// Validate runs schema validation followed by Go-level semantic checks.
// An empty result means the config is acceptable.
func Validate(cfg *Config) []string {
	if cfg == nil {
		return []string{"config is nil"}
	}

	var errs []string

	schema, err := compiledConfigSchema()
	if err != nil {
		errs = append(errs, fmt.Sprintf("schema compile error: %v", err))
	} else {
		payload, err := json.Marshal(cfg)
		if err != nil {
			errs = append(errs, fmt.Sprintf("schema marshal error: %v", err))
		} else {
			var doc any
			if err := json.Unmarshal(payload, &doc); err != nil {
				errs = append(errs, fmt.Sprintf("schema unmarshal error: %v", err))
			} else if err := schema.Validate(doc); err != nil {
				errs = append(errs, fmt.Sprintf("schema validation failed: %v", err))
			}
		}
	}

	errs = append(errs, validateSemantics(cfg)...)
	return errs
}

// validateSemantics checks cross-field invariants the declarative schema
// cannot express: every agent's primaryModel/fallbackModels/
// imageModelRouting/lifecycleControlModel must name a declared model, and
// every agent must have a home/workspace directory.
func validateSemantics(cfg *Config) []string {
	var errs []string
	for id, agent := range cfg.Agents {
		if strings.TrimSpace(agent.HomeDir) == "" {
			errs = append(errs, fmt.Sprintf("agents.%s.homeDir is required", id))
		}
		if strings.TrimSpace(agent.WorkspaceDir) == "" {
			errs = append(errs, fmt.Sprintf("agents.%s.workspaceDir is required", id))
		}
		if agent.PrimaryModel != "" {
			if _, ok := cfg.Models[agent.PrimaryModel]; !ok {
				errs = append(errs, fmt.Sprintf("agents.%s.primaryModel %q is not declared under models", id, agent.PrimaryModel))
			}
		}
		for _, ref := range agent.FallbackModels {
			if _, ok := cfg.Models[ref]; !ok {
				errs = append(errs, fmt.Sprintf("agents.%s.fallbackModels references undeclared model %q", id, ref))
			}
		}
		for _, ref := range agent.ImageModelRouting {
			if _, ok := cfg.Models[ref]; !ok {
				errs = append(errs, fmt.Sprintf("agents.%s.imageModelRouting references undeclared model %q", id, ref))
			}
		}
		if agent.LifecycleControlModel != "" {
			if _, ok := cfg.Models[agent.LifecycleControlModel]; !ok {
				errs = append(errs, fmt.Sprintf("agents.%s.lifecycleControlModel %q is not declared under models", id, agent.LifecycleControlModel))
			}
		}
	}
	return errs
}
