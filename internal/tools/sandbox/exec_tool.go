package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/mozi/internal/agent"
	"github.com/haasonsaas/mozi/internal/observability"
	"github.com/haasonsaas/mozi/pkg/models"
)

// directSecretEnvKey rejects env overrides that look like a literal API
// key being smuggled in directly rather than resolved via the secret
// broker.
var directSecretEnvKey = regexp.MustCompile(`^[A-Z][A-Z0-9_]*_API_KEY$`)

// SecretResolver is the Secret Broker surface the exec tool needs: resolve
// one authRef's value for the calling agent, preferring agent scope.
type SecretResolver interface {
	GetValue(name, agentID string, scope *models.SecretScope) (string, error)
}

// AuthMissingError is returned as a tool-result (isError=true), never as
// a Go error, rendered as "AUTH_MISSING {name}".
type AuthMissingError struct{ Name string }

func (e *AuthMissingError) Error() string { return fmt.Sprintf("AUTH_MISSING %s", e.Name) }

// ExecTool implements the agent.Tool interface for the shell-exec
// surface, dispatching to whichever backend the agent's SandboxConfig
// selects and resolving authRefs through the secret broker.
type ExecTool struct {
	AgentID        string
	WorkspaceDir   string
	Sandbox        models.SandboxConfig
	Allowlist      []string
	AllowedSecrets []string
	Secrets        SecretResolver
}

// execToolParams is the JSON shape agents call this tool with.
type execToolParams struct {
	Command  string            `json:"command"`
	Cwd      string            `json:"cwd,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	AuthRefs []string          `json:"authRefs,omitempty"`
}

// NewExecTool constructs an ExecTool bound to one agent's sandbox
// configuration and secret allowlist.
func NewExecTool(agentID, workspaceDir string, sandboxCfg models.SandboxConfig, allowlist, allowedSecrets []string, secrets SecretResolver) *ExecTool {
	return &ExecTool{
		AgentID:        agentID,
		WorkspaceDir:   workspaceDir,
		Sandbox:        sandboxCfg,
		Allowlist:      allowlist,
		AllowedSecrets: allowedSecrets,
		Secrets:        secrets,
	}
}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Run a shell command in the agent's sandbox." }

func (t *ExecTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to run"},
			"cwd": {"type": "string", "description": "Working directory, relative to the workspace"},
			"env": {"type": "object", "additionalProperties": {"type": "string"}, "description": "Additional environment variables"},
			"authRefs": {"type": "array", "items": {"type": "string"}, "description": "Names of secrets to resolve and inject as env"}
		},
		"required": ["command"]
	}`)
}

// Execute runs the requested command, folding any sandbox- or
// secret-resolution error into an isError tool result rather than a Go
// error: sandbox and auth failures surface as tool results, not aborted
// turns.
func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p execToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}

	for key := range p.Env {
		if directSecretEnvKey.MatchString(key) {
			return &agent.ToolResult{
				Content: fmt.Sprintf("env %s looks like a literal secret; use authRefs instead", key),
				IsError: true,
			}, nil
		}
	}

	env := make(map[string]string, len(p.Env)+len(p.AuthRefs))
	for k, v := range p.Env {
		env[k] = v
	}

	for _, ref := range p.AuthRefs {
		name := strings.TrimSpace(ref)
		if !t.secretAllowed(name) {
			return &agent.ToolResult{Content: fmt.Sprintf("authRef %q is not in this agent's allowedSecrets", name), IsError: true}, nil
		}
		if t.Secrets == nil {
			return &agent.ToolResult{Content: (&AuthMissingError{Name: name}).Error(), IsError: true}, nil
		}
		value, err := t.Secrets.GetValue(name, t.AgentID, nil)
		if err != nil {
			return &agent.ToolResult{Content: (&AuthMissingError{Name: name}).Error(), IsError: true}, nil
		}
		env[envKeyForSecret(name)] = value
	}

	mode := string(t.Sandbox.Mode)
	if mode == "" {
		mode = string(models.SandboxOff)
	}
	execCtx, span := observability.DefaultTracer().TraceSandboxExec(ctx, mode)
	start := time.Now()
	out, err := dispatchExec(execCtx, t.Sandbox, t.WorkspaceDir, t.Allowlist, ExecParams{
		Command: p.Command,
		Cwd:     p.Cwd,
		Env:     env,
	})
	if err != nil {
		observability.DefaultTracer().RecordError(span, err)
		span.End()
		observability.DefaultMetrics().RecordSandboxExec(mode, "error", time.Since(start).Seconds())
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	span.End()
	status := "ok"
	if out.ExitCode != 0 {
		status = "error"
	}
	observability.DefaultMetrics().RecordSandboxExec(mode, status, time.Since(start).Seconds())

	return &agent.ToolResult{
		Content: formatExecOutput(out),
		IsError: out.ExitCode != 0,
	}, nil
}

// secretAllowed reports whether name (case-normalized, trimmed) is in
// the agent's allowedSecrets list.
func (t *ExecTool) secretAllowed(name string) bool {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, allowed := range t.AllowedSecrets {
		if strings.ToLower(strings.TrimSpace(allowed)) == normalized {
			return true
		}
	}
	return false
}

// envKeyForSecret derives the environment variable name a resolved secret
// is injected under: the secret's own name, uppercased.
func envKeyForSecret(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func formatExecOutput(out *ExecOutput) string {
	var sb strings.Builder
	if out.Stdout != "" {
		sb.WriteString("STDOUT:\n")
		sb.WriteString(out.Stdout)
		if !strings.HasSuffix(out.Stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if out.Stderr != "" {
		sb.WriteString("STDERR:\n")
		sb.WriteString(out.Stderr)
		if !strings.HasSuffix(out.Stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	sb.WriteString(fmt.Sprintf("Exit code: %d", out.ExitCode))
	return sb.String()
}
