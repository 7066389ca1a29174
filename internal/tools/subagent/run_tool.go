package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/mozi/internal/agent"
	"github.com/haasonsaas/mozi/internal/multiagent"
)

// RunTool is the subagent_run tool surface: it lets a bound agent spawn a
// child run and blocks until the child's final text is available. The
// parent session is taken from the turn's context.
type RunTool struct {
	Runner *Runner
}

// NewRunTool constructs the subagent_run tool.
func NewRunTool(runner *Runner) *RunTool {
	return &RunTool{Runner: runner}
}

func (t *RunTool) Name() string { return "subagent_run" }

func (t *RunTool) Description() string {
	return "Spawn a background subagent for a focused task and return its findings."
}

func (t *RunTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agentId": {"type": "string", "description": "Declared child agent to run; omit for an ephemeral child"},
			"prompt": {"type": "string", "description": "Task for the child agent"},
			"model": {"type": "string", "description": "Optional model override for this run"},
			"label": {"type": "string", "description": "Short label shown in announcements"}
		},
		"required": ["prompt"]
	}`)
}

type runToolParams struct {
	AgentID string `json:"agentId,omitempty"`
	Prompt  string `json:"prompt"`
	Model   string `json:"model,omitempty"`
	Label   string `json:"label,omitempty"`
}

// Execute spawns the child run. Allowlist and concurrency violations
// surface as isError tool results so the parent can react in-turn.
func (t *RunTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p runToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Prompt == "" {
		return &agent.ToolResult{Content: "prompt is required", IsError: true}, nil
	}

	sess := agent.SessionFromContext(ctx)
	if sess == nil {
		return &agent.ToolResult{Content: "no session bound to this turn", IsError: true}, nil
	}

	result, err := t.Runner.Run(ctx, RunParams{
		ParentSessionKey: sess.SessionKey,
		ParentAgentID:    sess.AgentID,
		AgentID:          p.AgentID,
		Prompt:           p.Prompt,
		Model:            p.Model,
		Label:            p.Label,
	})
	if err != nil {
		switch {
		case errors.Is(err, multiagent.ErrConcurrencyExceeded),
			errors.Is(err, ErrNotAllowlisted),
			errors.Is(err, ErrIsPrimaryAgent):
			return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		return nil, err
	}

	content := result.Result
	if content == "" {
		content = "(no output)"
	}
	return &agent.ToolResult{Content: content}, nil
}
