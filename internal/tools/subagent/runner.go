package subagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/mozi/internal/agent"
	"github.com/haasonsaas/mozi/internal/multiagent"
	"github.com/haasonsaas/mozi/internal/prompt"
	"github.com/haasonsaas/mozi/pkg/models"
)

// ErrNotAllowlisted is returned when a parent asks for a child agent its
// subagents.allow list does not name.
var ErrNotAllowlisted = errors.New("subagent: agent is not in the parent's subagent allowlist")

// ErrIsPrimaryAgent is returned when a parent asks to spawn itself as a
// child.
var ErrIsPrimaryAgent = errors.New("subagent: a parent cannot spawn its own primary agent")

// ConfigLookup resolves agent configurations; *internal/agent*'s
// ModelResolver satisfies it.
type ConfigLookup interface {
	AgentConfig(agentID string) (*models.AgentConfig, bool)
}

// RunParams describes one child run request.
type RunParams struct {
	ParentSessionKey string
	ParentAgentID    string

	// AgentID selects a declared child agent. Empty spawns an ephemeral
	// child sharing the parent's agent configuration.
	AgentID string

	Prompt string

	// Model optionally overrides the child's model for this run only.
	Model string

	Label string
}

// RunResult is the child's final output.
type RunResult struct {
	RunID           string
	ChildSessionKey string
	Result          string
}

// Runner executes child agent runs against the agent runtime, registering
// each in the subagent registry so the lifecycle announcer can report its
// completion to the parent.
type Runner struct {
	runtime  *agent.Runtime
	registry *multiagent.SubagentRegistry
	configs  ConfigLookup

	mu       sync.Mutex
	tempSeqs map[string]int // parentSessionKey -> ephemeral child counter
}

// NewRunner constructs a Runner.
func NewRunner(runtime *agent.Runtime, registry *multiagent.SubagentRegistry, configs ConfigLookup) *Runner {
	return &Runner{
		runtime:  runtime,
		registry: registry,
		configs:  configs,
		tempSeqs: make(map[string]int),
	}
}

// Run executes one child run to completion and returns its final text.
// Declared children run under a derived key "{agentId}::{parentKey}" with
// the minimal subagent prompt; ephemeral children run under
// "{parentAgentId}-sub-{n}::{parentKey}" sharing the parent's full
// configuration. The per-parent concurrency cap applies to both.
func (r *Runner) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	childAgentID, childKey, promptMode, err := r.resolveChild(params)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	if _, err := r.registry.Register(multiagent.RegisterSubagentParams{
		RunID:               runID,
		ChildSessionKey:     childKey,
		RequesterSessionKey: params.ParentSessionKey,
		Task:                taskSummary(params.Prompt),
		Label:               params.Label,
		Cleanup:             "keep",
	}); err != nil {
		return nil, err
	}
	_ = r.registry.Start(runID)

	if params.Model != "" {
		if err := r.runtime.SetSessionModel(ctx, childKey, params.Model, false); err != nil {
			r.failRun(runID, err)
			return nil, err
		}
	}

	sess := &models.Session{
		SessionKey: childKey,
		AgentID:    childAgentID,
	}
	if promptMode != "" {
		sess.Metadata = map[string]any{"promptMode": string(promptMode)}
	}

	turn := []*models.Message{models.NewTextMessage(models.RoleUser, params.Prompt)}
	stream, err := r.runtime.Dispatch(ctx, sess, turn)
	if err != nil {
		r.failRun(runID, err)
		return nil, err
	}

	var out strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			r.failRun(runID, chunk.Error)
			return nil, chunk.Error
		}
		out.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}

	result := strings.TrimSpace(out.String())
	_ = r.registry.Complete(runID, &multiagent.SubagentOutcome{
		Status: multiagent.SubagentStatusCompleted,
		Result: result,
	})

	return &RunResult{RunID: runID, ChildSessionKey: childKey, Result: result}, nil
}

// resolveChild validates the request and derives the child's agent id,
// session key, and prompt mode.
func (r *Runner) resolveChild(params RunParams) (agentID, sessionKey string, mode prompt.Mode, err error) {
	if params.AgentID == "" {
		r.mu.Lock()
		r.tempSeqs[params.ParentSessionKey]++
		n := r.tempSeqs[params.ParentSessionKey]
		r.mu.Unlock()
		key := fmt.Sprintf("%s-sub-%d::%s", params.ParentAgentID, n, params.ParentSessionKey)
		return params.ParentAgentID, key, "", nil
	}

	if params.AgentID == params.ParentAgentID {
		return "", "", "", ErrIsPrimaryAgent
	}
	parentCfg, ok := r.configs.AgentConfig(params.ParentAgentID)
	if !ok {
		return "", "", "", fmt.Errorf("subagent: unknown parent agent %q", params.ParentAgentID)
	}
	allowed := false
	for _, id := range parentCfg.Subagents.Allow {
		if id == params.AgentID {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", "", "", fmt.Errorf("%w: %s", ErrNotAllowlisted, params.AgentID)
	}

	key := fmt.Sprintf("%s::%s", params.AgentID, params.ParentSessionKey)
	return params.AgentID, key, prompt.ModeSubagentMinimal, nil
}

func (r *Runner) failRun(runID string, err error) {
	_ = r.registry.Complete(runID, &multiagent.SubagentOutcome{
		Status: multiagent.SubagentStatusError,
		Error:  err.Error(),
	})
}

// taskSummary truncates a prompt into a short registry task description.
func taskSummary(prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) <= 80 {
		return trimmed
	}
	return trimmed[:77] + "..."
}
