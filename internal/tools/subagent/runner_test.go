package subagent

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/mozi/internal/agent"
	"github.com/haasonsaas/mozi/internal/multiagent"
	"github.com/haasonsaas/mozi/pkg/models"
)

type runnerResolver struct {
	agents map[string]*models.AgentConfig
	models map[string]models.ModelSpec
}

func (f *runnerResolver) AgentConfig(agentID string) (*models.AgentConfig, bool) {
	cfg, ok := f.agents[agentID]
	return cfg, ok
}

func (f *runnerResolver) ModelByRef(ref string) (models.ModelSpec, bool) {
	m, ok := f.models[ref]
	return m, ok
}

type scriptedTransport struct {
	text string
}

func (t *scriptedTransport) Complete(ctx context.Context, req agent.CompletionRequest) (<-chan agent.CompletionChunk, error) {
	ch := make(chan agent.CompletionChunk, 2)
	ch <- agent.CompletionChunk{Text: t.text}
	ch <- agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func newRunnerFixture(t *testing.T) (*Runner, *multiagent.SubagentRegistry) {
	t.Helper()
	resolver := &runnerResolver{
		agents: map[string]*models.AgentConfig{
			"main": {
				ID:           "main",
				PrimaryModel: "big",
				Subagents:    models.SubagentPolicy{Allow: []string{"helper"}},
			},
			"helper": {
				ID:           "helper",
				PrimaryModel: "big",
			},
		},
		models: map[string]models.ModelSpec{
			"big": {ProviderID: "anthropic", ModelID: "big", ContextWindow: 200000},
		},
	}
	runtime := agent.NewRuntime(resolver, &scriptedTransport{text: "child findings"}, nil, nil, nil)

	cfg := multiagent.DefaultSubagentRegistryConfig()
	cfg.SweepInterval = 0
	registry := multiagent.NewSubagentRegistry(cfg)
	t.Cleanup(registry.Stop)

	return NewRunner(runtime, registry, resolver), registry
}

func TestRun_DeclaredChildUsesDerivedKey(t *testing.T) {
	runner, registry := newRunnerFixture(t)

	result, err := runner.Run(context.Background(), RunParams{
		ParentSessionKey: "agent:main:tg:dm:u1",
		ParentAgentID:    "main",
		AgentID:          "helper",
		Prompt:           "scan the logs",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ChildSessionKey != "helper::agent:main:tg:dm:u1" {
		t.Fatalf("ChildSessionKey = %q", result.ChildSessionKey)
	}
	if result.Result != "child findings" {
		t.Fatalf("Result = %q", result.Result)
	}

	record := registry.Get(result.RunID)
	if record == nil || !record.IsComplete() {
		t.Fatalf("record = %+v, want complete", record)
	}
	if record.Outcome.Result != "child findings" {
		t.Fatalf("Outcome.Result = %q", record.Outcome.Result)
	}
}

func TestRun_RejectsNonAllowlistedChild(t *testing.T) {
	runner, _ := newRunnerFixture(t)

	_, err := runner.Run(context.Background(), RunParams{
		ParentSessionKey: "agent:main:tg:dm:u1",
		ParentAgentID:    "main",
		AgentID:          "intruder",
		Prompt:           "x",
	})
	if !errors.Is(err, ErrNotAllowlisted) {
		t.Fatalf("err = %v, want ErrNotAllowlisted", err)
	}
}

func TestRun_RejectsPrimaryAgentAsChild(t *testing.T) {
	runner, _ := newRunnerFixture(t)

	_, err := runner.Run(context.Background(), RunParams{
		ParentSessionKey: "agent:main:tg:dm:u1",
		ParentAgentID:    "main",
		AgentID:          "main",
		Prompt:           "x",
	})
	if !errors.Is(err, ErrIsPrimaryAgent) {
		t.Fatalf("err = %v, want ErrIsPrimaryAgent", err)
	}
}

func TestRun_EphemeralChildrenGetSequencedKeys(t *testing.T) {
	runner, _ := newRunnerFixture(t)
	parent := "agent:main:tg:dm:u1"

	first, err := runner.Run(context.Background(), RunParams{
		ParentSessionKey: parent,
		ParentAgentID:    "main",
		Prompt:           "one",
	})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := runner.Run(context.Background(), RunParams{
		ParentSessionKey: parent,
		ParentAgentID:    "main",
		Prompt:           "two",
	})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if first.ChildSessionKey != "main-sub-1::"+parent {
		t.Fatalf("first key = %q", first.ChildSessionKey)
	}
	if second.ChildSessionKey != "main-sub-2::"+parent {
		t.Fatalf("second key = %q", second.ChildSessionKey)
	}
}

func TestRun_EnforcesConcurrencyCap(t *testing.T) {
	runner, registry := newRunnerFixture(t)
	parent := "agent:main:tg:dm:u1"

	// Occupy both slots with registered-but-unfinished runs.
	for i, runID := range []string{"r1", "r2"} {
		if _, err := registry.Register(multiagent.RegisterSubagentParams{
			RunID:               runID,
			ChildSessionKey:     "busy-" + string(rune('a'+i)),
			RequesterSessionKey: parent,
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	_, err := runner.Run(context.Background(), RunParams{
		ParentSessionKey: parent,
		ParentAgentID:    "main",
		Prompt:           "third",
	})
	if !errors.Is(err, multiagent.ErrConcurrencyExceeded) {
		t.Fatalf("err = %v, want ErrConcurrencyExceeded", err)
	}
}

func TestTaskSummary_Truncates(t *testing.T) {
	long := ""
	for i := 0; i < 20; i++ {
		long += "0123456789"
	}
	got := taskSummary(long)
	if len(got) != 80 {
		t.Fatalf("len = %d, want 80", len(got))
	}
}
