package multiagent

import (
	"errors"
	"path/filepath"
	"testing"
)

func newRegistry(t *testing.T, cfg *SubagentRegistryConfig) *SubagentRegistry {
	t.Helper()
	if cfg == nil {
		cfg = DefaultSubagentRegistryConfig()
	}
	cfg.SweepInterval = 0 // no background sweeper in tests
	reg := NewSubagentRegistry(cfg)
	t.Cleanup(reg.Stop)
	return reg
}

func register(t *testing.T, reg *SubagentRegistry, runID, child, parent string) *SubagentRunRecord {
	t.Helper()
	record, err := reg.Register(RegisterSubagentParams{
		RunID:               runID,
		ChildSessionKey:     child,
		RequesterSessionKey: parent,
		Task:                "task for " + runID,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", runID, err)
	}
	return record
}

func TestRegister_AppliesDefaultTimeout(t *testing.T) {
	reg := newRegistry(t, nil)
	record := register(t, reg, "r1", "child-1", "parent-1")
	if record.TimeoutMs != 10*60*1000 {
		t.Fatalf("TimeoutMs = %d, want default", record.TimeoutMs)
	}
}

func TestRegister_EnforcesPerParentConcurrencyCap(t *testing.T) {
	reg := newRegistry(t, nil)
	register(t, reg, "r1", "child-1", "parent-1")
	register(t, reg, "r2", "child-2", "parent-1")

	_, err := reg.Register(RegisterSubagentParams{
		RunID:               "r3",
		ChildSessionKey:     "child-3",
		RequesterSessionKey: "parent-1",
	})
	if !errors.Is(err, ErrConcurrencyExceeded) {
		t.Fatalf("expected ErrConcurrencyExceeded, got %v", err)
	}

	// A different parent is unaffected.
	register(t, reg, "r4", "child-4", "parent-2")
}

func TestRegister_CompletedRunsFreeCapacity(t *testing.T) {
	reg := newRegistry(t, nil)
	register(t, reg, "r1", "child-1", "parent-1")
	register(t, reg, "r2", "child-2", "parent-1")

	if err := reg.Complete("r1", &SubagentOutcome{Status: SubagentStatusCompleted}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	register(t, reg, "r3", "child-3", "parent-1")
}

func TestStartAndComplete_TransitionRecord(t *testing.T) {
	reg := newRegistry(t, nil)
	register(t, reg, "r1", "child-1", "parent-1")

	if err := reg.Start("r1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := reg.Get("r1"); got.StartedAt.IsZero() {
		t.Fatal("StartedAt not stamped")
	}

	if err := reg.Complete("r1", &SubagentOutcome{Status: SubagentStatusError, Error: "boom"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := reg.Get("r1")
	if !got.IsComplete() {
		t.Fatal("record should be complete")
	}
	if got.Outcome.Error != "boom" {
		t.Fatalf("Outcome.Error = %q", got.Outcome.Error)
	}
	if got.Duration() <= 0 {
		t.Fatalf("Duration = %v, want > 0", got.Duration())
	}
}

func TestFindByChildSessionKey(t *testing.T) {
	reg := newRegistry(t, nil)
	register(t, reg, "r1", "agent:sub::agent:main:tg:dm:u1", "agent:main:tg:dm:u1")

	if got := reg.FindByChildSessionKey("agent:sub::agent:main:tg:dm:u1"); got == nil || got.RunID != "r1" {
		t.Fatalf("FindByChildSessionKey = %+v", got)
	}
	if got := reg.FindByChildSessionKey("agent:other"); got != nil {
		t.Fatalf("expected nil for unknown child key, got %+v", got)
	}
}

func TestRegistry_PersistsAndRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subagent-runs.json")

	cfg := DefaultSubagentRegistryConfig()
	cfg.PersistPath = path
	reg := newRegistry(t, cfg)
	register(t, reg, "r1", "child-1", "parent-1")
	if err := reg.Complete("r1", &SubagentOutcome{Status: SubagentStatusCompleted, Result: "done"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	reg.Stop()

	cfg2 := DefaultSubagentRegistryConfig()
	cfg2.PersistPath = path
	restored := newRegistry(t, cfg2)
	got := restored.Get("r1")
	if got == nil {
		t.Fatal("restored registry is missing r1")
	}
	if got.Outcome == nil || got.Outcome.Result != "done" {
		t.Fatalf("restored outcome = %+v", got.Outcome)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	reg := newRegistry(t, nil)
	register(t, reg, "r1", "child-1", "parent-1")

	first := reg.Get("r1")
	first.Task = "mutated"
	if reg.Get("r1").Task == "mutated" {
		t.Fatal("Get must return a copy, not the stored record")
	}
}
