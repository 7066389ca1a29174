package agents

import "testing"

func TestResolveContextWindowInfo_Precedence(t *testing.T) {
	models := stubModels{windows: map[string]int{"openai/gpt-4o": 128000}}
	agent := stubAgent{tokens: 64000}

	cases := []struct {
		name       string
		modelValue int
		models     ModelsConfigProvider
		agent      AgentConfigProvider
		wantTokens int
		wantSource ContextWindowSource
	}{
		{"model wins", 200000, models, agent, 200000, ContextWindowSourceModel},
		{"models config next", 0, models, agent, 128000, ContextWindowSourceModelsConfig},
		{"agent config next", 0, stubModels{}, agent, 64000, ContextWindowSourceAgentContextTokens},
		{"default last", 0, stubModels{}, stubAgent{}, 32000, ContextWindowSourceDefault},
		{"negative model value ignored", -5, stubModels{}, stubAgent{}, 32000, ContextWindowSourceDefault},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := ResolveContextWindowInfo(tc.models, tc.agent, "openai", "gpt-4o", tc.modelValue, 32000)
			if info.Tokens != tc.wantTokens {
				t.Fatalf("Tokens = %d, want %d", info.Tokens, tc.wantTokens)
			}
			if info.Source != tc.wantSource {
				t.Fatalf("Source = %q, want %q", info.Source, tc.wantSource)
			}
		})
	}
}

type stubModels struct{ windows map[string]int }

func (s stubModels) GetModelContextWindow(provider, modelID string) int {
	return s.windows[provider+"/"+modelID]
}

type stubAgent struct{ tokens int }

func (s stubAgent) GetDefaultContextTokens() int { return s.tokens }

func TestEvaluateContextWindowGuard_Thresholds(t *testing.T) {
	cases := []struct {
		tokens      string
		value       int
		shouldWarn  bool
		shouldBlock bool
	}{
		{"below hard min", 15999, true, true},
		{"exactly hard min", 16000, true, false},
		{"below warn threshold", 31999, true, false},
		{"exactly warn threshold", 32000, false, false},
		{"comfortable", 128000, false, false},
		{"zero is unknown, not blocked", 0, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.tokens, func(t *testing.T) {
			got := EvaluateContextWindowGuard(ContextWindowInfo{Tokens: tc.value, Source: ContextWindowSourceModel}, nil)
			if got.ShouldWarn != tc.shouldWarn {
				t.Fatalf("ShouldWarn = %v, want %v", got.ShouldWarn, tc.shouldWarn)
			}
			if got.ShouldBlock != tc.shouldBlock {
				t.Fatalf("ShouldBlock = %v, want %v", got.ShouldBlock, tc.shouldBlock)
			}
		})
	}
}

func TestEvaluateContextWindowGuard_CustomThresholds(t *testing.T) {
	opts := &EvaluateContextWindowGuardOptions{WarnBelowTokens: 1000, HardMinTokens: 500}

	if got := EvaluateContextWindowGuard(ContextWindowInfo{Tokens: 499}, opts); !got.ShouldBlock {
		t.Fatal("499 should block under a 500 hard min")
	}
	if got := EvaluateContextWindowGuard(ContextWindowInfo{Tokens: 999}, opts); got.ShouldBlock || !got.ShouldWarn {
		t.Fatal("999 should warn but not block")
	}
}

func TestEvaluateContextWindowGuard_ClampsNegativeTokens(t *testing.T) {
	got := EvaluateContextWindowGuard(ContextWindowInfo{Tokens: -10}, nil)
	if got.Tokens != 0 {
		t.Fatalf("Tokens = %d, want clamped to 0", got.Tokens)
	}
	if got.ShouldBlock {
		t.Fatal("unknown (zero) window must not block")
	}
}
