package format

import (
	"strings"
	"testing"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

func TestDeriveThinkingDisabledByDefault(t *testing.T) {
	t.Parallel()

	mode, budget := DeriveThinking("claude-sonnet-4-5", 0, "", "", nil)
	if mode != gateway.ThinkingDisabled || budget != 0 {
		t.Errorf("DeriveThinking = (%q, %d), want disabled/0", mode, budget)
	}
}

func TestDeriveThinkingEnabledByModelName(t *testing.T) {
	t.Parallel()

	mode, budget := DeriveThinking("claude-sonnet-4-5-thinking", 0, "", "", nil)
	if mode != gateway.ThinkingEnabled {
		t.Errorf("mode = %q, want enabled", mode)
	}
	if budget != thinkingBudgetDefault {
		t.Errorf("budget = %d, want default %d", budget, thinkingBudgetDefault)
	}
}

func TestDeriveThinkingReasoningEffortMapsToBudget(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"low":    thinkingBudgetLow,
		"medium": thinkingBudgetMedium,
		"high":   thinkingBudgetHigh,
	}
	for effort, want := range cases {
		_, budget := DeriveThinking("claude-sonnet-4-5", 0, effort, "", nil)
		if budget != want {
			t.Errorf("DeriveThinking(effort=%q) budget = %d, want %d", effort, budget, want)
		}
	}
}

func TestDeriveThinkingExplicitBudgetCappedAtMax(t *testing.T) {
	t.Parallel()

	_, budget := DeriveThinking("claude-sonnet-4-5", thinkingBudgetMax*2, "", "", nil)
	if budget != thinkingBudgetMax {
		t.Errorf("budget = %d, want capped at %d", budget, thinkingBudgetMax)
	}
}

func TestDeriveThinkingAnthropicAdaptiveType(t *testing.T) {
	t.Parallel()

	mode, _ := DeriveThinking("claude-sonnet-4-5", 0, "", "adaptive", nil)
	if mode != gateway.ThinkingAdaptive {
		t.Errorf("mode = %q, want adaptive", mode)
	}
}

func TestDeriveThinkingOverrideForcesDecision(t *testing.T) {
	t.Parallel()

	no := false
	mode, budget := DeriveThinking("claude-sonnet-4-5-thinking", 5000, "high", "", &no)
	if mode != gateway.ThinkingDisabled || budget != 0 {
		t.Errorf("DeriveThinking with override=false = (%q, %d), want forced disabled", mode, budget)
	}

	yes := true
	mode, budget = DeriveThinking("claude-sonnet-4-5", 0, "", "", &yes)
	if mode != gateway.ThinkingEnabled {
		t.Errorf("DeriveThinking with override=true mode = %q, want enabled", mode)
	}
	if budget != thinkingBudgetDefault {
		t.Errorf("budget = %d, want default when forced on with no explicit budget", budget)
	}
}

func TestThinkingTagBlockVariants(t *testing.T) {
	t.Parallel()

	adaptive := ThinkingTagBlock(gateway.ThinkingAdaptive, 10)
	if !strings.Contains(adaptive, "<thinking_mode>adaptive</thinking_mode>") || !strings.Contains(adaptive, "<thinking_effort>10</thinking_effort>") {
		t.Errorf("adaptive tag block = %q, missing expected tags", adaptive)
	}

	enabled := ThinkingTagBlock(gateway.ThinkingEnabled, 2048)
	if !strings.Contains(enabled, "<thinking_mode>enabled</thinking_mode>") || !strings.Contains(enabled, "<max_thinking_length>2048</max_thinking_length>") {
		t.Errorf("enabled tag block = %q, missing expected tags", enabled)
	}
}
