package format

import (
	"fmt"
	"strings"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

const (
	thinkingBudgetLow     = 1280
	thinkingBudgetMedium  = 2048
	thinkingBudgetHigh    = 4096
	thinkingBudgetDefault = 200_000
	thinkingBudgetMax     = 200_000
)

// DeriveThinking implements spec §4.2's thinking-enablement and budget
// rules. effort is the OpenAI reasoning_effort (or empty); explicitBudget
// is whichever of budget_tokens / reasoning.max_tokens the caller supplied
// (0 if none); anthropicType is Anthropic's thinking.type ("enabled",
// "adaptive", or empty); override lets a caller force the decision either
// way.
func DeriveThinking(model string, explicitBudget int, effort, anthropicType string, override *bool) (gateway.ThinkingMode, int) {
	enabled := strings.Contains(strings.ToLower(model), "thinking") ||
		effort != "" ||
		explicitBudget > 0 ||
		anthropicType == "enabled" || anthropicType == "adaptive"
	if override != nil {
		enabled = *override
	}
	if !enabled {
		return gateway.ThinkingDisabled, 0
	}

	mode := gateway.ThinkingEnabled
	if anthropicType == "adaptive" {
		mode = gateway.ThinkingAdaptive
	}

	budget := explicitBudget
	if budget <= 0 {
		switch effort {
		case "low":
			budget = thinkingBudgetLow
		case "medium":
			budget = thinkingBudgetMedium
		case "high":
			budget = thinkingBudgetHigh
		default:
			budget = thinkingBudgetDefault
		}
	}
	if budget > thinkingBudgetMax {
		budget = thinkingBudgetMax
	}
	return mode, budget
}

// ThinkingTagBlock renders the synthetic tag block prepended to the
// current user message when thinking is enabled (spec §4.2).
func ThinkingTagBlock(mode gateway.ThinkingMode, budget int) string {
	if mode == gateway.ThinkingAdaptive {
		return fmt.Sprintf("<thinking_mode>adaptive</thinking_mode>\n<thinking_effort>%d</thinking_effort>\n", budget)
	}
	return fmt.Sprintf("<thinking_mode>enabled</thinking_mode>\n<max_thinking_length>%d</max_thinking_length>\n", budget)
}

// toolSizeAdvisoryBlock is prepended when any tool is declared (spec §4.2).
const toolSizeAdvisoryBlock = "<tool_output_limits>Keep tool outputs concise; large outputs may be truncated.</tool_output_limits>\n"

// TimestampBlock renders the current UTC timestamp advisory line.
func TimestampBlock(isoUTC string) string {
	return "Current time: " + isoUTC + "\n"
}
