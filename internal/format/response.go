package format

import (
	"encoding/json"
	"strings"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/eventstream"
)

// toolCallResult is one completed tool invocation accumulated from the
// decoder's KindToolUseStop events.
type toolCallResult struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Accumulator collects decoder events into the final text/thinking/tool
// calls needed to build a non-streaming response (spec §4.2 "Inverse
// transforms"). It is also reused by the SSE encoders to know whether any
// tool call was emitted, for stop-reason derivation.
type Accumulator struct {
	Text                  strings.Builder
	Thinking               strings.Builder
	ToolCalls             []toolCallResult
	ContentLengthExceeded bool
	Usage                 gateway.Usage
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator { return &Accumulator{} }

// Apply folds one decoder event into the accumulator.
func (a *Accumulator) Apply(ev eventstream.Event) {
	switch ev.Kind {
	case eventstream.KindText:
		a.Text.WriteString(ev.Text)
	case eventstream.KindThinking:
		a.Thinking.WriteString(ev.Text)
	case eventstream.KindToolUseStop:
		if ev.ToolUseID == eventstream.ContentLengthExceededToolUseID {
			a.ContentLengthExceeded = true
			return
		}
		a.ToolCalls = append(a.ToolCalls, toolCallResult{ID: ev.ToolUseID, Name: ev.ToolName, Input: ev.ToolInputJSON})
	case eventstream.KindUsage:
		a.Usage.InputTokens += ev.Usage.InputTokens
		a.Usage.OutputTokens += ev.Usage.OutputTokens
		a.Usage.CacheReadTokens += ev.Usage.CacheReadTokens
		a.Usage.CacheWriteTokens += ev.Usage.CacheWriteTokens
	case eventstream.KindContextUsage:
		if ev.ContextWindowExceeded {
			a.Usage.ContextWindowExceeded = true
		}
	}
}

// Finalize replaces the accumulated usage with the terminal usage reported
// by Decoder.Close, which may carry an output-token estimate the per-event
// stream never saw.
func (a *Accumulator) Finalize(usage gateway.Usage) {
	a.Usage = usage
}

// FinishReason derives the OpenAI-dialect finish_reason from what was
// accumulated (spec §4.2, §4.4).
func (a *Accumulator) FinishReason() string {
	switch {
	case len(a.ToolCalls) > 0:
		return "tool_calls"
	case a.ContentLengthExceeded:
		return "length"
	default:
		return "stop"
	}
}

// StopReason derives the Anthropic-dialect stop_reason (spec §4.2, §4.4).
func (a *Accumulator) StopReason() string {
	switch {
	case len(a.ToolCalls) > 0:
		return "tool_use"
	case a.ContentLengthExceeded:
		return "max_tokens"
	default:
		return "end_turn"
	}
}

// BuildOpenAIResponse renders a non-streaming OpenAI chat-completions
// response from an accumulated stream (spec §4.2).
func BuildOpenAIResponse(id, model string, a *Accumulator) []byte {
	msg := map[string]any{"role": "assistant"}
	if a.Text.Len() > 0 {
		msg["content"] = a.Text.String()
	} else {
		msg["content"] = nil
	}
	if a.Thinking.Len() > 0 {
		msg["reasoning_content"] = a.Thinking.String()
	}
	if len(a.ToolCalls) > 0 {
		calls := make([]map[string]any, len(a.ToolCalls))
		for i, tc := range a.ToolCalls {
			calls[i] = map[string]any{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": string(tc.Input),
				},
			}
		}
		msg["tool_calls"] = calls
	}

	usage := map[string]any{
		"prompt_tokens":     a.Usage.InputTokens,
		"completion_tokens": a.Usage.OutputTokens,
		"total_tokens":      a.Usage.TotalTokens(),
	}
	if a.Usage.CacheReadTokens > 0 {
		usage["prompt_tokens_details"] = map[string]any{"cached_tokens": a.Usage.CacheReadTokens}
	}
	if a.Usage.ReasoningTokens > 0 || a.Thinking.Len() > 0 {
		usage["completion_tokens_details"] = map[string]any{"reasoning_tokens": a.Usage.ReasoningTokens}
	}

	resp := map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"model":   model,
		"choices": []map[string]any{{"index": 0, "message": msg, "finish_reason": a.FinishReason()}},
		"usage":   usage,
	}
	out, _ := json.Marshal(resp)
	return out
}

// BuildAnthropicResponse renders a non-streaming Anthropic messages
// response from an accumulated stream (spec §4.2).
func BuildAnthropicResponse(id, model string, a *Accumulator) []byte {
	var content []map[string]any
	if a.Thinking.Len() > 0 {
		content = append(content, map[string]any{"type": "thinking", "thinking": a.Thinking.String()})
	}
	if a.Text.Len() > 0 {
		content = append(content, map[string]any{"type": "text", "text": a.Text.String()})
	}
	for _, tc := range a.ToolCalls {
		var input any
		_ = json.Unmarshal(tc.Input, &input)
		content = append(content, map[string]any{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": input})
	}

	usage := map[string]any{
		"input_tokens":  a.Usage.InputTokens,
		"output_tokens": a.Usage.OutputTokens,
	}
	if a.Usage.CacheReadTokens > 0 {
		usage["cache_read_input_tokens"] = a.Usage.CacheReadTokens
	}
	if a.Usage.CacheWriteTokens > 0 {
		usage["cache_creation_input_tokens"] = a.Usage.CacheWriteTokens
	}

	resp := map[string]any{
		"id":          id,
		"type":        "message",
		"role":        "assistant",
		"model":       model,
		"content":     content,
		"stop_reason": a.StopReason(),
		"usage":       usage,
	}
	out, _ := json.Marshal(resp)
	return out
}
