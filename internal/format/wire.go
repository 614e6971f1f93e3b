// Package format translates the two public request dialects (OpenAI
// chat-completions, Anthropic messages) into the canonical payload the
// upstream client sends, and builds the upstream's proprietary wire
// request from it, plus the inverse non-streaming response transforms
// (spec §4.2).
package format

import "encoding/json"

// upstreamToolResult is one tool result attached to the current user turn's
// context (spec §4.2 tool-result pairing).
type upstreamToolResult struct {
	ToolUseID string          `json:"toolUseId"`
	Content   json.RawMessage `json:"content"`
	Status    string          `json:"status"`
}

// upstreamToolSpec is one tool definition offered in the current turn's
// context.
type upstreamToolSpec struct {
	ToolSpecification struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	} `json:"toolSpecification"`
}

// upstreamUserInputMessageContext carries the current turn's tool results
// and tool catalogue (spec §4.2: "userInputMessageContext.toolResults").
type upstreamUserInputMessageContext struct {
	ToolResults []upstreamToolResult `json:"toolResults,omitempty"`
	Tools       []upstreamToolSpec   `json:"tools,omitempty"`
}

// upstreamUserInputMessage is a user turn on the wire.
type upstreamUserInputMessage struct {
	Content                 string                            `json:"content"`
	UserInputMessageContext *upstreamUserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

// upstreamToolUse is one assistant-emitted tool invocation on the wire.
type upstreamToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

// upstreamAssistantResponseMessage is an assistant turn on the wire.
type upstreamAssistantResponseMessage struct {
	Content  string             `json:"content"`
	ToolUses []upstreamToolUse `json:"toolUses,omitempty"`
}

// upstreamHistoryTurn is one entry of conversationState.history: exactly
// one of its two fields is set.
type upstreamHistoryTurn struct {
	UserInputMessage          *upstreamUserInputMessage          `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *upstreamAssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// upstreamRequest is the full proprietary wire request body.
type upstreamRequest struct {
	ConversationState struct {
		ConversationID string `json:"conversationId"`
		CurrentMessage struct {
			UserInputMessage upstreamUserInputMessage `json:"userInputMessage"`
		} `json:"currentMessage"`
		History []upstreamHistoryTurn `json:"history,omitempty"`
	} `json:"conversationState"`
	ProfileArn string `json:"profileArn,omitempty"`
}
