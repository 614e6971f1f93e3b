package format

import (
	"encoding/json"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// BuildUpstreamRequest renders a canonical payload as the upstream's
// proprietary wire request body (spec §3, §4.2).
func BuildUpstreamRequest(p *gateway.CanonicalPayload) ([]byte, error) {
	var req upstreamRequest
	req.ConversationState.ConversationID = p.ConversationID
	req.ConversationState.CurrentMessage.UserInputMessage = buildUserInputMessage(p.CurrentUserMessage, p.Tools)
	req.ConversationState.History = buildHistory(p.History)
	req.ProfileArn = p.ProfileRef
	return json.Marshal(req)
}

func buildHistory(msgs []gateway.Message) []upstreamHistoryTurn {
	turns := make([]upstreamHistoryTurn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == gateway.RoleUser {
			u := buildUserInputMessage(m, nil)
			turns = append(turns, upstreamHistoryTurn{UserInputMessage: &u})
		} else {
			a := buildAssistantMessage(m)
			turns = append(turns, upstreamHistoryTurn{AssistantResponseMessage: &a})
		}
	}
	return turns
}

func buildUserInputMessage(m gateway.Message, tools []gateway.ToolSpec) upstreamUserInputMessage {
	var content string
	var toolResults []upstreamToolResult
	for _, b := range m.Content {
		switch b.Kind {
		case gateway.BlockText:
			content += b.Text
		case gateway.BlockToolResult:
			status := "success"
			if b.ToolIsError {
				status = "error"
			}
			toolResults = append(toolResults, upstreamToolResult{
				ToolUseID: b.ToolUseID,
				Content:   json.RawMessage(quoteJSONString(b.ToolResult)),
				Status:    status,
			})
		}
	}

	out := upstreamUserInputMessage{Content: content}
	if len(toolResults) > 0 || len(tools) > 0 {
		ctx := &upstreamUserInputMessageContext{ToolResults: toolResults}
		for _, t := range tools {
			var spec upstreamToolSpec
			spec.ToolSpecification.Name = t.Name
			spec.ToolSpecification.Description = t.Description
			spec.ToolSpecification.InputSchema = t.Schema
			ctx.Tools = append(ctx.Tools, spec)
		}
		out.UserInputMessageContext = ctx
	}
	return out
}

func buildAssistantMessage(m gateway.Message) upstreamAssistantResponseMessage {
	var out upstreamAssistantResponseMessage
	for _, b := range m.Content {
		switch b.Kind {
		case gateway.BlockText:
			out.Content += b.Text
		case gateway.BlockToolUse:
			out.ToolUses = append(out.ToolUses, upstreamToolUse{
				ToolUseID: b.ToolUseID,
				Name:      b.ToolName,
				Input:     b.ToolInput,
			})
		}
	}
	return out
}

func quoteJSONString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}

// --- Degraded retry paths (spec §4.2 "Degraded retry paths") ---

// TruncateHistoryTier keeps the given fraction (tier 0 = 50%, tier 1 = 25%,
// tier 2 = none) of the oldest-sorted history, used by the upstream client
// on a content-too-long 400.
func TruncateHistoryTier(p *gateway.CanonicalPayload, tier int) *gateway.CanonicalPayload {
	out := *p
	n := len(p.History)
	switch tier {
	case 0:
		out.History = p.History[n/2:]
	case 1:
		out.History = p.History[n-n/4:]
	default:
		out.History = nil
	}
	return &out
}

// AggressiveSanitize strips every assistant tool_use and user tool_result
// block from history and re-enforces alternation, used after a
// non-content-length 400 (spec §4.2 "Aggressive sanitize").
func AggressiveSanitize(p *gateway.CanonicalPayload) *gateway.CanonicalPayload {
	stripped := make([]gateway.Message, len(p.History))
	for i, m := range p.History {
		var kept []gateway.ContentBlock
		for _, b := range m.Content {
			if b.Kind == gateway.BlockToolUse || b.Kind == gateway.BlockToolResult {
				continue
			}
			kept = append(kept, b)
		}
		stripped[i] = gateway.Message{Role: m.Role, Content: kept}
	}
	stripped = applyEmptyContentPolicy(enforceAlternation(mergeAdjacentSameRole(stripped)))

	out := *p
	out.History = stripped
	return &out
}
