package format

import gateway "github.com/tbuijibing/KiroGate/internal"

// sanitizeAndSplit normalizes a raw, dialect-parsed message sequence into
// a history slice plus the current (final) user turn, enforcing every
// invariant in spec §4.2/§8 invariants 1-2: the result strictly alternates
// user/assistant, begins with user, has no orphan tool_use or tool_result,
// and ends (in history) with an assistant turn so the current message is
// the lone trailing user turn.
func sanitizeAndSplit(raw []gateway.Message) (history []gateway.Message, current gateway.Message) {
	merged := mergeAdjacentSameRole(raw)
	merged = dedupeToolResults(merged)
	merged = stripOrphanToolUses(merged)
	merged = enforceAlternation(merged)
	merged = applyEmptyContentPolicy(merged)

	if len(merged) == 0 {
		return nil, gateway.Message{Role: gateway.RoleUser, Content: []gateway.ContentBlock{{Kind: gateway.BlockText, Text: "Continue"}}}
	}

	last := merged[len(merged)-1]
	if last.Role == gateway.RoleUser {
		return merged[:len(merged)-1], last
	}
	// History ended on an assistant turn; synthesize the trailing current
	// user turn (spec §4.2 "History must begin with user and end such that
	// a userInputMessage is the current message").
	return merged, gateway.Message{Role: gateway.RoleUser, Content: []gateway.ContentBlock{{Kind: gateway.BlockText, Text: "Continue"}}}
}

// Sanitize re-applies the full sanitization pipeline to an already-split
// (history, current) pair and is idempotent (spec §8 invariant 2): feeding
// it the output of sanitizeAndSplit returns the same pair unchanged.
func Sanitize(history []gateway.Message, current gateway.Message) ([]gateway.Message, gateway.Message) {
	full := append(append([]gateway.Message{}, history...), current)
	return sanitizeAndSplit(full)
}

// mergeAdjacentSameRole concatenates content blocks of consecutive
// messages sharing a role, which is how a tool-result turn (translated to
// RoleUser) merges into the real user message that follows it, and how a
// standalone tool-result turn with no real followup text simply becomes
// its own user turn (spec §4.2 "Tool-call/tool-result pairing").
func mergeAdjacentSameRole(msgs []gateway.Message) []gateway.Message {
	var out []gateway.Message
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content = append(out[n-1].Content, m.Content...)
			continue
		}
		out = append(out, m)
	}
	return out
}

// dedupeToolResults drops every tool_result block whose ToolUseID has
// already been seen, first occurrence wins (spec §4.2).
func dedupeToolResults(msgs []gateway.Message) []gateway.Message {
	seen := make(map[string]bool)
	for i := range msgs {
		var kept []gateway.ContentBlock
		for _, b := range msgs[i].Content {
			if b.Kind == gateway.BlockToolResult {
				if seen[b.ToolUseID] {
					continue
				}
				seen[b.ToolUseID] = true
			}
			kept = append(kept, b)
		}
		msgs[i].Content = kept
	}
	return msgs
}

// stripOrphanToolUses removes any tool_use block that has no matching
// tool_result anywhere in the sequence, unless it belongs to the final
// message in the sequence (spec §4.2 "Orphan tool-uses ... older than the
// last turn are stripped").
func stripOrphanToolUses(msgs []gateway.Message) []gateway.Message {
	if len(msgs) == 0 {
		return msgs
	}
	resultIDs := make(map[string]bool)
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Kind == gateway.BlockToolResult {
				resultIDs[b.ToolUseID] = true
			}
		}
	}
	lastIdx := len(msgs) - 1
	for i := range msgs {
		if i == lastIdx {
			continue
		}
		var kept []gateway.ContentBlock
		for _, b := range msgs[i].Content {
			if b.Kind == gateway.BlockToolUse && !resultIDs[b.ToolUseID] {
				continue
			}
			kept = append(kept, b)
		}
		msgs[i].Content = kept
	}
	return msgs
}

// enforceAlternation inserts a synthetic assistant "understood" between
// consecutive user turns, and a synthetic user "Continue" between
// consecutive assistant turns, so the result strictly alternates
// (spec §4.2 "Role alternation enforcement").
func enforceAlternation(msgs []gateway.Message) []gateway.Message {
	var out []gateway.Message
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			filler := gateway.Message{Role: gateway.RoleAssistant, Content: []gateway.ContentBlock{{Kind: gateway.BlockText, Text: "understood"}}}
			if m.Role == gateway.RoleAssistant {
				filler = gateway.Message{Role: gateway.RoleUser, Content: []gateway.ContentBlock{{Kind: gateway.BlockText, Text: "Continue"}}}
			}
			out = append(out, filler)
		}
		out = append(out, m)
	}
	if len(out) > 0 && out[0].Role != gateway.RoleUser {
		out = append([]gateway.Message{{Role: gateway.RoleUser, Content: []gateway.ContentBlock{{Kind: gateway.BlockText, Text: "Continue"}}}}, out...)
	}
	return out
}

// applyEmptyContentPolicy fills in text for turns left with no text
// content after the pairing/stripping passes (spec §4.2 "Empty-content
// policy").
func applyEmptyContentPolicy(msgs []gateway.Message) []gateway.Message {
	for i := range msgs {
		hasText := false
		hasToolUse := false
		hasToolResult := false
		for _, b := range msgs[i].Content {
			switch b.Kind {
			case gateway.BlockText:
				if b.Text != "" {
					hasText = true
				}
			case gateway.BlockToolUse:
				hasToolUse = true
			case gateway.BlockToolResult:
				hasToolResult = true
			}
		}
		if hasText {
			continue
		}
		switch {
		case msgs[i].Role == gateway.RoleAssistant && hasToolUse:
			msgs[i].Content = append(msgs[i].Content, gateway.ContentBlock{Kind: gateway.BlockText, Text: " "})
		case msgs[i].Role == gateway.RoleAssistant:
			msgs[i].Content = append(msgs[i].Content, gateway.ContentBlock{Kind: gateway.BlockText, Text: "I understand."})
		case msgs[i].Role == gateway.RoleUser && hasToolResult:
			// Tool results alone satisfy the turn; no filler text needed.
		default:
			msgs[i].Content = append(msgs[i].Content, gateway.ContentBlock{Kind: gateway.BlockText, Text: "Continue"})
		}
	}
	return msgs
}

// EnsureToolSpecCompleteness inserts empty-schema placeholders for any
// tool name referenced by a tool_use block in history that has no
// definition in tools (spec §4.2 "History tool-spec completeness").
func EnsureToolSpecCompleteness(history []gateway.Message, tools []gateway.ToolSpec) []gateway.ToolSpec {
	known := make(map[string]bool, len(tools))
	for _, t := range tools {
		known[t.Name] = true
	}
	for _, m := range history {
		for _, b := range m.Content {
			if b.Kind != gateway.BlockToolUse || known[b.ToolName] {
				continue
			}
			known[b.ToolName] = true
			tools = append(tools, gateway.ToolSpec{Name: b.ToolName, Schema: []byte(`{"type":"object"}`)})
		}
	}
	return tools
}
