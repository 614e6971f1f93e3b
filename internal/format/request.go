package format

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// ParseOpenAIRequest converts an OpenAI chat-completions request body into
// a canonical payload (spec §4.2 forward transform).
func ParseOpenAIRequest(body []byte, convIDs *ConversationIDs, tools *ToolCache) (*gateway.CanonicalPayload, error) {
	root := gjson.ParseBytes(body)
	if !root.Exists() {
		return nil, gateway.ErrBadRequest
	}

	var system strings.Builder
	var raw []gateway.Message

	for _, m := range root.Get("messages").Array() {
		role := m.Get("role").String()
		switch role {
		case "system", "developer":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(openaiContentText(m.Get("content")))

		case "tool":
			raw = append(raw, gateway.Message{
				Role: gateway.RoleUser,
				Content: []gateway.ContentBlock{{
					Kind:        gateway.BlockToolResult,
					ToolUseID:   m.Get("tool_call_id").String(),
					ToolResult:  openaiContentText(m.Get("content")),
					ToolIsError: false,
				}},
			})

		case "user":
			raw = append(raw, gateway.Message{Role: gateway.RoleUser, Content: openaiUserBlocks(m.Get("content"))})

		case "assistant":
			blocks := openaiAssistantBlocks(m)
			raw = append(raw, gateway.Message{Role: gateway.RoleAssistant, Content: blocks})
		}
	}

	var toolSpecs []gateway.ToolSpec
	for _, t := range root.Get("tools").Array() {
		fn := t.Get("function")
		toolSpecs = append(toolSpecs, gateway.ToolSpec{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
			Schema:      []byte(fn.Get("parameters").Raw),
		})
	}
	toolSpecs = tools.Process(toolSpecs)

	explicitBudget := int(root.Get("reasoning.max_tokens").Int())
	effort := root.Get("reasoning_effort").String()
	thinkingMode, thinkingBudget := DeriveThinking(root.Get("model").String(), explicitBudget, effort, "", nil)

	history, current := sanitizeAndSplit(raw)
	injectThinkingAndAdvisories(&current, thinkingMode, thinkingBudget, len(toolSpecs) > 0)

	maxTokens := int(root.Get("max_tokens").Int())
	if v := root.Get("max_completion_tokens"); v.Exists() {
		maxTokens = int(v.Int())
	}

	return &gateway.CanonicalPayload{
		ConversationID:     convIDs.Resolve(root.Get("user").String()),
		CurrentUserMessage: current,
		History:            withSystemPreamble(system.String(), history),
		Tools:              toolSpecs,
		Inference: gateway.InferenceConfig{
			Model:          NormalizeModel(root.Get("model").String()),
			MaxTokens:      maxTokens,
			Temperature:    optFloat(root, "temperature"),
			TopP:           optFloat(root, "top_p"),
			Stream:         root.Get("stream").Bool(),
			Thinking:       thinkingMode,
			ThinkingBudget: thinkingBudget,
		},
	}, nil
}

// ParseAnthropicRequest converts an Anthropic messages request body into a
// canonical payload (spec §4.2 forward transform).
func ParseAnthropicRequest(body []byte, convIDs *ConversationIDs, tools *ToolCache) (*gateway.CanonicalPayload, error) {
	root := gjson.ParseBytes(body)
	if !root.Exists() {
		return nil, gateway.ErrBadRequest
	}

	system := anthropicSystemText(root.Get("system"))

	var raw []gateway.Message
	for _, m := range root.Get("messages").Array() {
		role := gateway.RoleUser
		if m.Get("role").String() == "assistant" {
			role = gateway.RoleAssistant
		}
		raw = append(raw, gateway.Message{Role: role, Content: anthropicBlocks(m.Get("content"))})
	}

	var toolSpecs []gateway.ToolSpec
	for _, t := range root.Get("tools").Array() {
		toolSpecs = append(toolSpecs, gateway.ToolSpec{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			Schema:      []byte(t.Get("input_schema").Raw),
		})
	}
	toolSpecs = tools.Process(toolSpecs)

	anthropicType := root.Get("thinking.type").String()
	explicitBudget := int(root.Get("thinking.budget_tokens").Int())
	thinkingMode, thinkingBudget := DeriveThinking(root.Get("model").String(), explicitBudget, "", anthropicType, nil)

	history, current := sanitizeAndSplit(raw)
	injectThinkingAndAdvisories(&current, thinkingMode, thinkingBudget, len(toolSpecs) > 0)

	sessionID := root.Get("metadata.user_id").String()

	return &gateway.CanonicalPayload{
		ConversationID:     convIDs.Resolve(sessionID),
		CurrentUserMessage: current,
		History:            withSystemPreamble(system, history),
		Tools:              toolSpecs,
		Inference: gateway.InferenceConfig{
			Model:          NormalizeModel(root.Get("model").String()),
			MaxTokens:      int(root.Get("max_tokens").Int()),
			Temperature:    optFloat(root, "temperature"),
			TopP:           optFloat(root, "top_p"),
			Stream:         root.Get("stream").Bool(),
			Thinking:       thinkingMode,
			ThinkingBudget: thinkingBudget,
		},
	}, nil
}

func optFloat(root gjson.Result, field string) *float64 {
	v := root.Get(field)
	if !v.Exists() {
		return nil
	}
	f := v.Float()
	return &f
}

// withSystemPreamble prepends the synthetic user/assistant turn pair that
// lifts a non-empty system prompt into regular history (spec §4.2 "System
// prompt lifting").
func withSystemPreamble(system string, history []gateway.Message) []gateway.Message {
	if system == "" {
		return history
	}
	preamble := []gateway.Message{
		{Role: gateway.RoleUser, Content: []gateway.ContentBlock{{Kind: gateway.BlockText, Text: system}}},
		{Role: gateway.RoleAssistant, Content: []gateway.ContentBlock{{Kind: gateway.BlockText, Text: "Understood. I will follow these instructions."}}},
	}
	return append(preamble, history...)
}

// injectThinkingAndAdvisories prepends the synthetic tag block, tool-size
// advisory, and timestamp advisory to the current user message's leading
// text block (spec §4.2).
func injectThinkingAndAdvisories(current *gateway.Message, mode gateway.ThinkingMode, budget int, hasTools bool) {
	var prefix strings.Builder
	if mode != gateway.ThinkingDisabled {
		prefix.WriteString(ThinkingTagBlock(mode, budget))
	}
	if hasTools {
		prefix.WriteString(toolSizeAdvisoryBlock)
	}
	prefix.WriteString(TimestampBlock(time.Now().UTC().Format(time.RFC3339)))
	if prefix.Len() == 0 {
		return
	}
	for i := range current.Content {
		if current.Content[i].Kind == gateway.BlockText {
			current.Content[i].Text = prefix.String() + current.Content[i].Text
			return
		}
	}
	current.Content = append([]gateway.ContentBlock{{Kind: gateway.BlockText, Text: prefix.String()}}, current.Content...)
}

// --- OpenAI content parsing ---

func openaiContentText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	var b strings.Builder
	for _, part := range v.Array() {
		if part.Get("type").String() == "text" {
			b.WriteString(part.Get("text").String())
		}
	}
	return b.String()
}

func openaiUserBlocks(v gjson.Result) []gateway.ContentBlock {
	if v.Type == gjson.String {
		return []gateway.ContentBlock{{Kind: gateway.BlockText, Text: v.String()}}
	}
	var blocks []gateway.ContentBlock
	for _, part := range v.Array() {
		switch part.Get("type").String() {
		case "text":
			blocks = append(blocks, gateway.ContentBlock{Kind: gateway.BlockText, Text: part.Get("text").String()})
		case "image_url":
			url := part.Get("image_url.url").String()
			if format, data, ok := decodeDataURL(url); ok {
				blocks = append(blocks, gateway.ContentBlock{Kind: gateway.BlockImage, ImageFormat: format, ImageBytes: data})
			}
		}
	}
	return blocks
}

func openaiAssistantBlocks(m gjson.Result) []gateway.ContentBlock {
	var blocks []gateway.ContentBlock
	if text := openaiContentText(m.Get("content")); text != "" {
		blocks = append(blocks, gateway.ContentBlock{Kind: gateway.BlockText, Text: text})
	}
	for _, tc := range m.Get("tool_calls").Array() {
		blocks = append(blocks, gateway.ContentBlock{
			Kind:      gateway.BlockToolUse,
			ToolUseID: tc.Get("id").String(),
			ToolName:  tc.Get("function.name").String(),
			ToolInput: []byte(tc.Get("function.arguments").String()),
		})
	}
	return blocks
}

// --- Anthropic content parsing ---

func anthropicSystemText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	var b strings.Builder
	for _, part := range v.Array() {
		if part.Get("type").String() == "text" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(part.Get("text").String())
		}
	}
	return b.String()
}

func anthropicBlocks(v gjson.Result) []gateway.ContentBlock {
	if v.Type == gjson.String {
		return []gateway.ContentBlock{{Kind: gateway.BlockText, Text: v.String()}}
	}
	var blocks []gateway.ContentBlock
	for _, part := range v.Array() {
		switch part.Get("type").String() {
		case "text":
			blocks = append(blocks, gateway.ContentBlock{Kind: gateway.BlockText, Text: part.Get("text").String()})
		case "image":
			format := normalizeImageFormat(part.Get("source.media_type").String())
			data, _ := base64.StdEncoding.DecodeString(part.Get("source.data").String())
			blocks = append(blocks, gateway.ContentBlock{Kind: gateway.BlockImage, ImageFormat: format, ImageBytes: data})
		case "tool_use":
			blocks = append(blocks, gateway.ContentBlock{
				Kind:      gateway.BlockToolUse,
				ToolUseID: part.Get("id").String(),
				ToolName:  part.Get("name").String(),
				ToolInput: []byte(part.Get("input").Raw),
			})
		case "tool_result":
			blocks = append(blocks, gateway.ContentBlock{
				Kind:        gateway.BlockToolResult,
				ToolUseID:   part.Get("tool_use_id").String(),
				ToolResult:  anthropicToolResultText(part.Get("content")),
				ToolIsError: part.Get("is_error").Bool(),
			})
		}
	}
	return blocks
}

func anthropicToolResultText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	var b strings.Builder
	for _, part := range v.Array() {
		if part.Get("type").String() == "text" {
			b.WriteString(part.Get("text").String())
		}
	}
	return b.String()
}

// decodeDataURL parses a "data:image/<fmt>;base64,<data>" URL, normalizing
// "jpg" to "jpeg" (spec §4.2 "Image extraction").
func decodeDataURL(url string) (format string, data []byte, ok bool) {
	const prefix = "data:image/"
	if !strings.HasPrefix(url, prefix) {
		return "", nil, false
	}
	rest := url[len(prefix):]
	semi := strings.IndexByte(rest, ';')
	comma := strings.IndexByte(rest, ',')
	if semi < 0 || comma < 0 || comma < semi {
		return "", nil, false
	}
	format = normalizeImageFormat(rest[:semi])
	raw, err := base64.StdEncoding.DecodeString(rest[comma+1:])
	if err != nil {
		return "", nil, false
	}
	return format, raw, true
}

func normalizeImageFormat(format string) string {
	format = strings.ToLower(format)
	format = strings.TrimPrefix(format, "image/")
	if format == "jpg" {
		return "jpeg"
	}
	return format
}
