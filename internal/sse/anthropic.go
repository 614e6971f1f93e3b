package sse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tbuijibing/KiroGate/internal/eventstream"
	"github.com/tbuijibing/KiroGate/internal/format"
)

const (
	keepAliveInterval = 25 * time.Second
	totalInactivity    = 300 * time.Second
)

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockToolUse
)

// RunAnthropic drains events, writing the Anthropic `message_*` /
// `content_block_*` SSE dialect, and returns the final accumulated usage
// (spec §4.4 "Anthropic state machine").
func RunAnthropic(ctx context.Context, w *Writer, id, model string, events <-chan eventstream.Event) *format.Accumulator {
	acc := format.NewAccumulator()

	writeJSON(w, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": id, "type": "message", "role": "assistant", "model": model,
			"content": []any{}, "stop_reason": nil, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})

	index := -1
	current := blockNone
	mb := newMicroBuffer()

	openBlock := func(kind blockKind, blockJSON map[string]any) {
		index++
		current = kind
		blockJSON["index"] = index
		writeJSON(w, "content_block_start", map[string]any{"type": "content_block_start", "index": index, "content_block": blockJSON})
	}

	flushDelta := func(deltaType, text string) {
		if text == "" {
			return
		}
		field := "text"
		if deltaType == "thinking_delta" {
			field = "thinking"
		}
		writeJSON(w, "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": index,
			"delta": map[string]any{"type": deltaType, field: text},
		})
	}

	closeBlock := func() {
		if current == blockNone {
			return
		}
		if (current == blockText || current == blockThinking) && mb.Pending() {
			deltaType := "text_delta"
			if current == blockThinking {
				deltaType = "thinking_delta"
			}
			flushDelta(deltaType, mb.Take())
		}
		writeJSON(w, "content_block_stop", map[string]any{"type": "content_block_stop", "index": index})
		current = blockNone
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	inactivity := time.NewTimer(totalInactivity)
	defer keepAlive.Stop()
	defer inactivity.Stop()

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if !inactivity.Stop() {
				<-inactivity.C
			}
			inactivity.Reset(totalInactivity)

			switch ev.Kind {
			case eventstream.KindText:
				if current != blockText {
					closeBlock()
					openBlock(blockText, map[string]any{"type": "text", "text": ""})
				}
				if mb.Add(ev.Text) {
					flushDelta("text_delta", mb.Take())
				}
			case eventstream.KindThinking:
				if current != blockThinking {
					closeBlock()
					openBlock(blockThinking, map[string]any{"type": "thinking", "thinking": ""})
				}
				if mb.Add(ev.Text) {
					flushDelta("thinking_delta", mb.Take())
				}
			case eventstream.KindToolUseStart:
				closeBlock()
				openBlock(blockToolUse, map[string]any{"type": "tool_use", "id": ev.ToolUseID, "name": ev.ToolName, "input": map[string]any{}})
			case eventstream.KindToolUseDelta:
				if current != blockToolUse {
					break
				}
				writeJSON(w, "content_block_delta", map[string]any{
					"type": "content_block_delta", "index": index,
					"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.ToolInputDelta},
				})
			case eventstream.KindToolUseStop:
				acc.Apply(ev)
				closeBlock()
			case eventstream.KindUsage, eventstream.KindMetering, eventstream.KindContextUsage:
				acc.Apply(ev)
			case eventstream.KindException:
				closeBlock()
				writeJSON(w, "error", map[string]any{"type": "error", "error": map[string]any{"type": "api_error", "message": ev.ExceptionType}})
				break loop
			}

		case <-keepAlive.C:
			w.Event("ping", []byte(`{"type":"ping"}`))

		case <-inactivity.C:
			break loop

		case <-ctx.Done():
			break loop
		}

		if w.Failed() {
			break loop
		}
	}

	closeBlock()

	writeJSON(w, "message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": acc.StopReason()},
		"usage": map[string]any{"input_tokens": acc.Usage.InputTokens, "output_tokens": acc.Usage.OutputTokens},
	})
	writeJSON(w, "message_stop", map[string]any{"type": "message_stop"})

	return acc
}

func writeJSON(w *Writer, event string, v map[string]any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return w.Event(event, b)
}
