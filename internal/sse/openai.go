package sse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tbuijibing/KiroGate/internal/eventstream"
	"github.com/tbuijibing/KiroGate/internal/format"
)

// RunOpenAI drains events, writing the OpenAI chat-completions SSE dialect
// (spec §4.4 "OpenAI state machine"), and returns the final accumulated
// usage.
func RunOpenAI(ctx context.Context, w *Writer, id, model string, events <-chan eventstream.Event) *format.Accumulator {
	acc := format.NewAccumulator()
	created := time.Now().Unix()

	writeChunk(w, map[string]any{
		"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"role": "assistant"}, "finish_reason": nil}},
	})

	textBuf := newMicroBuffer()
	thinkingBuf := newMicroBuffer()
	toolIndex := -1
	lastToolID := ""

	flushText := func() {
		if !textBuf.Pending() {
			return
		}
		writeChunk(w, map[string]any{
			"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": textBuf.Take()}, "finish_reason": nil}},
		})
	}
	flushThinking := func() {
		if !thinkingBuf.Pending() {
			return
		}
		writeChunk(w, map[string]any{
			"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"reasoning_content": thinkingBuf.Take()}, "finish_reason": nil}},
		})
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
				if thinkingBuf.Pending() {
					flushThinking()
				}
				if textBuf.Add(ev.Text) {
					flushText()
				}
			case eventstream.KindThinking:
				if textBuf.Pending() {
					flushText()
				}
				if thinkingBuf.Add(ev.Text) {
					flushThinking()
				}
			case eventstream.KindToolUseStart:
				flushText()
				flushThinking()
				toolIndex++
				lastToolID = ev.ToolUseID
				writeChunk(w, map[string]any{
					"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
					"choices": []map[string]any{{"index": 0, "delta": map[string]any{
						"tool_calls": []map[string]any{{
							"index": toolIndex, "id": ev.ToolUseID, "type": "function",
							"function": map[string]any{"name": ev.ToolName, "arguments": ""},
						}},
					}, "finish_reason": nil}},
				})
			case eventstream.KindToolUseDelta:
				if toolIndex < 0 {
					break
				}
				writeChunk(w, map[string]any{
					"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
					"choices": []map[string]any{{"index": 0, "delta": map[string]any{
						"tool_calls": []map[string]any{{
							"index": toolIndex, "id": lastToolID,
							"function": map[string]any{"arguments": ev.ToolInputDelta},
						}},
					}, "finish_reason": nil}},
				})
			case eventstream.KindToolUseStop:
				acc.Apply(ev)
			case eventstream.KindUsage, eventstream.KindMetering, eventstream.KindContextUsage:
				acc.Apply(ev)
			case eventstream.KindException:
				flushText()
				flushThinking()
				writeChunk(w, map[string]any{
					"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
					"choices": []map[string]any{{"index": 0, "delta": map[string]any{}, "finish_reason": "stop"}},
					"error":   map[string]any{"message": ev.ExceptionType, "type": "stream_error"},
				})
				break loop
			}

		case <-keepAlive.C:
			w.KeepAlive()

		case <-inactivity.C:
			break loop

		case <-ctx.Done():
			break loop
		}

		if w.Failed() {
			break loop
		}
	}

	flushText()
	flushThinking()

	usage := map[string]any{
		"prompt_tokens": acc.Usage.InputTokens, "completion_tokens": acc.Usage.OutputTokens,
		"total_tokens": acc.Usage.TotalTokens(),
	}
	if acc.Usage.CacheReadTokens > 0 {
		usage["prompt_tokens_details"] = map[string]any{"cached_tokens": acc.Usage.CacheReadTokens}
	}
	if acc.Thinking.Len() > 0 || acc.Usage.ReasoningTokens > 0 {
		usage["completion_tokens_details"] = map[string]any{"reasoning_tokens": acc.Usage.ReasoningTokens}
	}

	writeChunk(w, map[string]any{
		"id": id, "object": "chat.completion.chunk", "created": created, "model": model,
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{}, "finish_reason": acc.FinishReason()}},
		"usage":   usage,
	})
	w.Done()

	return acc
}

func writeChunk(w *Writer, v map[string]any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return w.Data(b)
}
