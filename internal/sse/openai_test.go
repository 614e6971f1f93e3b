package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/eventstream"
)

func TestRunOpenAITextDelta(t *testing.T) {
	t.Parallel()

	events := make(chan eventstream.Event, 4)
	events <- eventstream.Event{Kind: eventstream.KindText, Text: strings.Repeat("b", microBufferByteCap)}
	events <- eventstream.Event{Kind: eventstream.KindUsage, Usage: gateway.Usage{InputTokens: 7, OutputTokens: 3}}
	close(events)

	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	acc := RunOpenAI(context.Background(), w, "chatcmpl-1", "claude-sonnet-4-5", events)

	body := rec.Body.String()
	if !strings.Contains(body, `"role":"assistant"`) {
		t.Error("missing role-opening chunk")
	}
	if !strings.Contains(body, `"content":"`+strings.Repeat("b", microBufferByteCap)) {
		t.Error("missing flushed text content delta")
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Error("missing terminal sentinel")
	}
	if acc.Usage.InputTokens != 7 || acc.Usage.OutputTokens != 3 {
		t.Errorf("accumulated usage = %+v, want input=7 output=3", acc.Usage)
	}
}

func TestRunOpenAIToolCallDeltaUncapped(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("y", 2<<20)
	events := make(chan eventstream.Event, 4)
	events <- eventstream.Event{Kind: eventstream.KindToolUseStart, ToolUseID: "t1", ToolName: "search"}
	events <- eventstream.Event{Kind: eventstream.KindToolUseDelta, ToolInputDelta: big}
	events <- eventstream.Event{Kind: eventstream.KindToolUseStop, ToolUseID: "t1", ToolName: "search"}
	close(events)

	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	acc := RunOpenAI(context.Background(), w, "chatcmpl-1", "claude-sonnet-4-5", events)

	if !strings.Contains(rec.Body.String(), big) {
		t.Error("expected the full tool call argument delta to be forwarded")
	}
	if acc.FinishReason() != "tool_calls" {
		t.Errorf("finish reason = %q, want tool_calls", acc.FinishReason())
	}
}

func TestRunOpenAIToolDeltaBeforeStartIsIgnored(t *testing.T) {
	t.Parallel()

	events := make(chan eventstream.Event, 2)
	events <- eventstream.Event{Kind: eventstream.KindToolUseDelta, ToolInputDelta: "{}"}
	close(events)

	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	RunOpenAI(context.Background(), w, "chatcmpl-1", "claude-sonnet-4-5", events)

	if strings.Contains(rec.Body.String(), `"arguments":"{}"`) {
		t.Error("a tool-use delta with no preceding start must not be forwarded")
	}
}
