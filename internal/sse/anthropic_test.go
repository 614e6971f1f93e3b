package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/eventstream"
)

func TestRunAnthropicTextBlock(t *testing.T) {
	t.Parallel()

	events := make(chan eventstream.Event, 8)
	events <- eventstream.Event{Kind: eventstream.KindText, Text: strings.Repeat("a", microBufferByteCap)}
	events <- eventstream.Event{Kind: eventstream.KindUsage, Usage: gateway.Usage{InputTokens: 10, OutputTokens: 5}}
	close(events)

	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	acc := RunAnthropic(context.Background(), w, "msg_1", "claude-sonnet-4-5", events)

	body := rec.Body.String()
	if !strings.Contains(body, "event: message_start") {
		t.Error("missing message_start")
	}
	if !strings.Contains(body, `"type":"text"`) {
		t.Error("missing text content_block_start")
	}
	if !strings.Contains(body, "text_delta") {
		t.Error("missing text_delta")
	}
	if !strings.Contains(body, "event: message_stop") {
		t.Error("missing message_stop")
	}
	if acc.Usage.InputTokens != 10 || acc.Usage.OutputTokens != 5 {
		t.Errorf("accumulated usage = %+v, want input=10 output=5", acc.Usage)
	}
}

// TestRunAnthropicForwardsLargeToolUseDelta guards against a regression
// where tool-use input deltas past a size cap were silently dropped
// instead of forwarded to the client.
func TestRunAnthropicForwardsLargeToolUseDelta(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", 2<<20) // 2 MiB, larger than any prior buffer cap
	events := make(chan eventstream.Event, 4)
	events <- eventstream.Event{Kind: eventstream.KindToolUseStart, ToolUseID: "t1", ToolName: "search"}
	events <- eventstream.Event{Kind: eventstream.KindToolUseDelta, ToolInputDelta: big}
	events <- eventstream.Event{Kind: eventstream.KindToolUseStop, ToolUseID: "t1", ToolName: "search"}
	close(events)

	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	RunAnthropic(context.Background(), w, "msg_1", "claude-sonnet-4-5", events)

	if !strings.Contains(rec.Body.String(), big) {
		t.Error("expected the full tool-use input delta to be forwarded, found truncated or dropped output")
	}
}

func TestRunAnthropicExceptionEndsStream(t *testing.T) {
	t.Parallel()

	events := make(chan eventstream.Event, 2)
	events <- eventstream.Event{Kind: eventstream.KindText, Text: "partial"}
	events <- eventstream.Event{Kind: eventstream.KindException, ExceptionType: "ThrottlingException"}
	close(events)

	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	RunAnthropic(context.Background(), w, "msg_1", "claude-sonnet-4-5", events)

	body := rec.Body.String()
	if !strings.Contains(body, "ThrottlingException") {
		t.Error("expected the exception type in the error frame")
	}
	if !strings.Contains(body, `"type":"error"`) {
		t.Error("expected an error-typed SSE frame")
	}
}
