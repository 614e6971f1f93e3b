package eventstream

import (
	"strings"
	"testing"
)

func joinSegments(segs []Segment) (text, thinking string) {
	var tb, kb strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case SegmentText:
			tb.WriteString(s.Text)
		case SegmentThinking:
			kb.WriteString(s.Text)
		}
	}
	return tb.String(), kb.String()
}

// TestThinkingParserScenarioS2 exercises spec scenario S2: three chunks
// "<think", "ing>secret</think", "ing>\n\nanswer" must yield a thinking
// segment "secret" followed by a text segment "answer".
func TestThinkingParserScenarioS2(t *testing.T) {
	t.Parallel()

	p := NewThinkingParser()
	chunks := []string{"<think", "ing>secret</think", "ing>\n\nanswer"}

	var all []Segment
	for _, c := range chunks {
		all = append(all, p.Feed(c)...)
	}
	all = append(all, p.Flush()...)

	text, thinking := joinSegments(all)
	if thinking != "secret" {
		t.Fatalf("thinking = %q, want %q", thinking, "secret")
	}
	if text != "answer" {
		t.Fatalf("text = %q, want %q", text, "answer")
	}
}

func TestThinkingParserPlainText(t *testing.T) {
	t.Parallel()

	p := NewThinkingParser()
	segs := p.Feed("hello world")
	segs = append(segs, p.Flush()...)
	text, thinking := joinSegments(segs)
	if text != "hello world" || thinking != "" {
		t.Fatalf("got text=%q thinking=%q", text, thinking)
	}
}

func TestThinkingParserQuotedTagIsLiteral(t *testing.T) {
	t.Parallel()

	p := NewThinkingParser()
	segs := p.Feed(`The tag is "<thinking>" literally.`)
	segs = append(segs, p.Flush()...)
	text, thinking := joinSegments(segs)
	if thinking != "" {
		t.Fatalf("expected no thinking block, got %q", thinking)
	}
	if !strings.Contains(text, "<thinking>") {
		t.Fatalf("expected quoted tag preserved literally in text, got %q", text)
	}
}

// TestThinkingParserChunkInvariance exercises spec Invariant 3: splitting
// the same input into arbitrary chunks must yield the same concatenated
// text+thinking output as feeding it in one shot.
func TestThinkingParserChunkInvariance(t *testing.T) {
	t.Parallel()

	input := "before <thinking>reasoning about the problem in long form " +
		strings.Repeat("x", 400) + "</thinking>\n\nafter text"

	whole := NewThinkingParser()
	wantSegs := append(whole.Feed(input), whole.Flush()...)
	wantText, wantThinking := joinSegments(wantSegs)

	splitPoints := []int{1, 3, 7, 11, 50, 100, 300, 399, 400, 401}
	for _, n := range splitPoints {
		n := n
		t.Run("", func(t *testing.T) {
			t.Parallel()
			p := NewThinkingParser()
			var segs []Segment
			rest := input
			chunkSize := n
			if chunkSize < 1 {
				chunkSize = 1
			}
			for len(rest) > 0 {
				end := min(chunkSize, len(rest))
				segs = append(segs, p.Feed(rest[:end])...)
				rest = rest[end:]
			}
			segs = append(segs, p.Flush()...)
			gotText, gotThinking := joinSegments(segs)
			if gotText != wantText || gotThinking != wantThinking {
				t.Fatalf("chunk size %d: got text=%q thinking=%q, want text=%q thinking=%q",
					n, gotText, gotThinking, wantText, wantThinking)
			}
		})
	}
}

func TestThinkingParserOverflowGuard(t *testing.T) {
	t.Parallel()

	p := NewThinkingParser()
	var segs []Segment
	segs = append(segs, p.Feed("<thinking>")...)
	segs = append(segs, p.Feed(strings.Repeat("a", overflowLimit+1000))...)
	segs = append(segs, p.Flush()...)

	if p.inBlock {
		t.Fatal("expected overflow guard to force-exit the thinking block")
	}
	_, thinking := joinSegments(segs)
	if len(thinking) == 0 {
		t.Fatal("expected some thinking content before overflow")
	}
}
