package compressor

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

const (
	maxBatchMessages = 8
	maxBatchChars    = 40_000
	summarizerLimit  = 3
)

// selectBoundary walks forward from max(0, len-keep-toolLookback) to find a
// safe cut point that does not split an assistant tool-use / user
// tool-result pair, always cutting after the matching tool-result (spec
// §4.6 Boundary selection). Returns the index such that messages[:boundary]
// is compressed and messages[boundary:] is preserved verbatim.
func selectBoundary(messages []gateway.Message, keep, toolLookback int) int {
	n := len(messages)
	start := n - keep - toolLookback
	if start < 0 {
		start = 0
	}
	for i := start; i < n; i++ {
		if isSafeCutBefore(messages, i) {
			return i
		}
	}
	return n
}

// isSafeCutBefore reports whether cutting the history immediately before
// index i is safe: i is 0, or the preceding message is not an assistant
// tool-use awaiting its paired tool-result.
func isSafeCutBefore(messages []gateway.Message, i int) bool {
	if i == 0 {
		return true
	}
	prev := messages[i-1]
	return !(prev.Role == gateway.RoleAssistant && hasToolUse(prev))
}

func hasToolUse(m gateway.Message) bool {
	for _, b := range m.Content {
		if b.Kind == gateway.BlockToolUse {
			return true
		}
	}
	return false
}

func messageChars(m gateway.Message) int {
	n := 0
	for _, b := range m.Content {
		n += len(b.Text) + len(b.ToolResult) + len(b.ToolInput) + len(b.ToolName)
	}
	return n
}

// splitBatches partitions a compressible prefix into batches of at most
// maxMsgs messages and maxChars characters, never splitting a message pair
// that includes a tool call (spec §4.6 Batching).
func splitBatches(messages []gateway.Message, maxMsgs, maxChars int) [][]gateway.Message {
	if len(messages) == 0 {
		return nil
	}
	var batches [][]gateway.Message
	var cur []gateway.Message
	curChars := 0

	for i, m := range messages {
		mChars := messageChars(m)
		overflowing := len(cur) > 0 && (len(cur) >= maxMsgs || curChars+mChars > maxChars)
		if overflowing && isSafeCutBefore(messages, i) {
			batches = append(batches, cur)
			cur = nil
			curChars = 0
		}
		cur = append(cur, m)
		curChars += mChars
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// summarizeChain runs each batch's summarization through c.summarizer,
// threading the previous batch's summary forward as chaining context, with
// at most summarizerLimit calls in flight at once (spec §4.6: "Summarize
// batches concurrently ... with a concurrency cap of 3, chaining"). Each
// stage blocks on the channel fed by its predecessor, so the cap bounds how
// many batches may be mid-call (prompt built, summarizer invoked, result
// not yet consumed) simultaneously rather than permitting the chain to run
// fully in parallel.
func (c *Compressor) summarizeChain(ctx context.Context, batches [][]gateway.Message) ([]string, error) {
	n := len(batches)
	summaries := make([]string, n)
	links := make([]chan string, n+1)
	for i := range links {
		links[i] = make(chan string, 1)
	}
	links[0] <- ""

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summarizerLimit)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			var prior string
			select {
			case prior = <-links[i]:
			case <-gctx.Done():
				return gctx.Err()
			}

			summary, err := c.summarizer.Summarize(gctx, prior, batches[i])
			if err != nil {
				summary = fallbackSummary(batches[i])
			}
			summaries[i] = summary
			links[i+1] <- summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// fallbackSummary is the truncated raw-text fallback used when a single
// batch's summarization call fails (spec §4.6 Batching: "If a batch fails,
// use a truncated raw-text fallback").
func fallbackSummary(batch []gateway.Message) string {
	const maxLen = 2000
	var sb strings.Builder
	for _, m := range batch {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(messageText(m))
		sb.WriteString("\n")
	}
	s := sb.String()
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
