// Package eventstream decodes the upstream's binary framed event-stream
// protocol into a sequence of typed events (spec §2, §3, §4.3): text
// delta, thinking delta, tool-use fragment, metadata, metering,
// context-usage, and exception.
package eventstream

import (
	"encoding/json"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// Kind identifies what an Event carries.
type Kind int

const (
	KindText Kind = iota
	KindThinking
	KindToolUseStart
	KindToolUseDelta
	KindToolUseStop
	KindUsage
	KindMetering
	KindContextUsage
	KindException
)

// ContentLengthExceededToolUseID is the synthetic tool-use id the decoder
// emits for an upstream ContentLengthExceededException, letting the SSE
// layer translate it into a max_tokens/length stop reason without a
// special-cased event kind (spec §4.3).
const ContentLengthExceededToolUseID = "__content_length_exceeded__"

// Event is one decoded occurrence from the upstream stream, delivered to
// callers in strict arrival order (spec §5 Ordering guarantees).
type Event struct {
	Kind Kind

	Text string // KindText (including formatted web links), KindThinking

	ToolUseID      string          // KindToolUseStart/Delta/Stop
	ToolName       string          // KindToolUseStart/Stop
	ToolInputDelta string          // KindToolUseDelta: raw JSON fragment
	ToolInputJSON  json.RawMessage // KindToolUseStop: parsed/repaired object

	Usage gateway.Usage // KindUsage: partial; fields set are authoritative

	Credits float64 // KindMetering

	ContextWindowExceeded bool // KindContextUsage

	ExceptionType string // KindException
}
