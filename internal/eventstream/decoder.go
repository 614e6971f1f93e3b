package eventstream

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/tokencount"
)

// Decoder turns a byte stream of binary event-stream frames into typed
// Events, resyncing across corrupt frames and tracking per-request state
// (tool buffers, thinking-parser residue, usage accumulation) needed to
// produce a single terminal completion (spec §4.3).
type Decoder struct {
	buf           []byte
	resyncRun     int
	totalResyncs  int
	tools         *toolBuffers
	thinking      *ThinkingParser
	thinkingOn    bool
	usage         gateway.Usage
	emittedSample []byte // capped sample of emitted text, for output-token estimate fallback
}

// NewDecoder creates a Decoder. thinkingEnabled controls whether
// reasoningContentEvent deltas are surfaced (spec §4.3).
func NewDecoder(thinkingEnabled bool) *Decoder {
	return &Decoder{
		tools:      newToolBuffers(),
		thinking:   NewThinkingParser(),
		thinkingOn: thinkingEnabled,
	}
}

// TotalResyncs returns how many corrupt-byte resyncs this decoder has
// performed so far (spec §8 Invariant 8 / scenario S6).
func (d *Decoder) TotalResyncs() int { return d.totalResyncs }

// ErrResyncExhausted is returned by Feed when five consecutive corrupt
// bytes fail to resync onto a valid frame (spec §4.3).
var ErrResyncExhausted = gateway.ErrStreamFailed

// Feed appends raw bytes read from the upstream response body and returns
// every Event decoded from the now-complete frames at the front of the
// buffer, in arrival order. It returns ErrResyncExhausted if five
// consecutive bytes fail to resync onto a valid frame.
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		f, consumed, result := parseFrame(d.buf)
		switch result {
		case resultIncomplete:
			return events, nil
		case resultCorrupt:
			d.buf = d.buf[1:]
			d.resyncRun++
			d.totalResyncs++
			if d.resyncRun >= maxResyncRuns {
				return events, ErrResyncExhausted
			}
			continue
		default:
			d.resyncRun = 0
			d.buf = d.buf[consumed:]
			events = append(events, d.dispatch(f)...)
		}
	}
}

// dispatch interprets one decoded frame's JSON payload according to its
// ":event-type" header (spec §4.3).
func (d *Decoder) dispatch(f frame) []Event {
	eventType := f.headers[":event-type"]
	payload := f.payload

	switch eventType {
	case "assistantResponseEvent":
		return d.onAssistantResponse(payload)
	case "toolUseEvent":
		return d.onToolUse(payload)
	case "messageMetadataEvent", "metadataEvent":
		return d.onMetadata(payload)
	case "meteringEvent":
		return d.onMetering(payload)
	case "contextUsageEvent":
		return d.onContextUsage(payload)
	case "reasoningContentEvent":
		return d.onReasoningContent(payload)
	case "supplementaryWebLinksEvent":
		return d.onSupplementaryWebLinks(payload)
	case "exceptionEvent":
		return d.onException(payload)
	default:
		return nil
	}
}

func (d *Decoder) segmentsToEvents(segs []Segment) []Event {
	events := make([]Event, 0, len(segs))
	for _, s := range segs {
		switch s.Kind {
		case SegmentText:
			d.recordEmitted(s.Text)
			events = append(events, Event{Kind: KindText, Text: s.Text})
		case SegmentThinking:
			events = append(events, Event{Kind: KindThinking, Text: s.Text})
		}
	}
	return events
}

func (d *Decoder) recordEmitted(s string) {
	if len(d.emittedSample) < 8192 {
		d.emittedSample = append(d.emittedSample, s...)
	}
}

func (d *Decoder) onAssistantResponse(payload []byte) []Event {
	content := gjson.GetBytes(payload, "content").String()
	if content == "" {
		return nil
	}
	return d.segmentsToEvents(d.thinking.Feed(content))
}

func (d *Decoder) onReasoningContent(payload []byte) []Event {
	if !d.thinkingOn {
		return nil
	}
	content := gjson.GetBytes(payload, "content").String()
	if content == "" {
		return nil
	}
	return []Event{{Kind: KindThinking, Text: content}}
}

func (d *Decoder) onToolUse(payload []byte) []Event {
	id := gjson.GetBytes(payload, "toolUseId").String()
	if id == "" {
		return nil
	}
	name := gjson.GetBytes(payload, "name").String()
	stop := gjson.GetBytes(payload, "stop").Bool()

	buf, firstSighting := d.tools.get(id, name)
	var events []Event
	if firstSighting {
		events = append(events, Event{Kind: KindToolUseStart, ToolUseID: id, ToolName: name})
	}

	if input := gjson.GetBytes(payload, "input"); input.Exists() {
		switch input.Type {
		case gjson.String:
			buf.appendString(input.String())
			events = append(events, Event{Kind: KindToolUseDelta, ToolUseID: id, ToolInputDelta: input.String()})
		case gjson.JSON:
			raw := json.RawMessage(input.Raw)
			buf.setObject(raw)
			events = append(events, Event{Kind: KindToolUseDelta, ToolUseID: id, ToolInputDelta: input.Raw})
		}
	}

	if stop && d.tools.markStopped(id) {
		events = append(events, Event{Kind: KindToolUseStop, ToolUseID: id, ToolName: buf.name, ToolInputJSON: buf.resolve()})
	}
	return events
}

func (d *Decoder) onMetadata(payload []byte) []Event {
	r := gjson.ParseBytes(payload)
	u := gateway.Usage{}

	if total := r.Get("totalTokens"); total.Exists() {
		output := int(r.Get("outputTokens").Int())
		u.OutputTokens = output
		u.InputTokens = int(total.Int()) - output
	} else {
		u.InputTokens = int(r.Get("uncachedInputTokens").Int()) +
			int(r.Get("cacheReadInputTokens").Int()) +
			int(r.Get("cacheWriteInputTokens").Int())
		u.OutputTokens = int(r.Get("outputTokens").Int())
	}
	u.CacheReadTokens = int(r.Get("cacheReadInputTokens").Int())
	u.CacheWriteTokens = int(r.Get("cacheWriteInputTokens").Int())

	d.usage.InputTokens += u.InputTokens
	d.usage.OutputTokens += u.OutputTokens
	d.usage.CacheReadTokens += u.CacheReadTokens
	d.usage.CacheWriteTokens += u.CacheWriteTokens

	return []Event{{Kind: KindUsage, Usage: u}}
}

func (d *Decoder) onMetering(payload []byte) []Event {
	credits := gjson.GetBytes(payload, "credits").Float()
	d.usage.Credits += credits
	return []Event{{Kind: KindMetering, Credits: credits}}
}

func (d *Decoder) onContextUsage(payload []byte) []Event {
	pct := gjson.GetBytes(payload, "percentage").Float()
	exceeded := pct >= 100
	if exceeded {
		d.usage.ContextWindowExceeded = true
	}
	return []Event{{Kind: KindContextUsage, ContextWindowExceeded: exceeded}}
}

func (d *Decoder) onSupplementaryWebLinks(payload []byte) []Event {
	links := gjson.GetBytes(payload, "links")
	if !links.IsArray() {
		return nil
	}
	text := "\n\n"
	links.ForEach(func(_, link gjson.Result) bool {
		title := link.Get("title").String()
		url := link.Get("url").String()
		if title == "" {
			title = url
		}
		text += "- [" + title + "](" + url + ")\n"
		return true
	})
	d.recordEmitted(text)
	return []Event{{Kind: KindText, Text: text}}
}

func (d *Decoder) onException(payload []byte) []Event {
	excType := gjson.GetBytes(payload, "type").String()
	if excType == "" {
		excType = gjson.GetBytes(payload, "name").String()
	}
	if excType == "ContentLengthExceededException" {
		return []Event{{Kind: KindToolUseStop, ToolUseID: ContentLengthExceededToolUseID, ExceptionType: excType}}
	}
	return []Event{{Kind: KindException, ExceptionType: excType}}
}

// Close flushes any residual thinking-parser buffer and still-open tool
// buffers (repairing their input JSON), finalizes usage — estimating
// OutputTokens from emitted text when the upstream never reported it
// (spec §4.3, §4.5) — and returns the terminal events plus final usage.
// It must be called exactly once, after the upstream signals end-of-stream
// (spec §4.3 Completion contract).
func (d *Decoder) Close() ([]Event, gateway.Usage) {
	var events []Event

	events = append(events, d.segmentsToEvents(d.thinking.Flush())...)

	for _, id := range d.tools.openIDs() {
		if !d.tools.markStopped(id) {
			continue
		}
		buf := d.tools.bufs[id]
		events = append(events, Event{Kind: KindToolUseStop, ToolUseID: id, ToolName: buf.name, ToolInputJSON: buf.resolve()})
	}

	if d.usage.OutputTokens == 0 && len(d.emittedSample) > 0 {
		d.usage.OutputTokens = tokencount.Count(string(d.emittedSample))
	}

	return events, d.usage
}

// PruneStaleTools flushes (with JSON repair) any tool buffer that has sat
// open longer than the staleness window without a stop flag, returning
// their flush events (spec §4.3).
func (d *Decoder) PruneStaleTools(now time.Time) []Event {
	var events []Event
	for _, id := range d.tools.pruneStale(now) {
		if !d.tools.markStopped(id) {
			continue
		}
		buf := d.tools.bufs[id]
		events = append(events, Event{Kind: KindToolUseStop, ToolUseID: id, ToolName: buf.name, ToolInputJSON: buf.resolve()})
	}
	return events
}
