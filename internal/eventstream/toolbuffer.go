package eventstream

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	toolBufferCap   = 1 << 20 // 1 MiB per tool-use input buffer (spec §4.3)
	toolBufferStale = 60 * time.Second
)

// toolBuf accumulates one in-flight tool-use's input fragments until its
// stop flag arrives (spec §4.3).
type toolBuf struct {
	name      string
	buf       strings.Builder
	isObject  bool // true once an object fragment replaced the buffer
	object    json.RawMessage
	startedAt time.Time
	stopped   bool
}

// toolBuffers tracks every tool-use in flight for one request/stream.
type toolBuffers struct {
	bufs map[string]*toolBuf
	seen map[string]bool // dedup: never emit the same tool-use id twice
}

func newToolBuffers() *toolBuffers {
	return &toolBuffers{bufs: make(map[string]*toolBuf), seen: make(map[string]bool)}
}

// appendString appends a string input fragment, enforcing the per-buffer
// cap by silently dropping bytes beyond it.
func (t *toolBuf) appendString(s string) {
	if t.isObject {
		return
	}
	remaining := toolBufferCap - t.buf.Len()
	if remaining <= 0 {
		return
	}
	if len(s) > remaining {
		s = s[:remaining]
	}
	t.buf.WriteString(s)
}

// setObject replaces the buffer wholesale with an object input fragment
// (spec §4.3: "object input replaces").
func (t *toolBuf) setObject(raw json.RawMessage) {
	t.isObject = true
	t.object = raw
}

// resolve parses the accumulated input, repairing truncated JSON if a
// direct parse fails, falling back to an empty object as a last resort
// (spec §4.3).
func (t *toolBuf) resolve() json.RawMessage {
	if t.isObject && len(t.object) > 0 {
		if json.Valid(t.object) {
			return t.object
		}
		return repairJSON(string(t.object))
	}
	return repairJSON(t.buf.String())
}

// get returns the buffer for id, creating it (and signaling first-sighting
// so the caller can emit a synthetic start event) when absent.
func (t *toolBuffers) get(id, name string) (buf *toolBuf, firstSighting bool) {
	b, ok := t.bufs[id]
	if ok {
		if name != "" && b.name == "" {
			b.name = name
		}
		return b, false
	}
	b = &toolBuf{name: name, startedAt: time.Now()}
	t.bufs[id] = b
	return b, true
}

// markStopped records that id has already emitted its stop event, so a
// duplicate upstream "stop" (spec §9 Open Question 2) never emits twice.
func (t *toolBuffers) markStopped(id string) bool {
	if t.seen[id] {
		return false
	}
	t.seen[id] = true
	if b, ok := t.bufs[id]; ok {
		b.stopped = true
	}
	return true
}

// pruneStale returns the ids of buffers that haven't completed within the
// staleness window so the caller can flush them; the buffers themselves
// stay in the map (spec §4.3).
func (t *toolBuffers) pruneStale(now time.Time) []string {
	var stale []string
	for id, b := range t.bufs {
		if !b.stopped && now.Sub(b.startedAt) > toolBufferStale {
			stale = append(stale, id)
		}
	}
	return stale
}

// openIDs returns every tool-use id that has not yet stopped, in the order
// first sighted is not guaranteed but is stable for a single map snapshot;
// used at stream end to flush any still-open buffers (spec §4.3 Completion
// contract).
func (t *toolBuffers) openIDs() []string {
	var ids []string
	for id, b := range t.bufs {
		if !b.stopped {
			ids = append(ids, id)
		}
	}
	return ids
}

// repairJSON attempts to coerce a truncated or otherwise invalid JSON
// fragment into valid JSON by stripping a trailing incomplete escape and
// balancing any unterminated strings/braces/brackets (spec §4.3: "strip
// trailing high-surrogate, close strings, emit needed ] then }"). Falls
// back to an empty object if the repair still doesn't parse.
func repairJSON(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}

	fixed := balanceJSON(stripTrailingIncompleteEscape(raw))
	if json.Valid([]byte(fixed)) {
		return json.RawMessage(fixed)
	}
	return json.RawMessage("{}")
}

// stripTrailingIncompleteEscape trims a dangling backslash escape (a lone
// trailing '\' or an incomplete "\uXXXX" surrogate) that would otherwise
// make every repair attempt downstream invalid.
func stripTrailingIncompleteEscape(s string) string {
	idx := strings.LastIndexByte(s, '\\')
	if idx == -1 {
		return s
	}
	rest := s[idx:]
	if len(rest) == 1 {
		return s[:idx]
	}
	if rest[1] == 'u' && len(rest) < 6 {
		return s[:idx]
	}
	return s
}

// balanceJSON closes any string left open and appends the closing
// brace/bracket for every still-open '{'/'[' , in reverse nesting order.
func balanceJSON(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}
