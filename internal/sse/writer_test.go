package sse

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriterDataAndEvent(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if !w.Data([]byte(`{"a":1}`)) {
		t.Fatal("Data returned false")
	}
	if !w.Event("message_stop", []byte(`{"type":"message_stop"}`)) {
		t.Fatal("Event returned false")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: {\"a\":1}\n\n") {
		t.Errorf("body missing unnamed data frame: %q", body)
	}
	if !strings.Contains(body, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n") {
		t.Errorf("body missing named event frame: %q", body)
	}
}

func TestWriterDoneAndKeepAlive(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	w.KeepAlive()
	w.Done()

	body := rec.Body.String()
	if !strings.Contains(body, ": keep-alive\n\n") {
		t.Error("missing keep-alive comment")
	}
	if !strings.Contains(body, "data: [DONE]\n\n") {
		t.Error("missing terminal sentinel")
	}
}

// failingWriter errors on every Write, simulating a client that has gone away.
type failingWriter struct{ *httptest.ResponseRecorder }

func (f *failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestWriterFailedStateIsSticky(t *testing.T) {
	t.Parallel()

	fw := &failingWriter{httptest.NewRecorder()}
	w := NewWriter(fw)

	if w.Failed() {
		t.Fatal("should not be failed before any write")
	}
	if w.Data([]byte("x")) {
		t.Fatal("expected first failing write to report false")
	}
	if !w.Failed() {
		t.Fatal("expected Failed() to latch true after a write error")
	}
	// A subsequent write must not even attempt the broken writer.
	if w.Event("e", []byte("y")) {
		t.Fatal("expected write after failure to stay false")
	}
}
