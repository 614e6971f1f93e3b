package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/eventstream"
)

func testCredential() *gateway.Credential {
	return &gateway.Credential{ID: "c1", AccessToken: "tok", RefreshToken: "refresh"}
}

func encodeFrame(t *testing.T, eventType string, payload map[string]any) []byte {
	t.Helper()
	headers := eventstream.EncodeHeaderString(":event-type", eventType)
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return eventstream.EncodeFrame(headers, body)
}

func drain(result *StreamResult) []eventstream.Event {
	var events []eventstream.Event
	for e := range result.Events {
		events = append(events, e)
	}
	return events
}

func TestAttemptAndConsumeSuccess(t *testing.T) {
	t.Parallel()

	frame := encodeFrame(t, "assistantResponseEvent", map[string]any{"content": "hello"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(frame)
	}))
	defer srv.Close()

	c := New("us-east-1").withEndpoints([]endpointDef{{tag: "primary", urlTemplate: srv.URL + "/%s"}})

	result := c.Stream(context.Background(), testCredential(), "model", []byte(`{}`), false)
	events := drain(result)
	if result.Err() != nil {
		t.Fatalf("unexpected error: %v", result.Err())
	}
	if len(events) != 1 || events[0].Kind != eventstream.KindText || events[0].Text != "hello" {
		t.Fatalf("events = %+v", events)
	}
}

func TestRunQuotaExhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := New("us-east-1").withEndpoints([]endpointDef{{tag: "primary", urlTemplate: srv.URL + "/%s"}})

	result := c.Stream(context.Background(), testCredential(), "model", []byte(`{}`), false)
	drain(result)
	if result.Err() == nil {
		t.Fatal("expected quota error")
	}
}

func TestRunFailsOverOn429(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(encodeFrame(t, "assistantResponseEvent", map[string]any{"content": "ok"}))
	}))
	defer srv.Close()

	c := New("us-east-1").withEndpoints([]endpointDef{
		{tag: "primary", urlTemplate: srv.URL + "/%s"},
		{tag: "fips", urlTemplate: srv.URL + "/%s"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result := c.Stream(ctx, testCredential(), "model", []byte(`{}`), false)
	events := drain(result)
	if result.Err() != nil {
		t.Fatalf("unexpected error: %v", result.Err())
	}
	if len(events) != 1 || events[0].Text != "ok" {
		t.Fatalf("events = %+v", events)
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("calls = %d, want >= 2 (failover)", calls)
	}
}

func TestDeriveFingerprint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		fingerprint string
		wantMode   string
	}{
		{"empty falls back to vibe", "", "vibe"},
		{"64-hex stays spec", "ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34", "spec"},
		{"32-hex uuid doubles", "ab12cd34ab12cd34ab12cd34ab12cd34", "spec"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cred := &gateway.Credential{MachineFingerprint: tc.fingerprint, RefreshToken: "r"}
			fp, mode := deriveFingerprint(cred)
			if mode != tc.wantMode {
				t.Fatalf("mode = %q, want %q", mode, tc.wantMode)
			}
			if len(fp) != 64 {
				t.Fatalf("fingerprint length = %d, want 64", len(fp))
			}
		})
	}
}

func TestBackoffForCapsAtTwoSeconds(t *testing.T) {
	t.Parallel()
	if got := backoffFor(10); got != 2*time.Second {
		t.Fatalf("backoffFor(10) = %v, want 2s cap", got)
	}
	if got := backoffFor(0); got != 500*time.Millisecond {
		t.Fatalf("backoffFor(0) = %v, want 500ms", got)
	}
}
