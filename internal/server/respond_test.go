package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

func TestErrorStatusAndTypeMapsSentinels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err        error
		wantStatus int
		wantType   string
	}{
		{gateway.ErrUnauthorized, http.StatusUnauthorized, "authentication_error"},
		{gateway.ErrForbidden, http.StatusForbidden, "permission_error"},
		{gateway.ErrModelNotAllowed, http.StatusForbidden, "permission_error"},
		{gateway.ErrNotFound, http.StatusNotFound, "not_found_error"},
		{gateway.ErrConflict, http.StatusConflict, "invalid_request_error"},
		{gateway.ErrRateLimited, http.StatusTooManyRequests, "rate_limit_error"},
		{gateway.ErrBadRequest, http.StatusBadRequest, "invalid_request_error"},
		{gateway.ErrQuotaExceeded, http.StatusTooManyRequests, "rate_limit_error"},
		{gateway.ErrCircuitOpen, 529, "overloaded_error"},
		{gateway.ErrNoCredential, 529, "overloaded_error"},
		{gateway.ErrPoolEmpty, 529, "overloaded_error"},
		{gateway.ErrUpstreamError, http.StatusBadGateway, "api_error"},
	}
	for _, tc := range cases {
		status, typ := errorStatusAndType(tc.err)
		if status != tc.wantStatus || typ != tc.wantType {
			t.Errorf("errorStatusAndType(%v) = (%d, %q), want (%d, %q)", tc.err, status, typ, tc.wantStatus, tc.wantType)
		}
	}
}

func TestErrorStatusAndTypeUnknownErrorIsServerError(t *testing.T) {
	t.Parallel()

	status, typ := errorStatusAndType(errUnmapped{})
	if status != http.StatusInternalServerError || typ != "server_error" {
		t.Errorf("errorStatusAndType(unmapped) = (%d, %q), want (500, server_error)", status, typ)
	}
}

type errUnmapped struct{}

func (errUnmapped) Error() string { return "unmapped" }

func TestWriteJSONSetsContentTypeAndStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"ok": "yes"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", rec.Header().Get("Content-Type"))
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["ok"] != "yes" {
		t.Errorf("body = %+v, want ok=yes", body)
	}
}

func TestErrorResponseShape(t *testing.T) {
	t.Parallel()

	e := errorResponse("bad input")
	if e.Error.Message != "bad input" || e.Error.Type != "invalid_request_error" {
		t.Errorf("errorResponse = %+v, want message=bad input type=invalid_request_error", e)
	}
}
